package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/school-connect/utils/cache"
)

const revokedPrefix = "revoked:"

// BlacklistService handles JWT token revocation. Entries expire with the token they revoke.
type BlacklistService struct {
	cache *cache.RedisCache
	now   func() time.Time
}

// NewBlacklistService creates a new blacklist service
func NewBlacklistService(c *cache.RedisCache) *BlacklistService {
	return &BlacklistService{cache: c, now: time.Now}
}

// RevokeToken adds a token to the blacklist until it would have expired anyway
func (s *BlacklistService) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, revokedPrefix+jti, "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked checks if a token is in the blacklist
func (s *BlacklistService) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.cache.Get(ctx, revokedPrefix+jti)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	return false, err
}
