package services

import (
	"context"
	"log"
	"strings"

	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/utils/cache"
	"golang.org/x/sync/singleflight"
)

type userReader interface {
	GetUser(ctx context.Context, nodeKey string) (*model.User, error)
}

// IdentityResolver maps the identity keys cached on a device to the logical user id
type IdentityResolver struct {
	users userReader
	group singleflight.Group
}

// NewIdentityResolver creates a resolver shared by every session
func NewIdentityResolver(users userReader) *IdentityResolver {
	return &IdentityResolver{users: users}
}

// ResolveCurrentUserID tries the cached logical id, then each cached node key.
// A node key is resolved with one user read; concurrent callers share it.
// Returns false only when the device holds no identity key at all.
func (r *IdentityResolver) ResolveCurrentUserID(ctx context.Context, device cache.DeviceStore) (string, bool) {
	if id := readDeviceKey(ctx, device, cache.KeyUserID); id != "" {
		return id, true
	}

	for _, key := range []string{cache.KeyUserNodeKey, cache.KeyNodeKey} {
		if nodeKey := readDeviceKey(ctx, device, key); nodeKey != "" {
			return r.resolveNodeKey(ctx, nodeKey), true
		}
	}

	return "", false
}

func (r *IdentityResolver) resolveNodeKey(ctx context.Context, nodeKey string) string {
	v, err, _ := r.group.Do(nodeKey, func() (interface{}, error) {
		user, err := r.users.GetUser(ctx, nodeKey)
		if err != nil {
			return nil, err
		}
		return user.EffectiveUserID(), nil
	})
	if err != nil {
		log.Printf("Warning: failed to resolve user %s, using node key: %v", nodeKey, err)
		return nodeKey
	}
	return v.(string)
}

func readDeviceKey(ctx context.Context, device cache.DeviceStore, key string) string {
	v, err := device.Get(ctx, key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}
