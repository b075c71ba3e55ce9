package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/auth"
	"github.com/sahilchouksey/school-connect/utils/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager       *auth.JWTManager
	blacklistService *auth.BlacklistService
}

// NewAuthMiddleware creates a new auth middleware. blacklist may be nil when Redis is unavailable.
func NewAuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.BlacklistService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:       jwtManager,
		blacklistService: blacklist,
	}
}

// bearerToken reads "Bearer <token>" from the Authorization header. Websocket clients that
// cannot set headers pass the token in the "token" query parameter instead.
// The second result is the rejection message when no usable token is present.
func bearerToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "Missing authorization token"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format"
	}
	return parts[1], ""
}

// Required is middleware that requires a valid JWT token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, reason := bearerToken(c)
		if reason != "" {
			return response.Unauthorized(c, reason)
		}

		claims, err := m.jwtManager.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				return response.Unauthorized(c, "Token has expired")
			}
			return response.Unauthorized(c, "Invalid token")
		}

		// Check if token is revoked (blacklisted)
		if m.blacklistService != nil {
			isRevoked, err := m.blacklistService.IsTokenRevoked(c.Context(), claims.ID)
			if err != nil {
				return response.InternalServerError(c, "Failed to check token status")
			}
			if isRevoked {
				return response.Unauthorized(c, "Token has been revoked")
			}
		}

		c.Locals("claims", claims)
		c.Locals("viewer", services.Viewer{
			NodeKey:        claims.NodeKey,
			UserID:         claims.UserID,
			StudentNodeKey: claims.StudentNodeKey,
			Role:           model.Role(claims.Role),
			DeviceID:       claims.DeviceID,
		})
		c.Locals("token_jti", claims.ID)

		return c.Next()
	}
}

// RequireRole is middleware that requires one of roles. Use after Required.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		viewer, ok := GetViewer(c)
		if !ok {
			return response.Forbidden(c, "Access denied")
		}

		for _, r := range roles {
			if viewer.Role == r {
				return c.Next()
			}
		}

		return response.Forbidden(c, "Insufficient permissions")
	}
}

// GetViewer extracts the authenticated viewer from context
func GetViewer(c *fiber.Ctx) (services.Viewer, bool) {
	viewer, ok := c.Locals("viewer").(services.Viewer)
	return viewer, ok
}

// GetClaims extracts full claims from context
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims := c.Locals("claims")
	if claims == nil {
		return nil, false
	}
	claimsData, ok := claims.(*auth.Claims)
	return claimsData, ok
}

// GetTokenJTI extracts the token JTI from context
func GetTokenJTI(c *fiber.Ctx) (string, bool) {
	jti := c.Locals("token_jti")
	if jti == nil {
		return "", false
	}
	j, ok := jti.(string)
	return j, ok
}
