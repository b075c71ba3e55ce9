package session

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/auth"
	"github.com/sahilchouksey/school-connect/utils/middleware"
	"github.com/sahilchouksey/school-connect/utils/response"
)

// SessionHandler exposes the caller's resolved identity and sign-out
type SessionHandler struct {
	registry  *services.SessionRegistry
	blacklist *auth.BlacklistService
}

// NewSessionHandler creates a new session handler. blacklist may be nil.
func NewSessionHandler(registry *services.SessionRegistry, blacklist *auth.BlacklistService) *SessionHandler {
	return &SessionHandler{registry: registry, blacklist: blacklist}
}

// MeResponse is the identity a session resolved for its device
type MeResponse struct {
	NodeKey        string     `json:"nodeKey"`
	UserID         string     `json:"userId"`
	StudentNodeKey string     `json:"studentNodeKey,omitempty"`
	Role           model.Role `json:"role"`
	DeviceID       string     `json:"deviceId"`
	Resolved       bool       `json:"resolved"`
}

// Me handles GET /api/v1/me
func (h *SessionHandler) Me(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	return response.Success(c, MeResponse{
		NodeKey:        session.Viewer.NodeKey,
		UserID:         session.UserID,
		StudentNodeKey: session.Viewer.StudentNodeKey,
		Role:           session.Viewer.Role,
		DeviceID:       session.Viewer.DeviceKey(),
		Resolved:       session.UserID != "",
	})
}

// Logout handles POST /api/v1/session/logout: revokes the token and ends the device session
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	if claims, ok := middleware.GetClaims(c); ok && h.blacklist != nil && claims.ExpiresAt != nil {
		if err := h.blacklist.RevokeToken(c.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			log.Printf("Error: failed to revoke token %s: %v", claims.ID, err)
			return response.InternalServerError(c, "Failed to sign out, please retry")
		}
	}

	h.registry.Remove(viewer)
	return response.SuccessWithMessage(c, "Signed out", nil)
}
