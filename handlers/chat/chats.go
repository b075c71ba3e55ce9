package chat

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/middleware"
	"github.com/sahilchouksey/school-connect/utils/response"
	"github.com/sahilchouksey/school-connect/utils/validation"
)

const maxImageBytes = 10 << 20

// ChatHandler handles contact directory and conversation requests
type ChatHandler struct {
	registry  *services.SessionRegistry
	validator *validation.Validator
}

// NewChatHandler creates a new chat handler
func NewChatHandler(registry *services.SessionRegistry) *ChatHandler {
	return &ChatHandler{
		registry:  registry,
		validator: validation.NewValidator(),
	}
}

// LocateRequest represents the request to find (and optionally create) a conversation
type LocateRequest struct {
	PeerID string `json:"peer_id" validate:"required,notblank,max=128"`
	Create bool   `json:"create"`
}

// SendMessageRequest represents the request to send a text message
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,notblank,max=4000"`
}

// ContactsResponse is the merged directory and when it was last persisted
type ContactsResponse struct {
	Contacts  []model.Contact `json:"contacts"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
}

// serviceError maps service sentinels to responses
func serviceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrNoIdentity):
		return response.Conflict(c, "No user identity is available for this device")
	case errors.Is(err, services.ErrInvalidParticipants):
		return response.BadRequest(c, "A conversation needs two distinct participants")
	case errors.Is(err, services.ErrEmptyMessage):
		return response.BadRequest(c, "Message text is empty")
	case errors.Is(err, services.ErrSessionClosed):
		return response.Gone(c, "")
	case errors.Is(err, database.ErrNotFound):
		return response.NotFound(c, "")
	default:
		log.Printf("Error: %s: %v", fallback, err)
		return response.InternalServerError(c, fallback+", please retry")
	}
}

// ListContacts handles GET /api/v1/chat/contacts
func (h *ChatHandler) ListContacts(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	contacts, err := session.Directory.BuildContactDirectory(c.Context(), session.StudentContext())
	if err != nil {
		return serviceError(c, err, "Failed to build contact directory")
	}

	merged, err := session.Contacts.MergeAndPersist(c.Context(), contacts)
	if err != nil {
		return serviceError(c, err, "Failed to merge contacts")
	}

	return response.Success(c, ContactsResponse{Contacts: merged})
}

// CachedContacts handles GET /api/v1/chat/contacts/cached
func (h *ChatHandler) CachedContacts(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	snapshot, err := session.Contacts.Load(c.Context())
	if err != nil {
		return serviceError(c, err, "Failed to load cached contacts")
	}

	resp := ContactsResponse{Contacts: snapshot.Contacts}
	if !snapshot.FetchedAt.IsZero() {
		resp.FetchedAt = &snapshot.FetchedAt
	}
	return response.Success(c, resp)
}

// LocateConversation handles POST /api/v1/chat/conversations
func (h *ChatHandler) LocateConversation(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req LocateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if session.UserID == "" {
		return serviceError(c, services.ErrNoIdentity, "")
	}

	id, err := h.registry.Conversations().Locate(c.Context(), session.UserID, validation.SanitizeString(req.PeerID), req.Create)
	if err != nil {
		return serviceError(c, err, "Failed to locate conversation")
	}
	if id == "" {
		return response.NotFound(c, "Conversation does not exist yet")
	}

	return response.Success(c, fiber.Map{"conversationId": id})
}

// GetMessages handles GET /api/v1/chat/conversations/:peerId/messages.
// Reading marks the peer's messages seen. The view stays open only while a stream
// of the same conversation is attached.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	view, err := session.OpenConversation(c.Context(), c.Params("peerId"))
	if err != nil {
		return serviceError(c, err, "Failed to open conversation")
	}
	defer session.ReleaseConversation(view)

	view.MarkSeen()
	return response.Success(c, view.Snapshot())
}

// CloseConversation handles DELETE /api/v1/chat/conversations/:peerId. It leaves the
// chat: attached streams end and later replies count as unread.
func (h *ChatHandler) CloseConversation(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	closed := session.CloseConversation(c.Params("peerId"))
	return response.Success(c, fiber.Map{"closed": closed})
}

// SendMessage handles POST /api/v1/chat/conversations/:peerId/messages
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	view, err := session.OpenConversation(c.Context(), c.Params("peerId"))
	if err != nil {
		return serviceError(c, err, "Failed to open conversation")
	}
	defer session.ReleaseConversation(view)

	msg, err := view.SendText(c.Context(), validation.SanitizeString(req.Text))
	if err != nil {
		// The optimistic message stays in the view while a stream is attached
		return serviceError(c, err, "Failed to send message")
	}

	return response.Created(c, msg)
}

// SendImage handles POST /api/v1/chat/conversations/:peerId/images (multipart "file")
func (h *ChatHandler) SendImage(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "Missing image file")
	}
	if header.Size > maxImageBytes {
		return response.BadRequest(c, "Image is too large")
	}

	file, err := header.Open()
	if err != nil {
		return response.BadRequest(c, "Unreadable image file")
	}
	defer file.Close()

	view, err := session.OpenConversation(c.Context(), c.Params("peerId"))
	if err != nil {
		return serviceError(c, err, "Failed to open conversation")
	}
	defer session.ReleaseConversation(view)

	localURI := c.FormValue("local_uri", "upload://"+header.Filename)
	msg, err := view.SendImage(c.Context(), localURI, header.Filename, file)
	if err != nil {
		return serviceError(c, err, "Failed to send image")
	}

	return response.Created(c, msg)
}
