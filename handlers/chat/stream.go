package chat

import (
	"context"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/services"
)

// StreamClientMessage is a frame a stream client may send
type StreamClientMessage struct {
	Type string `json:"type"` // "send"
	Text string `json:"text"`
}

// StreamError is written before the socket closes when the stream cannot start
type StreamError struct {
	Error string `json:"error"`
}

// RequireUpgrade rejects plain HTTP requests to websocket routes
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream handles GET /api/v1/chat/conversations/:peerId/stream. Every change of the open
// conversation is written as a FeedUpdate; clients send {"type":"send","text":...} frames.
// The conversation is closed when the socket ends unless another stream still watches it.
func (h *ChatHandler) Stream(conn *websocket.Conn) {
	session, ok := conn.Locals("session").(*services.Session)
	if !ok || session == nil {
		_ = conn.WriteJSON(StreamError{Error: "User not authenticated"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view, updates, stop, err := session.WatchConversation(ctx, conn.Params("peerId"))
	if err != nil {
		_ = conn.WriteJSON(StreamError{Error: err.Error()})
		return
	}
	defer stop()

	// Read pump; the write loop below is the only writer
	go func() {
		defer cancel()
		for {
			var msg StreamClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "send" {
				continue
			}
			if _, err := view.SendText(ctx, msg.Text); err != nil {
				log.Printf("Warning: stream send to %s failed: %v", view.PeerID, err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				// The view was closed: another conversation was opened or this one was left
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}
