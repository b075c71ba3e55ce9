package feed

import (
	"bufio"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/middleware"
	"github.com/sahilchouksey/school-connect/utils/response"
	"github.com/sahilchouksey/school-connect/utils/sse"
)

const keepAliveInterval = 25 * time.Second

// FeedHandler handles the school announcement feed
type FeedHandler struct{}

// NewFeedHandler creates a new feed handler
func NewFeedHandler() *FeedHandler {
	return &FeedHandler{}
}

func (h *FeedHandler) paginator(c *fiber.Ctx) (*services.FeedPaginator, error) {
	session, ok := middleware.GetSession(c)
	if !ok {
		return nil, response.Unauthorized(c, "User not authenticated")
	}

	feed, err := session.Feed(c.Context())
	if err != nil {
		if errors.Is(err, services.ErrSessionClosed) {
			return nil, response.Gone(c, "")
		}
		log.Printf("Error: failed to start feed: %v", err)
		return nil, response.InternalServerError(c, "Failed to load feed")
	}
	return feed, nil
}

// GetFeed handles GET /api/v1/feed
func (h *FeedHandler) GetFeed(c *fiber.Ctx) error {
	feed, err := h.paginator(c)
	if feed == nil {
		return err
	}
	return response.Success(c, feed.Snapshot())
}

// LoadMore handles POST /api/v1/feed/more. Calling it with nothing left is a no-op.
func (h *FeedHandler) LoadMore(c *fiber.Ctx) error {
	feed, err := h.paginator(c)
	if feed == nil {
		return err
	}

	if err := feed.LoadMore(c.Context()); err != nil {
		log.Printf("Error: failed to load more posts: %v", err)
		return response.InternalServerError(c, "Failed to load older posts, please retry")
	}
	return response.Success(c, feed.Snapshot())
}

// ToggleLike handles POST /api/v1/feed/posts/:postId/like
func (h *FeedHandler) ToggleLike(c *fiber.Ctx) error {
	feed, err := h.paginator(c)
	if feed == nil {
		return err
	}

	post, err := feed.ToggleLike(c.Context(), c.Params("postId"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoIdentity):
			return response.Conflict(c, "No user identity is available for this device")
		case errors.Is(err, services.ErrPostNotLoaded), errors.Is(err, database.ErrNotFound):
			return response.NotFound(c, "Post not found in the loaded feed")
		}
		// The post already shows the re-read state
		return response.ErrorWithDetails(c, fiber.StatusInternalServerError,
			"Failed to update like, please retry", "LIKE_FAILED", post.PostID)
	}
	return response.Success(c, post)
}

// Stream handles GET /api/v1/feed/stream as server-sent snapshots
func (h *FeedHandler) Stream(c *fiber.Ctx) error {
	feed, err := h.paginator(c)
	if feed == nil {
		return err
	}

	updates, stop := feed.Watch()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stop()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if err := sse.SendSnapshot(w, snap); err != nil {
					return
				}
			case <-ticker.C:
				// A failed write means the client went away
				if err := sse.SendKeepAlive(w); err != nil {
					return
				}
			}
		}
	})
	return nil
}
