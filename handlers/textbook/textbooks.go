package textbook

import (
	"bufio"
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/middleware"
	"github.com/sahilchouksey/school-connect/utils/response"
	"github.com/sahilchouksey/school-connect/utils/sse"
)

const progressInterval = 500 * time.Millisecond

// TextbookHandler handles the library and offline chapter downloads
type TextbookHandler struct {
	textbooks *services.TextbookService
}

// NewTextbookHandler creates a new textbook handler
func NewTextbookHandler(textbooks *services.TextbookService) *TextbookHandler {
	return &TextbookHandler{textbooks: textbooks}
}

// DownloadProgress is one progress event of a chapter download
type DownloadProgress struct {
	ChapterID string `json:"chapterId"`
	Written   int64  `json:"written"`
	Total     int64  `json:"total"`
}

// ListTextbooks handles GET /api/v1/textbooks?grade=
func (h *TextbookHandler) ListTextbooks(c *fiber.Ctx) error {
	grade := model.FlexString(c.Query("grade"))
	books, err := h.textbooks.ListTextbooks(c.Context(), grade)
	if err != nil {
		log.Printf("Error: %v", err)
		return response.InternalServerError(c, "Failed to fetch textbooks")
	}
	return response.Success(c, books)
}

// ListChapters handles GET /api/v1/textbooks/:id/chapters
func (h *TextbookHandler) ListChapters(c *fiber.Ctx) error {
	chapters, err := h.textbooks.ListChapters(c.Context(), c.Params("id"))
	if err != nil {
		log.Printf("Error: %v", err)
		return response.InternalServerError(c, "Failed to fetch chapters")
	}
	return response.Success(c, chapters)
}

// StartDownload handles POST /api/v1/textbooks/chapters/:id/download
func (h *TextbookHandler) StartDownload(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	chapter, err := h.textbooks.GetChapter(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return response.NotFound(c, "Chapter not found")
		}
		return response.InternalServerError(c, "Failed to fetch chapter")
	}

	download, err := session.Downloads.Start(c.Context(), *chapter)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	written, total := download.Progress()
	return c.Status(fiber.StatusAccepted).JSON(response.Response{
		Success: true,
		Message: "Download started",
		Data:    DownloadProgress{ChapterID: chapter.ID, Written: written, Total: total},
	})
}

// DeleteDownload handles DELETE /api/v1/textbooks/chapters/:id/download.
// An in-flight download is canceled; a finished one is removed from the device.
func (h *TextbookHandler) DeleteDownload(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	chapterID := c.Params("id")
	if session.Downloads.Cancel(chapterID) {
		return response.SuccessWithMessage(c, "Download canceled", fiber.Map{"chapterId": chapterID})
	}

	if err := session.Downloads.Remove(c.Context(), chapterID); err != nil {
		log.Printf("Error: %v", err)
		return response.InternalServerError(c, "Failed to remove download")
	}
	return response.SuccessWithMessage(c, "Download removed", fiber.Map{"chapterId": chapterID})
}

// ListDownloads handles GET /api/v1/textbooks/downloads
func (h *TextbookHandler) ListDownloads(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	records, err := session.Downloads.List(c.Context())
	if err != nil {
		log.Printf("Error: %v", err)
		return response.InternalServerError(c, "Failed to list downloads")
	}
	return response.Success(c, records)
}

// StreamProgress handles GET /api/v1/textbooks/chapters/:id/download/progress as server-sent
// progress events, ending with "complete" or "error"
func (h *TextbookHandler) StreamProgress(c *fiber.Ctx) error {
	session, ok := middleware.GetSession(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	chapterID := c.Params("id")
	download, ok := session.Downloads.Active(chapterID)
	if !ok {
		return response.NotFound(c, "No download in progress")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-download.Done():
				record, err := download.Wait(context.Background())
				if err != nil {
					_ = sse.SendError(w, err)
					return
				}
				_ = sse.SendComplete(w, record)
				return
			case <-ticker.C:
				written, total := download.Progress()
				if err := sse.SendProgress(w, DownloadProgress{ChapterID: chapterID, Written: written, Total: total}); err != nil {
					return
				}
			}
		}
	})
	return nil
}
