package grades

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/middleware"
	"github.com/sahilchouksey/school-connect/utils/response"
)

// GradesHandler serves the report card of the signed-in student
type GradesHandler struct {
	grades *services.GradeService
}

// NewGradesHandler creates a new grades handler
func NewGradesHandler(grades *services.GradeService) *GradesHandler {
	return &GradesHandler{grades: grades}
}

// ReportCard handles GET /api/v1/grades
func (h *GradesHandler) ReportCard(c *fiber.Ctx) error {
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	card, err := h.grades.ReportCard(c.Context(), viewer.StudentNodeKey)
	if err != nil {
		if errors.Is(err, services.ErrNoIdentity) {
			return response.Forbidden(c, "Report cards are only available to students")
		}
		log.Printf("Error: %v", err)
		return response.InternalServerError(c, "Failed to fetch report card")
	}
	return response.Success(c, card)
}
