package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
)

type CourseCatalog interface {
	Get(ctx context.Context, id string) (domain.Course, error)
	List(ctx context.Context) ([]domain.Course, error)
}

type CourseHandler struct {
	logger  *zap.Logger
	courses CourseCatalog
}

func NewCourseHandler(logger *zap.Logger, courses CourseCatalog) *CourseHandler {
	return &CourseHandler{logger: logger, courses: courses}
}

// List maneja GET /courses.
func (h *CourseHandler) List(c *gin.Context) {
	courses, err := h.courses.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "list courses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

// Get maneja GET /courses/:id.
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "get course", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}
