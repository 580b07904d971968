package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/service"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/response"
)

type lessonService interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.LessonView, error)
	Get(ctx context.Context, id string) (*models.LessonView, error)
	Create(ctx context.Context, actor *policy.Actor, req service.CreateLessonRequest) (*models.LessonView, error)
	Update(ctx context.Context, actor *policy.Actor, id string, req service.UpdateLessonRequest) (*models.LessonView, error)
	Delete(ctx context.Context, actor *policy.Actor, id string) error
	UploadVideo(ctx context.Context, actor *policy.Actor, id string, upload service.VideoUpload) (*models.LessonView, error)
	DeleteVideo(ctx context.Context, actor *policy.Actor, id string) error
	VideoLink(ctx context.Context, actor *policy.Actor, id string) (*models.VideoLink, error)
	Complete(ctx context.Context, actor *policy.Actor, lessonID string) (*models.Enrollment, error)
}

// multipartOverhead is the allowance for multipart boundaries and part
// headers on top of the video size limit.
const multipartOverhead = 1 << 20

// LessonHandler serves lessons, their videos and completion tracking.
type LessonHandler struct {
	service       lessonService
	maxVideoBytes int64
}

// NewLessonHandler constructs a LessonHandler. maxVideoBytes caps the upload
// request body before it is parsed; zero disables the cap.
func NewLessonHandler(svc lessonService, maxVideoBytes int64) *LessonHandler {
	return &LessonHandler{service: svc, maxVideoBytes: maxVideoBytes}
}

// ListByCourse godoc
// @Summary List lessons of a course
// @Tags Lessons
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /lessons/course/{courseId} [get]
func (h *LessonHandler) ListByCourse(c *gin.Context) {
	lessons, err := h.service.ListByCourse(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, nil)
}

// Get godoc
// @Summary Get lesson
// @Tags Lessons
// @Produce json
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lessons/{id} [get]
func (h *LessonHandler) Get(c *gin.Context) {
	lesson, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Create godoc
// @Summary Create lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateLessonRequest true "Lesson payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /lessons [post]
func (h *LessonHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req service.CreateLessonRequest
	if !bindJSON(c, &req, "invalid lesson payload") {
		return
	}

	lesson, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lesson)
}

// Update godoc
// @Summary Update lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Param payload body service.UpdateLessonRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id} [patch]
func (h *LessonHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req service.UpdateLessonRequest
	if !bindJSON(c, &req, "invalid lesson payload") {
		return
	}

	lesson, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Delete godoc
// @Summary Delete lesson
// @Tags Lessons
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Success 204
// @Router /lessons/{id} [delete]
func (h *LessonHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadVideo godoc
// @Summary Upload or replace the lesson video
// @Tags Lessons
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Param file formData file true "Video file (mp4, webm, quicktime)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /lessons/{id}/video [put]
func (h *LessonHandler) UploadVideo(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	if h.maxVideoBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxVideoBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusRequestEntityTooLarge, "video upload is too large"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a video file is required in field \"file\""))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read uploaded file"))
		return
	}
	defer file.Close()

	lesson, err := h.service.UploadVideo(c.Request.Context(), actor, c.Param("id"), service.VideoUpload{
		Body:        file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// VideoLink godoc
// @Summary Time-limited link to the lesson video
// @Tags Lessons
// @Produce json
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lessons/{id}/video [get]
func (h *LessonHandler) VideoLink(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	link, err := h.service.VideoLink(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DeleteVideo godoc
// @Summary Remove the lesson video
// @Tags Lessons
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Success 204
// @Router /lessons/{id}/video [delete]
func (h *LessonHandler) DeleteVideo(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	if err := h.service.DeleteVideo(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Complete godoc
// @Summary Mark a lesson completed
// @Description Adds the lesson to the caller's completed set and returns the updated enrollment
// @Tags Lessons
// @Produce json
// @Security BearerAuth
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/complete [patch]
func (h *LessonHandler) Complete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	enrollment, err := h.service.Complete(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
