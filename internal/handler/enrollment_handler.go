package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/service"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/export"
	"github.com/noah-isme/academix-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, actor *policy.Actor, req service.EnrollRequest) (*models.Enrollment, error)
	Get(ctx context.Context, actor *policy.Actor, id string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, actor *policy.Actor, studentID string) ([]models.Enrollment, error)
	Roster(ctx context.Context, actor *policy.Actor, courseID string) ([]models.RosterEntry, error)
	ExportRoster(ctx context.Context, actor *policy.Actor, courseID string, format export.Format) (*export.File, error)
	Delete(ctx context.Context, actor *policy.Actor, id string) error
}

// EnrollmentHandler serves enrollments and course rosters.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs an EnrollmentHandler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Enroll godoc
// @Summary Enroll in a course
// @Description Students enroll themselves; administrators may name any student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollRequest true "Enrollment"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req service.EnrollRequest
	if !bindJSON(c, &req, "invalid enrollment payload") {
		return
	}

	enrollment, err := h.service.Enroll(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	enrollment, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ListByStudent godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/student/{studentId} [get]
func (h *EnrollmentHandler) ListByStudent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	enrollments, err := h.service.ListByStudent(c.Request.Context(), actor, c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Roster godoc
// @Summary Course roster
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/course/{courseId} [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	roster, err := h.service.Roster(c.Request.Context(), actor, courseParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// ExportRoster godoc
// @Summary Export the course roster
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/enrollments/export [get]
func (h *EnrollmentHandler) ExportRoster(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format must be csv or pdf"))
		return
	}

	file, err := h.service.ExportRoster(c.Request.Context(), actor, courseParam(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// Delete godoc
// @Summary Delete enrollment
// @Tags Enrollments
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
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

// courseParam reads the course id from either roster route shape.
func courseParam(c *gin.Context) string {
	if id := c.Param("courseId"); id != "" {
		return id
	}
	return c.Param("id")
}
