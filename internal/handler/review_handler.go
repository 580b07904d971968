package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/service"
	"github.com/noah-isme/academix-api/pkg/response"
)

type reviewService interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Review, error)
	Get(ctx context.Context, id string) (*models.Review, error)
	Create(ctx context.Context, actor *policy.Actor, courseID string, req service.CreateReviewRequest) (*models.Review, error)
	Update(ctx context.Context, actor *policy.Actor, id string, req service.UpdateReviewRequest) (*models.Review, error)
	Delete(ctx context.Context, actor *policy.Actor, id string) error
}

// ReviewHandler serves course reviews.
type ReviewHandler struct {
	service reviewService
}

// NewReviewHandler constructs a ReviewHandler.
func NewReviewHandler(svc reviewService) *ReviewHandler {
	return &ReviewHandler{service: svc}
}

// ListByCourse godoc
// @Summary List reviews of a course
// @Tags Reviews
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/reviews [get]
func (h *ReviewHandler) ListByCourse(c *gin.Context) {
	reviews, err := h.service.ListByCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, nil, map[string]interface{}{"count": len(reviews)})
}

// Create godoc
// @Summary Review a course
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body service.CreateReviewRequest true "Review"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/reviews [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req service.CreateReviewRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}

	review, err := h.service.Create(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// Get godoc
// @Summary Get review
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	review, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Update godoc
// @Summary Update review
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param payload body service.UpdateReviewRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reviews/{id} [patch]
func (h *ReviewHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req service.UpdateReviewRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}

	review, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Delete godoc
// @Summary Delete review
// @Tags Reviews
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /reviews/{id} [delete]
func (h *ReviewHandler) Delete(c *gin.Context) {
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
