package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/service"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/payments"
	"github.com/noah-isme/academix-api/pkg/response"
)

const maxWebhookBody = 64 << 10

type paymentService interface {
	Checkout(ctx context.Context, actor *policy.Actor, courseID string) (*payments.CheckoutSession, error)
	EnrollLink(ctx context.Context, actor *policy.Actor, courseID string) error
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// PaymentHandler serves checkout and the payment provider webhook.
type PaymentHandler struct {
	service paymentService
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc paymentService) *PaymentHandler {
	return &PaymentHandler{service: svc}
}

// Checkout godoc
// @Summary Create a checkout session for a course
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /payments/checkout/{courseId} [post]
func (h *PaymentHandler) Checkout(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	session, err := h.service.Checkout(c.Request.Context(), actor, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// EnrollLink godoc
// @Summary E-mail a payment link for a course
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/enroll/{courseId} [post]
func (h *PaymentHandler) EnrollLink(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	if err := h.service.EnrollLink(c.Request.Context(), actor, c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "Checkout session created. Please check your email for the payment link."}, nil)
}

// Webhook godoc
// @Summary Payment provider webhook
// @Description Verifies the Stripe-Signature header and enrolls the buyer of a completed checkout
// @Tags Payments
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} service.WebhookResult
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /webhooks/stripe [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read webhook body"))
		return
	}

	result, err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
