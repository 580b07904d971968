package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/noah-isme/academix-api/pkg/config"
)

// EventCheckoutCompleted is the only webhook event that triggers enrollment.
const EventCheckoutCompleted = "checkout.session.completed"

// Metadata keys attached to checkout sessions.
const (
	MetadataCourseID = "courseId"
	MetadataUserID   = "userId"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotConfigured is returned when Stripe credentials are absent.
	ErrNotConfigured = errors.New("payment gateway not configured")
)

// CheckoutRequest describes a one-off course purchase.
type CheckoutRequest struct {
	CourseID      string
	CourseTitle   string
	Description   string
	AmountCents   int64
	UserID        string
	CustomerEmail string
}

// CheckoutSession is the hosted payment page created for a request.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CompletedCheckout carries the identifiers recovered from a paid session.
type CompletedCheckout struct {
	SessionID     string
	CourseID      string
	UserID        string
	CustomerEmail string
	AmountTotal   int64
}

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	ID       string
	Type     string
	Checkout *CompletedCheckout
}

// Gateway is the payment provider contract used by the payment service.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	newSession    func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeGateway builds a gateway from configuration.
func NewStripeGateway(cfg config.PaymentsConfig) *StripeGateway {
	g := &StripeGateway{
		webhookSecret: cfg.StripeWebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
	if g.currency == "" {
		g.currency = string(stripe.CurrencyUSD)
	}
	if cfg.StripeSecretKey != "" {
		api := client.New(cfg.StripeSecretKey, nil)
		g.newSession = api.CheckoutSessions.New
	}
	return g
}

// CreateCheckoutSession opens a Stripe Checkout session for a single course.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if g.newSession == nil {
		return nil, ErrNotConfigured
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive")
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.CourseTitle),
	}
	if req.Description != "" {
		product.Description = stripe.String(truncate(req.Description, 500))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
		ClientReferenceID:  stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(g.currency),
					ProductData: product,
					UnitAmount:  stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata(MetadataCourseID, req.CourseID)
	params.AddMetadata(MetadataUserID, req.UserID)

	session, err := g.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted || event.Data == nil {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	completed := &CompletedCheckout{
		SessionID:     session.ID,
		CourseID:      session.Metadata[MetadataCourseID],
		UserID:        session.Metadata[MetadataUserID],
		CustomerEmail: session.CustomerEmail,
		AmountTotal:   session.AmountTotal,
	}
	if completed.CustomerEmail == "" && session.CustomerDetails != nil {
		completed.CustomerEmail = session.CustomerDetails.Email
	}
	out.Checkout = completed
	return out, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
