package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/payments"
)

type paymentUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type enrollmentChecker interface {
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
}

type paymentEnroller interface {
	EnrollFromPayment(ctx context.Context, courseID, studentID string) (*models.Enrollment, bool, error)
}

// PaymentServiceDeps groups the collaborators of PaymentService.
type PaymentServiceDeps struct {
	Courses     courseReader
	Users       paymentUserLookup
	Enrollments enrollmentChecker
	Enroller    paymentEnroller
	Notifier    Notifier
	Metrics     *MetricsService
}

// WebhookResult is the acknowledgement returned to the payment provider.
type WebhookResult struct {
	Received     bool   `json:"received"`
	Enrolled     bool   `json:"enrolled"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
}

// PaymentService sells courses through the payment gateway and turns completed
// checkouts into enrollments.
type PaymentService struct {
	gateway payments.Gateway
	deps    PaymentServiceDeps
	logger  *zap.Logger
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(gateway payments.Gateway, deps PaymentServiceDeps, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{gateway: gateway, deps: deps, logger: logger}
}

// Checkout opens a hosted checkout session for the caller.
func (s *PaymentService) Checkout(ctx context.Context, actor *policy.Actor, courseID string) (*payments.CheckoutSession, error) {
	session, _, _, err := s.openSession(ctx, actor, courseID)
	return session, err
}

// EnrollLink opens a checkout session for a student who is not yet enrolled
// and e-mails them the payment link.
func (s *PaymentService) EnrollLink(ctx context.Context, actor *policy.Actor, courseID string) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if actor.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "only students can enroll in courses")
	}
	exists, err := s.deps.Enrollments.Exists(ctx, actor.ID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "you are already enrolled in this course")
	}

	session, course, user, err := s.openSession(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, models.Notification{
			Kind:        models.NotificationPaymentLink,
			To:          user.Email,
			Name:        user.Name,
			CourseID:    course.ID,
			CourseTitle: course.Title,
			Link:        session.URL,
		})
	}
	return nil
}

func (s *PaymentService) openSession(ctx context.Context, actor *policy.Actor, courseID string) (*payments.CheckoutSession, *models.Course, *models.User, error) {
	if actor == nil {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	course, err := s.deps.Courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.IsFree() {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, "course is free; enroll directly")
	}
	user, err := s.deps.Users.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "the user belonging to this token no longer exists")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		CourseID:      course.ID,
		CourseTitle:   course.Title,
		Description:   course.Description,
		AmountCents:   course.PriceCents,
		UserID:        user.ID,
		CustomerEmail: user.Email,
	})
	if err != nil {
		s.logger.Error("checkout session failed", zap.String("course_id", course.ID), zap.Error(err))
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to create checkout session")
	}
	return session, course, user, nil
}

// HandleWebhook verifies a gateway notification and enrolls the buyer of a
// completed checkout. Other event types are acknowledged untouched.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.deps.Metrics.RecordWebhookEvent("unknown", "rejected")
		s.logger.Warn("webhook rejected", zap.Error(err))
		if errors.Is(err, payments.ErrNotConfigured) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "webhook secret not configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "webhook signature verification failed")
	}

	if event.Type != payments.EventCheckoutCompleted || event.Checkout == nil {
		s.deps.Metrics.RecordWebhookEvent(event.Type, "ignored")
		return &WebhookResult{Received: true}, nil
	}

	checkout := event.Checkout
	user, err := s.resolveBuyer(ctx, checkout)
	if err != nil {
		s.deps.Metrics.RecordWebhookEvent(event.Type, "unresolved")
		return nil, err
	}
	if checkout.CourseID == "" {
		s.deps.Metrics.RecordWebhookEvent(event.Type, "unresolved")
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user or course not found")
	}

	enrollment, created, err := s.deps.Enroller.EnrollFromPayment(ctx, checkout.CourseID, user.ID)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr.Status == appErrors.ErrNotFound.Status {
			s.deps.Metrics.RecordWebhookEvent(event.Type, "unresolved")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user or course not found")
		}
		s.deps.Metrics.RecordWebhookEvent(event.Type, "failed")
		return nil, err
	}

	outcome := "enrolled"
	if !created {
		outcome = "duplicate"
	}
	s.deps.Metrics.RecordWebhookEvent(event.Type, outcome)
	s.logger.Info("checkout completed",
		zap.String("event_id", event.ID),
		zap.String("session_id", checkout.SessionID),
		zap.String("course_id", checkout.CourseID),
		zap.String("user_id", user.ID),
		zap.Bool("enrolled", created),
	)
	return &WebhookResult{Received: true, Enrolled: created, EnrollmentID: enrollment.ID}, nil
}

// resolveBuyer prefers the user id stamped on the session and falls back to
// the customer e-mail.
func (s *PaymentService) resolveBuyer(ctx context.Context, checkout *payments.CompletedCheckout) (*models.User, error) {
	if checkout.UserID != "" {
		user, err := s.deps.Users.FindByID(ctx, checkout.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
		}
	}
	if checkout.CustomerEmail != "" {
		user, err := s.deps.Users.FindByEmail(ctx, checkout.CustomerEmail)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "user or course not found")
}
