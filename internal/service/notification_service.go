package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/pkg/jobs"
	"github.com/noah-isme/academix-api/pkg/mailer"
)

const notificationJobType = "notification"

// Notifier hands transactional e-mails to the background dispatcher.
// Implementations must never block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type templateMailer interface {
	Send(ctx context.Context, to, toName string, tmpl mailer.Template, data interface{}) error
}

// NotificationConfig tunes the dispatch worker pool.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	AppBaseURL string
}

// NotificationService renders notifications and delivers them through a
// retrying in-process queue.
type NotificationService struct {
	mailer  templateMailer
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	baseURL string
}

// NewNotificationService wires the mailer into a job queue. Call Start before
// enqueuing.
func NewNotificationService(m templateMailer, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		mailer:  m,
		metrics: metrics,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.AppBaseURL, "/"),
	}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		Hooks: jobs.Hooks{
			OnSuccess: func(job jobs.Job) { s.record(job, "sent") },
			OnDiscard: func(job jobs.Job, err error) {
				s.record(job, "failed")
				s.logger.Warn("notification discarded", zap.String("job_id", job.ID), zap.Error(err))
			},
		},
	})
	metrics.RegisterGauge("notification_queue_depth", "Notifications waiting for a worker", func() float64 {
		return float64(s.queue.Pending())
	})
	return s
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains pending notifications until ctx expires.
func (s *NotificationService) Stop(ctx context.Context) {
	s.queue.Stop(ctx)
}

// Notify enqueues n. Failures are logged and counted, never returned.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) {
	if n.To == "" {
		s.logger.Warn("notification without recipient dropped", zap.String("kind", string(n.Kind)))
		return
	}
	id, err := s.queue.Enqueue(jobs.Job{Type: notificationJobType, Payload: n})
	if err != nil {
		s.metrics.RecordNotification(string(n.Kind), "dropped")
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", string(n.Kind)),
			zap.String("to", n.To),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotification(string(n.Kind), "enqueued")
	s.logger.Debug("notification enqueued", zap.String("job_id", id), zap.String("kind", string(n.Kind)))
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	tmpl, data, err := s.compose(n)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, n.To, n.Name, tmpl, data)
}

func (s *NotificationService) compose(n models.Notification) (mailer.Template, interface{}, error) {
	switch n.Kind {
	case models.NotificationWelcome:
		return mailer.TemplateWelcome, mailer.WelcomeData{Name: n.Name}, nil
	case models.NotificationEnrollment:
		link := n.Link
		if link == "" && n.CourseID != "" {
			link = s.baseURL + "/courses/" + n.CourseID
		}
		return mailer.TemplateEnrollment, mailer.EnrollmentData{
			StudentName: n.Name,
			CourseTitle: n.CourseTitle,
			CourseID:    n.CourseID,
			CourseURL:   link,
		}, nil
	case models.NotificationPaymentLink:
		if n.Link == "" {
			return "", nil, errors.New("payment link notification without checkout url")
		}
		return mailer.TemplatePaymentLink, mailer.PaymentLinkData{
			Name:        n.Name,
			CourseTitle: n.CourseTitle,
			CheckoutURL: n.Link,
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}

func (s *NotificationService) record(job jobs.Job, outcome string) {
	kind := "unknown"
	if n, ok := job.Payload.(models.Notification); ok {
		kind = string(n.Kind)
	}
	s.metrics.RecordNotification(kind, outcome)
}
