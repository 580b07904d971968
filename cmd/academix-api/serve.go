package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/academix-api/api/swagger"
	"github.com/noah-isme/academix-api/internal/handler"
	"github.com/noah-isme/academix-api/internal/repository"
	"github.com/noah-isme/academix-api/internal/server"
	"github.com/noah-isme/academix-api/internal/service"
	"github.com/noah-isme/academix-api/pkg/cache"
	"github.com/noah-isme/academix-api/pkg/config"
	"github.com/noah-isme/academix-api/pkg/database"
	"github.com/noah-isme/academix-api/pkg/export"
	"github.com/noah-isme/academix-api/pkg/logger"
	"github.com/noah-isme/academix-api/pkg/mailer"
	"github.com/noah-isme/academix-api/pkg/payments"
	"github.com/noah-isme/academix-api/pkg/response"
	"github.com/noah-isme/academix-api/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logr)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logr *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logr.Error("serve panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("serve panicked: %v", r)
		}
	}()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	response.ExposeErrorDetail(cfg.IsDevelopment())

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	metrics.RegisterGauge("academix_db_open_connections", "Open connections in the database pool.", func() float64 {
		return float64(db.Stats().OpenConnections)
	})

	courseCache, closeCache := newCourseCache(ctx, cfg, metrics, logr)
	defer closeCache()

	store, local, err := newObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	renderer, err := mailer.NewRenderer()
	if err != nil {
		return fmt.Errorf("load mail templates: %w", err)
	}
	mail := mailer.New(renderer, mailer.NewSender(cfg.Mail, logr))

	notifications := service.NewNotificationService(mail, metrics, logr, service.NotificationConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		AppBaseURL: cfg.AppBaseURL,
	})

	validate := validator.New()
	tx := database.NewTransactor(db)
	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	lessons := repository.NewLessonRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	reviews := repository.NewReviewRepository(db)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "academix-api",
		ResetTokenTTL:      cfg.PasswordReset.TokenTTL,
		ResetMaxAttempts:   cfg.PasswordReset.MaxAttempts,
		AppBaseURL:         cfg.AppBaseURL + cfg.APIPrefix,
	}, mail, notifications)
	userSvc := service.NewUserService(users, service.UserCascade{
		Enrollments: enrollments,
		Reviews:     reviews,
		Courses:     courses,
	}, tx, courseCache, metrics, validate, logr)
	courseSvc := service.NewCourseService(courses, service.CourseServiceDeps{
		Users: users,
		Cascade: service.CourseCascade{
			Enrollments: enrollments,
			Reviews:     reviews,
			Lessons:     lessons,
		},
		Tx:      tx,
		Store:   store,
		Cache:   courseCache,
		Audit:   users,
		Metrics: metrics,
	}, validate, logr)
	lessonSvc := service.NewLessonService(lessons, courses, enrollments, tx, store, courseCache, service.VideoConfig{
		MaxBytes:     cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Storage.AllowedMIMEs,
		URLTTL:       cfg.Storage.SignedURLTTL,
	}, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollments, courses, users, notifications, export.NewExporter(), metrics, validate, logr)
	reviewSvc := service.NewReviewService(reviews, courses, tx, courseCache, validate, logr)
	paymentSvc := service.NewPaymentService(payments.NewStripeGateway(cfg.Payments), service.PaymentServiceDeps{
		Courses:     courses,
		Users:       users,
		Enrollments: enrollments,
		Enroller:    enrollmentSvc,
		Notifier:    notifications,
		Metrics:     metrics,
	}, logr)

	maintenance := service.NewMaintenanceService(cfg.Maintenance.Schedule, logr, service.NewTokenCleanupJob(users, logr))

	h := server.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Users:       handler.NewUserHandler(userSvc),
		Courses:     handler.NewCourseHandler(courseSvc),
		Reviews:     handler.NewReviewHandler(reviewSvc),
		Lessons:     handler.NewLessonHandler(lessonSvc, cfg.Storage.MaxFileSizeBytes),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Payments:    handler.NewPaymentHandler(paymentSvc),
		Metrics:     handler.NewMetricsHandler(metrics, db),
	}
	if local != nil {
		h.Media = handler.NewMediaHandler(local)
	}
	router := server.NewRouter(h, server.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Auth:           authSvc,
		Observer:       metrics,
		Audit:          users,
		ServeMedia:     local != nil,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	notifications.Start(ctx)
	if cfg.Maintenance.Enabled {
		if err := maintenance.Start(); err != nil {
			return fmt.Errorf("start maintenance: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded(logr, "listener", func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}))
	g.Go(guarded(logr, "shutdown", func() error {
		<-gctx.Done()
		logr.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		notifications.Stop(shutdownCtx)
		maintenance.Stop(shutdownCtx)
		return err
	}))

	if err := g.Wait(); err != nil {
		logr.Error("server stopped with error", zap.Error(err))
		return err
	}
	logr.Info("server stopped")
	return nil
}

// guarded turns a panic in fn into an error so the errgroup cancels its
// context and the shutdown path still runs.
func guarded(logr *zap.Logger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logr.Error("goroutine panicked", zap.String("goroutine", name), zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

// newCourseCache connects Redis when the catalog cache is enabled. An
// unreachable Redis disables the cache instead of failing startup.
func newCourseCache(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*service.CacheService, func()) {
	if !cfg.CourseCache.Enabled {
		return service.NewCacheService(nil, metrics, cfg.CourseCache.TTL, logr, false), func() {}
	}

	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("course cache disabled", zap.String("addr", cache.Addr(cfg.Redis)), zap.Error(err))
		return service.NewCacheService(nil, metrics, cfg.CourseCache.TTL, logr, false), func() {}
	}
	repo := repository.NewCacheRepository(client, logr)
	return service.NewCacheService(repo, metrics, cfg.CourseCache.TTL, logr, true), func() {
		if err := repo.Close(); err != nil {
			logr.Warn("close redis", zap.Error(err))
		}
	}
}

// newObjectStore picks the video storage driver. The local driver is also
// returned separately so its signed links can be served by the API.
func newObjectStore(cfg *config.Config) (storage.ObjectStore, *storage.LocalStorage, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverS3:
		s3Store, err := storage.NewS3Storage(cfg.Storage.S3)
		if err != nil {
			return nil, nil, err
		}
		return s3Store, nil, nil
	case config.StorageDriverLocal, "":
		signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
		mediaURL := cfg.AppBaseURL + cfg.APIPrefix + "/media/videos"
		local, err := storage.NewLocalStorage(cfg.Storage.Dir, mediaURL, signer)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
