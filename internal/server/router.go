package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/handler"
	"github.com/noah-isme/academix-api/internal/middleware"
	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academix-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academix-api/pkg/middleware/requestid"
)

// Handlers bundles every HTTP handler mounted by the router.
type Handlers struct {
	Auth        *handler.AuthHandler
	Users       *handler.UserHandler
	Courses     *handler.CourseHandler
	Reviews     *handler.ReviewHandler
	Lessons     *handler.LessonHandler
	Enrollments *handler.EnrollmentHandler
	Payments    *handler.PaymentHandler
	Media       *handler.MediaHandler
	Metrics     *handler.MetricsHandler
}

// Options configures the router.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger
	Auth           middleware.TokenAuthenticator
	Observer       middleware.RequestObserver
	Audit          middleware.AuditRecorder
	ServeMedia     bool
}

// NewRouter builds the gin engine with every route of the API.
func NewRouter(h Handlers, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	if opts.Observer != nil {
		r.Use(middleware.Metrics(opts.Observer))
	}
	r.Use(corsmiddleware.New(opts.AllowedOrigins))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requireAuth := middleware.JWT(opts.Auth)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)
	studentOnly := middleware.RequireRoles(models.RoleStudent)
	audit := func(action, resource, param string) gin.HandlerFunc {
		return middleware.Audit(opts.Audit, action, resource, param)
	}

	api := r.Group(opts.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/signup", h.Auth.Signup)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)
	auth.POST("/logout", requireAuth, h.Auth.Logout)

	users := api.Group("/users", requireAuth)
	users.GET("/me", h.Users.Me)
	users.PATCH("/me", h.Users.UpdateMe)
	users.PATCH("/me/password", h.Auth.ChangePassword)
	users.GET("", adminOnly, h.Users.List)
	users.POST("", adminOnly, h.Users.Create)
	users.GET("/:id", adminOnly, h.Users.Get)
	users.PATCH("/:id", adminOnly, h.Users.Update)
	users.DELETE("/:id", adminOnly, h.Users.Delete)

	courses := api.Group("/courses")
	courses.GET("", middleware.OptionalJWT(opts.Auth), middleware.WithResponseMeta(), h.Courses.List)
	courses.GET("/:id", h.Courses.Get)
	courses.GET("/:id/reviews", middleware.WithResponseMeta(), h.Reviews.ListByCourse)
	courses.POST("", requireAuth, staff, h.Courses.Create)
	courses.PATCH("/:id", requireAuth, staff, h.Courses.Update)
	courses.DELETE("/:id", requireAuth, staff, h.Courses.Delete)
	courses.POST("/:id/reviews", requireAuth, studentOnly, h.Reviews.Create)
	courses.GET("/:id/enrollments", requireAuth, staff, h.Enrollments.Roster)
	courses.GET("/:id/enrollments/export", requireAuth, staff, h.Enrollments.ExportRoster)

	reviews := api.Group("/reviews")
	reviews.GET("/:id", h.Reviews.Get)
	reviews.PATCH("/:id", requireAuth, h.Reviews.Update)
	reviews.DELETE("/:id", requireAuth, audit(models.AuditActionReviewDelete, "review", "id"), h.Reviews.Delete)

	lessons := api.Group("/lessons", requireAuth)
	lessons.GET("/course/:courseId", h.Lessons.ListByCourse)
	lessons.GET("/:id", h.Lessons.Get)
	lessons.POST("", staff, h.Lessons.Create)
	lessons.PATCH("/:id", staff, h.Lessons.Update)
	lessons.DELETE("/:id", staff, audit(models.AuditActionLessonDelete, "lesson", "id"), h.Lessons.Delete)
	lessons.PUT("/:id/video", staff, h.Lessons.UploadVideo)
	lessons.GET("/:id/video", h.Lessons.VideoLink)
	lessons.DELETE("/:id/video", staff, h.Lessons.DeleteVideo)
	lessons.PATCH("/:id/complete", studentOnly, h.Lessons.Complete)

	enrollments := api.Group("/enrollments", requireAuth)
	enrollments.POST("", audit(models.AuditActionEnroll, "enrollment", ""), h.Enrollments.Enroll)
	enrollments.GET("/:id", h.Enrollments.Get)
	enrollments.GET("/student/:studentId", h.Enrollments.ListByStudent)
	enrollments.GET("/course/:courseId", staff, h.Enrollments.Roster)
	enrollments.DELETE("/:id", adminOnly, audit(models.AuditActionEnrollmentDelete, "enrollment", "id"), h.Enrollments.Delete)

	paymentsGroup := api.Group("/payments", requireAuth)
	paymentsGroup.POST("/checkout/:courseId", audit(models.AuditActionCheckout, "course", "courseId"), h.Payments.Checkout)
	paymentsGroup.POST("/enroll/:courseId", studentOnly, h.Payments.EnrollLink)

	api.POST("/webhooks/stripe", h.Payments.Webhook)

	if opts.ServeMedia && h.Media != nil {
		api.GET("/media/videos", h.Media.Video)
	}

	return r
}
