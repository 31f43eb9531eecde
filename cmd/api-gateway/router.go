package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

type handlers struct {
	auth        *handler.AuthHandler
	users       *handler.UserHandler
	courses     *handler.CourseHandler
	enrollments *handler.EnrollmentHandler
	uploads     *handler.UploadHandler
	metrics     *handler.MetricsHandler
}

type routerDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	auth    middleware.Authenticator
	audit   middleware.AuditWriter
	metrics *service.MetricsService
	h       handlers
}

func newRouter(deps routerDeps) *gin.Engine {
	cfg := deps.cfg
	h := deps.h

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Storage.Driver != config.StorageDriverGCS {
		r.Static("/uploads", cfg.Storage.LocalDir)
	}

	requireAuth := middleware.JWT(deps.auth)
	optionalAuth := middleware.OptionalJWT(deps.auth)
	educatorOnly := middleware.EducatorOnly()
	audit := func(action, resource, param string) gin.HandlerFunc {
		return middleware.Audit(deps.audit, deps.logger, action, resource, param)
	}

	api := r.Group(cfg.APIPrefix)

	api.GET("/metrics/summary", requireAuth, middleware.RBAC(models.RoleAdmin), h.metrics.Summary)

	auth := api.Group("/auth")
	auth.POST("/register", h.auth.Register)
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)
	auth.POST("/forgot-password", h.auth.ForgotPassword)
	auth.POST("/reset-password", h.auth.ResetPassword)
	auth.GET("/me", requireAuth, h.auth.Me)
	auth.POST("/logout", requireAuth, h.auth.Logout)
	auth.PUT("/update-password", requireAuth, h.auth.ChangePassword)

	users := api.Group("/users", requireAuth)
	users.GET("/profile", h.users.Profile)
	users.PUT("/profile", h.users.UpdateProfile)
	users.PUT("/preferences", h.users.UpdatePreferences)
	users.POST("/switch-role", h.users.SwitchRole)
	users.GET("/dashboard", h.users.Dashboard)
	users.GET("/stats", h.users.Stats)
	users.GET("/enrollments", h.users.Enrollments)

	courses := api.Group("/courses")
	courses.GET("", optionalAuth, h.courses.List)
	courses.GET("/search", h.courses.Search)
	courses.GET("/featured", h.courses.Featured)
	courses.GET("/educator", requireAuth, educatorOnly, h.courses.MyCourses)
	courses.GET("/educator/:educatorId", h.courses.EducatorCourses)
	courses.GET("/:id", optionalAuth, h.courses.Get)
	courses.POST("", requireAuth, educatorOnly, h.courses.Create)
	courses.PUT("/:id", requireAuth, educatorOnly, h.courses.Update)
	courses.DELETE("/:id", requireAuth, educatorOnly, h.courses.Delete)
	courses.POST("/:id/chapters", requireAuth, educatorOnly, h.courses.AddChapter)
	courses.POST("/:id/chapters/:chapterId/lectures", requireAuth, educatorOnly, h.courses.AddLecture)
	courses.POST("/:id/publish", requireAuth, educatorOnly, h.courses.Publish)
	courses.POST("/:id/rating", requireAuth, h.courses.Rate)
	courses.GET("/:id/students", requireAuth, educatorOnly, h.courses.Students)
	courses.GET("/:id/students/export", requireAuth, educatorOnly, h.courses.ExportStudents)
	courses.GET("/:id/watch-stats", requireAuth, educatorOnly, h.courses.WatchStats)

	// The signed token is the credential for certificate downloads.
	api.GET("/enrollments/certificate/download/:token", h.enrollments.DownloadCertificate)

	enrollments := api.Group("/enrollments", requireAuth)
	enrollments.POST("/enroll", audit(models.AuditActionEnroll, "enrollment", ""), h.enrollments.Enroll)
	enrollments.POST("/unenroll/:courseId", audit(models.AuditActionUnenroll, "enrollment", "courseId"), h.enrollments.Unenroll)
	enrollments.GET("/status/:courseId", h.enrollments.Status)
	enrollments.GET("/progress/:courseId", h.enrollments.Progress)
	enrollments.POST("/progress", h.enrollments.UpdateProgress)
	enrollments.POST("/complete-lecture", h.enrollments.CompleteLecture)
	enrollments.GET("/watch-history/:courseId", h.enrollments.WatchHistory)
	enrollments.POST("/watch-history/start", h.enrollments.StartSession)
	enrollments.POST("/watch-history/end", h.enrollments.EndSession)
	enrollments.POST("/watch-history/interaction", h.enrollments.Interaction)
	enrollments.GET("/notes/:courseId", h.enrollments.Notes)
	enrollments.POST("/notes", h.enrollments.AddNote)
	enrollments.PUT("/notes/:noteId", h.enrollments.UpdateNote)
	enrollments.DELETE("/notes/:noteId", h.enrollments.DeleteNote)
	enrollments.GET("/bookmarks/:courseId", h.enrollments.Bookmarks)
	enrollments.POST("/bookmarks", h.enrollments.AddBookmark)
	enrollments.DELETE("/bookmarks/:bookmarkId", h.enrollments.DeleteBookmark)
	enrollments.GET("/certificate/:courseId", h.enrollments.Certificate)
	enrollments.POST("/certificate/:courseId/generate", h.enrollments.GenerateCertificate)

	uploads := api.Group("/upload", requireAuth)
	uploads.POST("/course-image", educatorOnly, h.uploads.CourseImage)
	uploads.POST("/lecture-video", educatorOnly, h.uploads.LectureVideo)
	uploads.POST("/profile-image", h.uploads.ProfileImage)
	uploads.POST("/multiple", h.uploads.Multiple)
	uploads.DELETE("/*publicId", audit(models.AuditActionAssetDelete, "asset", "publicId"), h.uploads.Delete)

	return r
}
