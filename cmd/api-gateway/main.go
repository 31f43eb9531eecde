package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/logger"
	"github.com/noah-isme/lms-api/pkg/mailer"
	"github.com/noah-isme/lms-api/pkg/response"
	"github.com/noah-isme/lms-api/pkg/storage"
	"github.com/noah-isme/lms-api/pkg/tracing"
)

// @title LMS API
// @version 0.1.0
// @description Course catalog, enrollment and identity services for the learning platform
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	} else {
		response.SetDebug(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Env, logr)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, course cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	assetStore, closeAssets, err := newAssetStore(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to init asset store", zap.Error(err))
	}
	defer closeAssets()

	certificateFiles, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to init certificate storage", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	watchRepo := repository.NewWatchHistoryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.CourseTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	mail := mailer.New(mailer.Config{
		APIKey:    cfg.Mail.SendGridAPIKey,
		FromEmail: cfg.Mail.FromEmail,
		FromName:  cfg.Mail.FromName,
	}, logr)

	authSvc := service.NewAuthService(userRepo, mail, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.Auth.SingleSession,
		BcryptCost:         cfg.Auth.BcryptCost,
		PasswordResetTTL:   cfg.Auth.PasswordResetTTL,
		FrontendURL:        cfg.FrontendURL,
	})
	uploadSvc := service.NewUploadService(assetStore, metricsSvc, logr, service.UploadConfig{
		FolderPrefix: cfg.Storage.FolderPrefix,
		MaxFileSize:  cfg.Storage.MaxFileSizeBytes,
	})
	userSvc := service.NewUserService(userRepo, enrollmentRepo, courseRepo, watchRepo, uploadSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, watchRepo, uploadSvc, userRepo, cacheSvc, validate, logr, service.CourseServiceConfig{
		CacheTTL: cfg.Cache.CourseTTL,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, watchRepo, cacheSvc, metricsSvc, validate, logr)
	certificateSvc := service.NewCertificateService(
		enrollmentRepo,
		courseRepo,
		userRepo,
		certificateFiles,
		storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL),
		export.NewCertificateRenderer("LMS Academy"),
		logr,
		service.CertificateConfig{APIPrefix: cfg.APIPrefix},
	)

	reconciliationSvc := service.NewReconciliationService(courseRepo, nil, cacheSvc, metricsSvc, logr)
	statsQueue := jobs.NewQueue("course-stats", reconciliationSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	reconciliationSvc.SetQueue(statsQueue)
	statsQueue.Start(ctx)
	defer statsQueue.Stop()

	scheduler := jobs.NewScheduler(logr)
	if cfg.Reconciliation.Enabled {
		if err := scheduler.Every(cfg.Reconciliation.Schedule, statsQueue, service.JobReconcileAllCourses, nil); err != nil {
			logr.Error("invalid reconciliation schedule", zap.String("schedule", cfg.Reconciliation.Schedule), zap.Error(err))
		}
	}
	scheduler.Start()

	readiness := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		readiness["redis"] = handler.PingFunc(func(ctx context.Context) error { return cache.Ping(ctx, redisClient) })
	}

	router := newRouter(routerDeps{
		cfg:     cfg,
		logger:  logr,
		auth:    authSvc,
		audit:   userRepo,
		metrics: metricsSvc,
		h: handlers{
			auth:        handler.NewAuthHandler(authSvc),
			users:       handler.NewUserHandler(userSvc, authSvc),
			courses:     handler.NewCourseHandler(courseSvc),
			enrollments: handler.NewEnrollmentHandler(enrollmentSvc, certificateSvc),
			uploads:     handler.NewUploadHandler(uploadSvc, userSvc),
			metrics:     handler.NewMetricsHandler(metricsSvc, readiness),
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func newAssetStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (storage.AssetStore, func(), error) {
	if cfg.Storage.Driver == config.StorageDriverGCS {
		store, err := storage.NewGCSAssetStore(ctx, cfg.Storage.GCSBucket, cfg.Storage.GCSCredentials, cfg.Storage.GCSCDNDomain, logr)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	files, err := storage.NewLocalStorage(cfg.Storage.LocalDir)
	if err != nil {
		return nil, func() {}, err
	}
	return storage.NewLocalAssetStore(files, cfg.Storage.PublicBaseURL), func() {}, nil
}
