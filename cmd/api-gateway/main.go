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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/account-activation-api/api/swagger"
	"github.com/noah-isme/account-activation-api/internal/handler"
	internalmiddleware "github.com/noah-isme/account-activation-api/internal/middleware"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/internal/repository"
	"github.com/noah-isme/account-activation-api/internal/service"
	"github.com/noah-isme/account-activation-api/pkg/cache"
	"github.com/noah-isme/account-activation-api/pkg/config"
	"github.com/noah-isme/account-activation-api/pkg/database"
	"github.com/noah-isme/account-activation-api/pkg/jobs"
	"github.com/noah-isme/account-activation-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/account-activation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/account-activation-api/pkg/middleware/requestid"
)

// @title Account Activation API
// @version 1.0.0
// @description Keeps student and parent login access consistent with enrollment status
// @BasePath /api/v1
// @schemes http
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
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.StatusCache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, status cache disabled", "error", err)
			redisClient = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.StatusCache.TTL, logr, redisClient != nil)

	// A nil *jobs.Queue must not reach the services as a non-nil interface.
	var invalidator interface{ Enqueue(jobs.Job) error }
	if cacheSvc.Enabled() {
		// Entries written under a different override policy would carry stale badges.
		if err := cacheSvc.Invalidate(ctx, cache.PatternStatusAll); err != nil {
			logr.Warn("failed to flush status cache", zap.Error(err))
		}
		queue := jobs.NewQueue("status-cache", cacheSvc.HandleInvalidation, jobs.QueueConfig{
			Workers:    cfg.StatusCache.Workers,
			BufferSize: 256,
			MaxRetries: cfg.StatusCache.Retries,
			RetryDelay: 500 * time.Millisecond,
			Logger:     logr,
			OnGiveUp:   cacheSvc.HandleGiveUp,
		})
		queue.Start(ctx)
		defer queue.Stop()
		invalidator = queue
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	parentRepo := repository.NewParentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	calculator := service.NewParentActivationCalculator(parentRepo)
	cascadeSvc := service.NewCascadeService(db, studentRepo, userRepo, parentRepo, auditRepo, calculator, invalidator, metricsSvc, validate, logr, cfg.Cascade)
	parentSvc := service.NewParentAccountService(db, parentRepo, studentRepo, userRepo, auditRepo, calculator, cacheSvc, invalidator, validate, logr, cfg.Cascade, cfg.StatusCache.TTL)
	statusSvc := service.NewStudentStatusService(studentRepo, cacheSvc, cfg.StatusCache.TTL, metricsSvc, logr)
	accessSvc := service.NewAccessService(userRepo, studentRepo, parentRepo, calculator, auditRepo)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	r := newRouter(cfg, logr, db, metricsSvc, tokenSvc, routeHandlers{
		students: handler.NewStudentStatusHandler(cascadeSvc, statusSvc),
		parents:  handler.NewParentHandler(parentSvc),
		access:   handler.NewAccessHandler(accessSvc),
		metrics:  handler.NewMetricsHandler(metricsSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("override_policy", cfg.Cascade.OverridePolicy),
			zap.Bool("status_cache", cacheSvc.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routeHandlers struct {
	students *handler.StudentStatusHandler
	parents  *handler.ParentHandler
	access   *handler.AccessHandler
	metrics  *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, metricsSvc *service.MetricsService, tokens internalmiddleware.TokenValidator, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokens), internalmiddleware.WithResponseMeta())

	admin := internalmiddleware.RequireRoles(models.RoleAdmin)

	students := api.Group("/students", admin)
	students.GET("", h.students.List)
	students.POST("/status/bulk", h.students.Bulk)
	students.GET("/status/stats", h.students.Stats)
	students.GET("/:id/status", h.students.Get)
	students.PATCH("/:id/status", h.students.Transition)

	parents := api.Group("/parents", admin)
	parents.GET("/:id/status", h.parents.Status)
	parents.PUT("/:id/account", h.parents.SetAccount)
	parents.POST("/:id/students", h.parents.Link)
	parents.DELETE("/:id/students/:studentId", h.parents.Unlink)

	api.GET("/users/:id/access", internalmiddleware.RBAC(string(models.RoleAdmin), "SELF"), h.access.Check)
	api.GET("/users/:id/activity", admin, h.access.History)

	return r
}
