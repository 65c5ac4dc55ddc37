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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/abidjan-digital/declaration-api/api/swagger"
	"github.com/abidjan-digital/declaration-api/internal/handler"
	"github.com/abidjan-digital/declaration-api/internal/middleware"
	"github.com/abidjan-digital/declaration-api/internal/models"
	"github.com/abidjan-digital/declaration-api/internal/repository"
	"github.com/abidjan-digital/declaration-api/internal/service"
	"github.com/abidjan-digital/declaration-api/pkg/cache"
	"github.com/abidjan-digital/declaration-api/pkg/config"
	"github.com/abidjan-digital/declaration-api/pkg/database"
	"github.com/abidjan-digital/declaration-api/pkg/export"
	"github.com/abidjan-digital/declaration-api/pkg/logger"
	corsmiddleware "github.com/abidjan-digital/declaration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/abidjan-digital/declaration-api/pkg/middleware/requestid"
	"github.com/abidjan-digital/declaration-api/pkg/storage"
)

// @title Declaration API
// @version 1.0.0
// @description Lost-item and missing-person declaration service
// @BasePath /api
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API stays up without Redis: counters fall back to the database.
		logr.Warn("redis unavailable, notification counters uncached", zap.Error(err))
		redisClient = nil
	}

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare upload storage", zap.Error(err))
	}
	receiptStore, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare receipt storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	commissariatRepo := repository.NewCommissariatRepository(db)
	declarationRepo := repository.NewDeclarationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, commissariatRepo, validate, logr, service.AuthConfig{
		TokenSecret: cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.Expiration,
		Issuer:      cfg.JWT.Issuer,
	})
	notificationSvc := service.NewNotificationService(declarationRepo, cacheRepo, cfg.Notifications.CountTTL, logr)
	declarationSvc := service.NewDeclarationService(declarationRepo, userRepo, commissariatRepo, userRepo, uploadStore, notificationSvc, validate, logr, cfg.Uploads)
	receiptSvc := service.NewReceiptService(declarationRepo, userRepo, commissariatRepo, userRepo, export.NewReceiptRenderer(), receiptStore, signer, cfg.Receipts.WorkerConcurrency, cfg.Receipts.WorkerRetries, logr)
	userSvc := service.NewUserService(userRepo, commissariatRepo, validate, logr)
	commissariatSvc := service.NewCommissariatService(commissariatRepo, userRepo, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receiptSvc.StartWorkers(ctx)
	defer receiptSvc.StopWorkers()

	authHandler := handler.NewAuthHandler(authSvc)
	commissariatHandler := handler.NewCommissariatHandler(commissariatSvc)
	declarationHandler := handler.NewDeclarationHandler(declarationSvc, receiptSvc, notificationSvc, metricsSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.Static("/uploads", uploadStore.BaseDir())

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	commissariats := api.Group("/commissariats")
	{
		commissariats.GET("", commissariatHandler.List)
		commissariats.GET("/:id", commissariatHandler.Get)
		commissariats.POST("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionCommissariatCreate, "commissariats"), commissariatHandler.Create)
		commissariats.DELETE("/:id", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), commissariatHandler.Delete)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
		users.DELETE("/:id", userHandler.Delete)
	}

	declarations := api.Group("/declarations")
	{
		// The token alone authorizes receipt downloads.
		declarations.GET("/receipts/:token", declarationHandler.DownloadReceipt)

		authed := declarations.Group("", middleware.JWT(authSvc))
		authed.POST("", middleware.RequireRoles(models.RoleUser), declarationHandler.Create)
		authed.GET("/my-declarations", declarationHandler.ListMine)
		authed.GET("/commissariat/:id", middleware.RequireRoles(models.RoleAgent, models.RoleAdmin), declarationHandler.ListForCommissariat)
		authed.GET("/commissariat/:id/pending-count", middleware.RequireRoles(models.RoleAgent, models.RoleAdmin), declarationHandler.PendingCount)
		authed.GET("/:id", declarationHandler.Get)
		authed.PUT("/:id", middleware.RequireRoles(models.RoleAgent, models.RoleAdmin), declarationHandler.Update)
		authed.PUT("/:id/status", middleware.RequireRoles(models.RoleAgent, models.RoleAdmin), declarationHandler.UpdateStatus)
		authed.POST("/:id/receipt", middleware.RequireRoles(models.RoleAgent, models.RoleAdmin), declarationHandler.IssueReceipt)
		authed.POST("/:id/receipt/signed", declarationHandler.SignedReceipt)
		authed.DELETE("/:id", middleware.RequireRoles(models.RoleUser), declarationHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
