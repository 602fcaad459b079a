package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/openbasket/marketplace-api/api/swagger"
	"github.com/openbasket/marketplace-api/internal/handler"
	"github.com/openbasket/marketplace-api/internal/importer"
	"github.com/openbasket/marketplace-api/internal/middleware"
	"github.com/openbasket/marketplace-api/internal/models"
	"github.com/openbasket/marketplace-api/internal/repository"
	"github.com/openbasket/marketplace-api/internal/service"
	"github.com/openbasket/marketplace-api/pkg/cache"
	"github.com/openbasket/marketplace-api/pkg/config"
	"github.com/openbasket/marketplace-api/pkg/database"
	"github.com/openbasket/marketplace-api/pkg/jobs"
	"github.com/openbasket/marketplace-api/pkg/logger"
	corsmiddleware "github.com/openbasket/marketplace-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openbasket/marketplace-api/pkg/middleware/requestid"
	"github.com/openbasket/marketplace-api/pkg/storage"
)

// @title OpenBasket Marketplace API
// @version 1.0.0
// @description Supplier price import pipeline and catalog service
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		redisClient = nil
	}

	fileStore, err := storage.NewLocalStorage(cfg.Imports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare import storage", zap.Error(err))
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	importRepo := repository.NewPriceImportRepository(db)

	// Observability and caching.
	metricsSvc := service.NewMetricsService()
	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, true)
	}

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "marketplace-api",
	})

	catalogSvc := service.NewCatalogService(catalogRepo, cacheSvc, cfg.Catalog.CacheTTL, logr)

	rowValidator := importer.NewValidator(catalogSvc, cfg.Imports.WorkerConcurrency,
		importer.MaxDeviationRule(cfg.Imports.MaxDeviationPercent))

	signer := storage.NewSignedURLSigner(cfg.Imports.SignedURLSecret, cfg.Imports.SignedURLTTL)

	// Downstream approval workflow hand-off. The apply step lives outside this
	// service, so forwarding is an acknowledgement log until the workflow API
	// is wired in.
	approval := service.ApprovalForwarderFunc(func(ctx context.Context, job *models.PriceImportJob) error {
		logr.Info("import job forwarded for approval",
			zap.String("job_id", job.ID),
			zap.String("supplier_id", job.SupplierID),
			zap.Int("valid_rows", job.ValidRows))
		return nil
	})

	var importSvc *service.PriceImportService
	queue := jobs.NewQueue("price-imports", func(ctx context.Context, job jobs.Job) error {
		return importSvc.Process(ctx, job.ID)
	}, jobs.QueueConfig{
		Workers:    cfg.Imports.WorkerConcurrency,
		MaxRetries: cfg.Imports.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})

	importSvc = service.NewPriceImportService(importRepo, fileStore, rowValidator, queue, approval, signer, metricsSvc, logr, service.PriceImportServiceConfig{
		ProcessTimeout: cfg.Imports.ProcessTimeout,
		SignedURLTTL:   cfg.Imports.SignedURLTTL,
		APIPrefix:      cfg.APIPrefix,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue.Start(rootCtx)
	defer queue.Stop()

	// Jobs stuck in their initial status after a restart are re-enqueued.
	importSvc.RecoverPendingJobs(rootCtx)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	importHandler := handler.NewPriceImportHandler(importSvc, cfg.Imports.MaxFileSizeBytes)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	catalog := api.Group("/catalog", middleware.JWT(authSvc))
	catalog.POST("/products", middleware.RequireRoles(models.RoleAdmin, models.RoleOperator), catalogHandler.Create)
	catalog.GET("/products", catalogHandler.List)
	catalog.GET("/products/:id", catalogHandler.Get)

	imports := api.Group("/imports")
	// Signed token downloads carry their own authentication.
	imports.GET("/downloads/:token", importHandler.Download)

	authedImports := imports.Group("", middleware.JWT(authSvc))
	authedImports.POST("", middleware.RequireRoles(models.RoleSupplier), importHandler.Upload)
	authedImports.GET("", importHandler.List)
	authedImports.GET("/:id", importHandler.Get)
	authedImports.GET("/:id/rows", importHandler.Rows)
	authedImports.POST("/:id/submit", importHandler.Submit)
	authedImports.POST("/:id/export", middleware.RequireRoles(models.RoleAdmin, models.RoleOperator), importHandler.Export)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
