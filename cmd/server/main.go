package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyteller-server/internal/config"
	"storyteller-server/internal/database"
	"storyteller-server/internal/generation"
	"storyteller-server/internal/handler"
	"storyteller-server/internal/logger"
	"storyteller-server/internal/middleware"
	"storyteller-server/internal/service"
	pkgdb "storyteller-server/pkg/database"
	"storyteller-server/pkg/migration"
	"storyteller-server/pkg/taskmanager"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// version подставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// Логгера еще нет
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Env:      cfg.Env,
		Service:  "storyteller-server",
		Version:  version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("Starting storyteller server")
	cfg.LogSummary(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL ---
	db, err := pkgdb.New(ctx, pkgdb.Config{
		DSN:             cfg.GetDSN(),
		MaxConns:        int32(cfg.DBMaxConns),
		MaxConnIdleTime: cfg.DBIdleTimeout,
		ConnectTimeout:  10 * time.Second,
	})
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	if cfg.RunMigrations {
		migrator := migration.NewMigrator(migration.Config{
			MigrationsPath: database.MigrationsPath,
			MigrationsFS:   database.MigrationsFS,
		}, db.Pool)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}
	store := database.NewPgRecordStore(db.Pool, log)

	// --- Внешние зависимости ---
	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	tokens := newGenerationTokenSource(cfg, log)
	client := generation.NewClient(generation.Config{
		BaseURL:        cfg.GenerationAPIBaseURL,
		Timeout:        cfg.GenerationTimeout,
		MaxAttempts:    cfg.GenerationMaxAttempts,
		BaseRetryDelay: cfg.GenerationBaseRetryDelay,
	}, log, generation.WithTokenSource(tokens), generation.WithReporter(deps.reporter))

	tm := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxBackgroundTasks})

	orchestrator := service.NewOrchestrator(store, deps.live, client, tm, log,
		service.WithEventPublisher(deps.events),
		service.WithErrorReporter(deps.reporter),
	)
	stories := service.NewStoryService(store, deps.media, orchestrator, cfg.MediaURLTTL, log)

	verifier, err := deps.tokenVerifier(cfg)
	if err != nil {
		log.Fatal("Failed to configure caller authentication", zap.Error(err))
	}

	// --- Gin ---
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.GinZapLogger(log))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 || (len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	var origins []string
	if !corsConfig.AllowAllOrigins {
		origins = cfg.CORSAllowedOrigins
	}
	storyHandler := handler.NewStoryHandler(orchestrator, stories, deps.live, log, handler.WithAllowedOrigins(origins))
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(verifier, log))
	storyHandler.RegisterRoutes(api)

	// После регистрации роутов: /metrics
	p.Use(router)

	// --- HTTP сервер ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Без WriteTimeout: /jobs/:id/stream держит соединение до конца генерации
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	// Фоновые генерации дописывают результат или помечают задачу проваленной
	bgCtx, bgCancel := context.WithTimeout(context.Background(), cfg.BackgroundShutdownTimeout)
	defer bgCancel()
	if err := tm.Shutdown(bgCtx); err != nil {
		log.Warn("Background generations did not finish in time, cancelled", zap.Error(err))
		// Отмененные генерации помечают задачи проваленными до закрытия БД
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := tm.Shutdown(graceCtx); err != nil {
			log.Error("Cancelled generations did not settle", zap.Int("active", tm.ActiveTasks()), zap.Error(err))
		}
		graceCancel()
	}
	deps.Flush()

	log.Info("Server exiting")
}
