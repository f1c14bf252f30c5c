package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/config"
	"fable-server/internal/engine"
	"fable-server/internal/handler"
	"fable-server/internal/images"
	"fable-server/internal/middleware"
	"fable-server/internal/storage"
	"fable-server/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	cancelPing()
	defer redisClient.Close()
	zapLogger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	// AI client and prompts
	aiClient, err := ai.New(ai.Config{
		APIKey:     cfg.AIAPIKey,
		BaseURL:    cfg.AIBaseURL,
		Model:      cfg.AIModel,
		LightModel: cfg.AILightModel,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create AI client", zap.Error(err))
	}

	prompts, err := ai.LoadPrompts(cfg.PromptsDir)
	if err != nil {
		zapLogger.Fatal("Failed to load prompts", zap.Error(err))
	}

	// Image renderer
	renderer, err := images.NewHTTPRenderer(images.Config{
		ServerURL: cfg.ImageServerURL,
		Model:     cfg.ImageModel,
		ProModel:  cfg.ImageProModel,
		Timeout:   cfg.ImageTimeout,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create image renderer", zap.Error(err))
	}

	// Engine
	sessionRepo := storage.NewRedisSessionRepository(redisClient, zapLogger)
	engineCfg := engine.Config{
		MaxAttempts:             cfg.AIMaxAttempts,
		CallTimeout:             cfg.AICallTimeout,
		MinChoicesForGoodEnding: cfg.MinChoicesForGoodEnding,
	}
	turns := engine.NewTurnProcessor(
		sessionRepo,
		engine.NewFrameBuilder(aiClient, prompts, engineCfg, zapLogger),
		engine.NewSceneGenerator(aiClient, prompts, engineCfg, zapLogger),
		engine.NewEndingEvaluator(aiClient, prompts, engineCfg, zapLogger),
		engine.NewCastUpdater(aiClient, prompts, engineCfg, zapLogger),
		engine.NewVisualDecider(aiClient, prompts, engineCfg, zapLogger),
		renderer,
		engineCfg,
		zapLogger,
	)
	sessionHandler := handler.NewSessionHandler(turns, zapLogger)

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.ZapLogger(zapLogger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	api := router.Group("/api")
	sessionHandler.RegisterRoutes(api)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Server stopped")
}
