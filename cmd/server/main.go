package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aswinpradeepc/llmsearch/api"
	"github.com/aswinpradeepc/llmsearch/internal/config"
	"github.com/aswinpradeepc/llmsearch/internal/logger"
	"github.com/aswinpradeepc/llmsearch/internal/worker"
)

func main() {
	// .env keeps APP_* variables out of the config files during development.
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env file")
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting llmsearch",
		zap.String("env", env),
		zap.String("vector_store", cfg.VectorStore.Type),
	)

	container, err := api.BuildContainer(cfg)
	if err != nil {
		logger.Fatal("build container failed", zap.Error(err))
	}
	defer container.Close()

	// Verify the index exists with the configured dimension and metric
	// before accepting any traffic.
	ensureCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = container.Index.EnsureIndex(
		ensureCtx,
		cfg.VectorStore.Pinecone.IndexName,
		cfg.RAG.Dimension,
		cfg.RAG.Metric,
	)
	cancel()
	if err != nil {
		logger.Fatal("ensure vector index failed", zap.Error(err))
	}
	logger.Info("vector index ready",
		zap.String("index", cfg.VectorStore.Pinecone.IndexName),
		zap.Int("dimension", cfg.RAG.Dimension),
		zap.String("metric", cfg.RAG.Metric),
	)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, container)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	var workerServer *worker.Server
	if cfg.Redis.Host != "" {
		workerServer = worker.NewServer(cfg.Redis, container.Ingestor, logger.Get())
		go func() {
			if err := workerServer.Start(); err != nil {
				logger.Fatal("worker server failed", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("redis not configured, ingestion queue and worker disabled")
	}

	gracefulShutdown(server, workerServer)
}

func gracefulShutdown(server *http.Server, workerServer *worker.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}

	logger.Info("stopped")
}
