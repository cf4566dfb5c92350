package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/aswinpradeepc/llmsearch/internal/config"
	"github.com/aswinpradeepc/llmsearch/internal/rag"
	"github.com/aswinpradeepc/llmsearch/internal/worker/handlers"
	"github.com/aswinpradeepc/llmsearch/internal/worker/tasks"
)

// Server consumes the ingestion queue.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer creates the worker server.
func NewServer(cfg config.RedisConfig, ingestor *rag.Ingestor, logger *zap.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"ingest":  3,
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	ingestHandler := handlers.NewIngestHandler(ingestor, logger)
	mux.HandleFunc(tasks.TypeIngestDocument, ingestHandler.HandleIngestDocument)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start runs the worker in the background.
func (s *Server) Start() error {
	s.logger.Info("worker server starting")
	return s.server.Start(s.mux)
}

// Shutdown stops the worker, waiting for in-flight tasks.
func (s *Server) Shutdown() {
	s.logger.Info("worker server stopping")
	s.server.Shutdown()
}
