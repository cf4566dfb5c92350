package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aswinpradeepc/llmsearch/internal/config"
	"github.com/aswinpradeepc/llmsearch/internal/rag"
	"github.com/aswinpradeepc/llmsearch/internal/worker/tasks"
)

// Client enqueues background work.
type Client interface {
	EnqueueIngestDocument(doc *rag.Document) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient creates the task queue client.
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueIngestDocument(doc *rag.Document) error {
	payload, err := json.Marshal(tasks.IngestDocumentPayload{Document: *doc})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	task := asynq.NewTask(tasks.TypeIngestDocument, payload)

	// the ingestion pipeline handles embedding retries itself; queue-level
	// retries cover worker crashes
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
