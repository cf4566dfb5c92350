package api

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/aswinpradeepc/llmsearch/internal/config"
	"github.com/aswinpradeepc/llmsearch/internal/infra"
	"github.com/aswinpradeepc/llmsearch/internal/logger"
	"github.com/aswinpradeepc/llmsearch/internal/queue"
	"github.com/aswinpradeepc/llmsearch/internal/rag"
)

// AppContainer wires the pipeline components together.
type AppContainer struct {
	Cfg *config.Config

	DB    *gorm.DB      // nil when the catalog is disabled
	Redis *redis.Client // nil when redis is disabled

	Embedder     rag.EmbeddingProvider
	Index        rag.VectorIndex
	Generator    rag.AnswerGenerator
	Ingestor     *rag.Ingestor
	QueryService *rag.QueryService
	QueueClient  queue.Client
}

// BuildContainer constructs every component from configuration.
func BuildContainer(cfg *config.Config) (*AppContainer, error) {
	log := logger.Get()

	var db *gorm.DB
	if cfg.Database.Host != "" {
		var err error
		db, err = infra.InitDatabase(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(&rag.DocumentRecord{}); err != nil {
				return nil, fmt.Errorf("migrate catalog: %w", err)
			}
		}
	} else {
		log.Info("document catalog disabled, no database host configured")
	}

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		var err error
		redisClient, err = infra.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	} else {
		log.Info("redis disabled, embedding cache is in-process only and ingestion runs without a queue")
	}

	openaiTimeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second

	base := rag.NewOpenAIEmbeddingProvider(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.EmbeddingModel,
		cfg.RAG.MaxInputChars,
		openaiTimeout,
	)
	cache := rag.NewEmbeddingCache(redisClient, "emb", cfg.RAG.CacheTTLDuration())
	embedder := rag.NewCachedEmbeddingProvider(base, cache)

	index, err := buildVectorIndex(cfg, db)
	if err != nil {
		return nil, err
	}

	generator := rag.NewOpenAIAnswerGenerator(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.CompletionModel,
		openaiTimeout,
	)

	chunker := rag.NewChunker(cfg.RAG.ChunkSize)
	ingestor := rag.NewIngestor(chunker, embedder, index, db, rag.IngestorOptions{
		EmbedBatchSize:  cfg.RAG.EmbedBatchSize,
		UpsertBatchSize: cfg.RAG.UpsertBatchSize,
		MaxContentChars: cfg.RAG.MaxInputChars,
		MaxRetries:      cfg.RAG.MaxRetries,
		RetryBackoff:    time.Duration(cfg.RAG.RetryBackoffMS) * time.Millisecond,
	})

	queryService := rag.NewQueryService(embedder, index, generator, rag.QueryServiceOptions{
		DefaultTopK:   cfg.RAG.TopK,
		ContextBudget: cfg.RAG.ContextBudget,
	})

	// the queue rides on redis; without it the ingestion endpoint reports
	// the queue as unavailable instead of dialing a dead broker
	var queueClient queue.Client
	if redisClient != nil {
		queueClient = queue.NewClient(cfg.Redis)
	}

	return &AppContainer{
		Cfg:          cfg,
		DB:           db,
		Redis:        redisClient,
		Embedder:     embedder,
		Index:        index,
		Generator:    generator,
		Ingestor:     ingestor,
		QueryService: queryService,
		QueueClient:  queueClient,
	}, nil
}

func buildVectorIndex(cfg *config.Config, db *gorm.DB) (rag.VectorIndex, error) {
	switch cfg.VectorStore.Type {
	case "pgvector":
		if db == nil {
			return nil, fmt.Errorf("pgvector store requires a database host")
		}
		return rag.NewPGVectorStore(db, cfg.RAG.Dimension)
	case "", "pinecone":
		pc := cfg.VectorStore.Pinecone
		return rag.NewPineconeStore(rag.PineconeOptions{
			APIKey:       pc.APIKey,
			ControlPlane: pc.ControlPlane,
			IndexHost:    pc.IndexHost,
			IndexName:    pc.IndexName,
			Dimension:    cfg.RAG.Dimension,
			Metric:       cfg.RAG.Metric,
			Cloud:        pc.Cloud,
			Region:       pc.Region,
			Timeout:      time.Duration(pc.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.VectorStore.Type)
	}
}

// Close releases the container's connections.
func (c *AppContainer) Close() {
	if c.QueueClient != nil {
		c.QueueClient.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Get().Warn("close redis failed")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
