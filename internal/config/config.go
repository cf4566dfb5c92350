package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	RAG         RAGConfig         `mapstructure:"rag"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the document catalog database settings.
// The catalog is optional: an empty host disables it.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig holds the redis settings shared by the embedding cache
// and the task queue.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// OpenAIConfig holds credentials and model names for the OpenAI API.
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	CompletionModel string `mapstructure:"completion_model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Type     string         `mapstructure:"type"` // pinecone, pgvector
	Pinecone PineconeConfig `mapstructure:"pinecone"`
}

// PineconeConfig holds the managed similarity-search service settings.
type PineconeConfig struct {
	APIKey         string `mapstructure:"api_key"`
	ControlPlane   string `mapstructure:"control_plane"` // default https://api.pinecone.io
	IndexHost      string `mapstructure:"index_host"`    // data-plane host, discovered when empty
	IndexName      string `mapstructure:"index_name"`
	Cloud          string `mapstructure:"cloud"`
	Region         string `mapstructure:"region"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RAGConfig holds the chunking, embedding and retrieval parameters.
type RAGConfig struct {
	ChunkSize       int    `mapstructure:"chunk_size"`        // characters per chunk
	EmbedBatchSize  int    `mapstructure:"embed_batch_size"`  // chunks per embedding batch
	UpsertBatchSize int    `mapstructure:"upsert_batch_size"` // vectors per upsert flush
	MaxInputChars   int    `mapstructure:"max_input_chars"`   // embedding model input limit
	Dimension       int    `mapstructure:"dimension"`
	Metric          string `mapstructure:"metric"`
	TopK            int    `mapstructure:"top_k"`
	ContextBudget   int    `mapstructure:"context_budget"` // characters of assembled context
	MaxRetries      int    `mapstructure:"max_retries"`    // embedding sub-batch attempts
	RetryBackoffMS  int    `mapstructure:"retry_backoff_ms"`
	CacheTTL        string `mapstructure:"cache_ttl"` // e.g. "168h"
}

var globalConfig *Config

// Load reads the configuration for the given environment.
// env selects config/<env>.yaml; configPath overrides the lookup entirely.
// APP_-prefixed environment variables take precedence over file values.
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults mirrors the constants of the original ingestion scripts so a
// minimal config file still yields a working pipeline.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("openai.embedding_model", "text-embedding-ada-002")
	v.SetDefault("openai.completion_model", "gpt-4-turbo")
	v.SetDefault("openai.timeout_seconds", 30)

	v.SetDefault("vector_store.type", "pinecone")
	v.SetDefault("vector_store.pinecone.control_plane", "https://api.pinecone.io")
	v.SetDefault("vector_store.pinecone.index_name", "financial-search-index")
	v.SetDefault("vector_store.pinecone.cloud", "aws")
	v.SetDefault("vector_store.pinecone.region", "us-east-1")
	v.SetDefault("vector_store.pinecone.timeout_seconds", 10)

	v.SetDefault("rag.chunk_size", 8192)
	v.SetDefault("rag.embed_batch_size", 100)
	v.SetDefault("rag.upsert_batch_size", 100)
	v.SetDefault("rag.max_input_chars", 8192)
	v.SetDefault("rag.dimension", 1536)
	v.SetDefault("rag.metric", "cosine")
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.context_budget", 15000)
	v.SetDefault("rag.max_retries", 3)
	v.SetDefault("rag.retry_backoff_ms", 500)
	v.SetDefault("rag.cache_ttl", "168h")
}

// Get returns the globally loaded configuration.
func Get() *Config {
	if globalConfig == nil {
		panic("config not initialized, call Load() first")
	}
	return globalConfig
}

// GetDSN builds the postgres connection string for the catalog database.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr returns the redis address in host:port form.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheTTLDuration parses the embedding cache TTL, falling back to 7 days.
func (c *RAGConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}
