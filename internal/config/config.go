package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	FileStore   FileStoreConfig  `json:"file_store"`
	AI          AIConfig         `json:"ai"`
	EmbedCache  EmbedCacheConfig `json:"embed_cache"`
	Retrieval   RetrievalConfig  `json:"retrieval"`
	Chat        ChatConfig       `json:"chat"`
	Upload      UploadConfig     `json:"upload"`
	Redis       RedisConfig      `json:"redis"`
	Queue       QueueConfig      `json:"queue"`
	Jobs        JobsConfig       `json:"jobs"`
	Telemetry   TelemetryConfig  `json:"telemetry"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// FileStoreConfig selects a blob backend; Data is decoded by the backend itself.
type FileStoreConfig struct {
	Type          string      `json:"type"`
	Data          interface{} `json:"data"`
	SignedURLTTL  int64       `json:"signed_url_ttl"`
	SigningSecret string      `json:"signing_secret"`
}

type ChatProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type EmbedProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type BreakerConfig struct {
	MaxRequests      uint32 `json:"max_requests"`
	IntervalSeconds  int64  `json:"interval_seconds"`
	TimeoutSeconds   int64  `json:"timeout_seconds"`
	FailureThreshold uint32 `json:"failure_threshold"`
}

type AIConfig struct {
	Chat         []ChatProviderConfig `json:"chat"`
	Embed        EmbedProviderConfig  `json:"embed"`
	MaxTokens    int                  `json:"max_tokens"`
	Temperature  *float64             `json:"temperature"`
	Timeout      int64                `json:"timeout"`
	RateLimitRPS float64              `json:"rate_limit_rps"`
	RateBurst    int                  `json:"rate_burst"`
	Breaker      BreakerConfig        `json:"breaker"`
}

type EmbedCacheConfig struct {
	LRUSize       int   `json:"lru_size"`
	LRUTTLSeconds int64 `json:"lru_ttl_seconds"`
	DBCache       bool  `json:"db_cache"`
	MaxAgeDays    int   `json:"max_age_days"`
}

type RetrievalConfig struct {
	ChunkSize int `json:"chunk_size"`
}

type ChatConfig struct {
	HistoryWindow       int   `json:"history_window"`
	HistoryCacheSeconds int64 `json:"history_cache_seconds"`
	RateLimitSeconds    int64 `json:"rate_limit_seconds"`
}

type UploadConfig struct {
	MaxBytes int64 `json:"max_bytes"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type QueueConfig struct {
	Enabled      bool `json:"enabled"`
	Concurrency  int  `json:"concurrency"`
	MaxRetry     int  `json:"max_retry"`
	InlineWorker bool `json:"inline_worker"`
}

type JobsConfig struct {
	EmbeddingCacheCleanup string `json:"embedding_cache_cleanup"`
	IndexRepair           string `json:"index_repair"`
}

type TelemetryConfig struct {
	ServiceName  string  `json:"service_name"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRatio  float64 `json:"sample_ratio"`
}

const (
	defaultChunkSize     = 600
	defaultHistoryWindow = 10
	defaultSignedURLTTL  = 180
	defaultMaxTokens     = 512
	defaultTemperature   = 0.1
	defaultChatModel     = "openai/gpt-3.5-turbo"
	defaultEmbedModel    = "all-MiniLM-L6-v2"
)

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := decode(filepath.Ext(path), raw)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(ext string, raw []byte) (*Config, error) {
	var generic map[string]interface{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
	default:
		cfg := &Config{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	if c.FileStore.SignedURLTTL <= 0 {
		c.FileStore.SignedURLTTL = defaultSignedURLTTL
	}
	if c.FileStore.SigningSecret == "" {
		c.FileStore.SigningSecret = c.JWTSecret
	}
	if len(c.AI.Chat) == 0 {
		c.AI.Chat = []ChatProviderConfig{{Name: "openrouter", Provider: "openrouter"}}
	}
	for i := range c.AI.Chat {
		item := &c.AI.Chat[i]
		if item.Provider == "" {
			return fmt.Errorf("ai.chat[%d].provider is required", i)
		}
		if item.Name == "" {
			item.Name = item.Provider
		}
		if item.Model == "" {
			item.Model = defaultChatModel
		}
	}
	if c.AI.Embed.Provider == "" {
		c.AI.Embed.Provider = "onnx"
	}
	if c.AI.Embed.Model == "" {
		c.AI.Embed.Model = defaultEmbedModel
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = defaultMaxTokens
	}
	if c.AI.Temperature == nil {
		t := defaultTemperature
		c.AI.Temperature = &t
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60
	}
	if c.Retrieval.ChunkSize <= 0 {
		c.Retrieval.ChunkSize = defaultChunkSize
	}
	if c.Chat.HistoryWindow <= 0 {
		c.Chat.HistoryWindow = defaultHistoryWindow
	}
	if c.Chat.HistoryCacheSeconds <= 0 {
		c.Chat.HistoryCacheSeconds = 600
	}
	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = 20 << 20
	}
	if c.Queue.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when queue is enabled")
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	if c.Queue.MaxRetry <= 0 {
		c.Queue.MaxRetry = 3
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "docchat"
	}
	return nil
}
