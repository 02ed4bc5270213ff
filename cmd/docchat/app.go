package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/cache"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/db"
	"github.com/xxxsen/docchat/internal/embedcache"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/queue"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/service"
)

func loadConfig(path string, console bool) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console && console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

type app struct {
	cfg        *config.Config
	db         *sql.DB
	redis      *redis.Client
	queue      *queue.Client
	store      filestore.Store
	chat       ai.IChat
	docRepo    *repo.DocumentRepo
	cacheRepo  *repo.EmbeddingCacheRepo
	retriever  *service.Retriever
	documents  *service.DocumentService
	chatSvc    *service.ChatService
	mcpAnswers *service.AnswerPipeline
}

func newApp(cfg *config.Config) (*app, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, db: conn}
	if err := db.ApplyMigrations(conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	a.docRepo = repo.NewDocumentRepo(a.db)
	a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db)
	chunkRepo := repo.NewChunkRepo(a.db)
	sessionRepo := repo.NewSessionRepo(a.db)
	messageRepo := repo.NewMessageRepo(a.db)

	embedder, err := buildEmbedder(cfg, a.cacheRepo)
	if err != nil {
		return err
	}
	a.chat, err = buildChat(cfg)
	if err != nil {
		return err
	}
	a.store, err = filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	var history service.HistoryCache
	if cfg.Redis.Addr != "" {
		a.redis = cache.NewRedisClient(cfg.Redis)
		history = cache.NewHistoryCache(a.redis, time.Duration(cfg.Chat.HistoryCacheSeconds)*time.Second)
	}
	var enqueuer service.IndexEnqueuer
	if cfg.Queue.Enabled {
		a.queue = queue.NewClient(cfg.Redis, cfg.Queue)
		enqueuer = a.queue
	}

	transcript := service.NewTranscript(messageRepo, history, cfg.Chat.HistoryWindow)
	generation := service.WithGeneration(cfg.AI.MaxTokens, *cfg.AI.Temperature)
	a.retriever = service.NewRetriever(embedder, chunkRepo)
	indexer := service.NewIndexer(chunkRepo, a.docRepo, embedder, cfg.Retrieval.ChunkSize)
	a.documents = service.NewDocumentService(a.docRepo, a.store, indexer, enqueuer, service.DocumentServiceConfig{
		SignedURLTTL: time.Duration(cfg.FileStore.SignedURLTTL) * time.Second,
		MaxBytes:     cfg.Upload.MaxBytes,
	})
	pipeline := service.NewAnswerPipeline(a.chat, transcript, generation, service.WithHistoryTurns(cfg.Chat.HistoryWindow))
	a.chatSvc = service.NewChatService(sessionRepo, a.docRepo, transcript, a.retriever, pipeline)
	a.mcpAnswers = service.NewAnswerPipeline(a.chat, service.DiscardTranscript{}, generation)
	return nil
}

func (a *app) Close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildEmbedder(cfg *config.Config, store embedcache.Store) (ai.IEmbedder, error) {
	embedder, err := ai.NewEmbedder(cfg.AI.Embed.Provider, cfg.AI.Embed.Model, cfg.AI.Embed.Data)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cfg.EmbedCache.DBCache {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, store)
	}
	ttl := time.Duration(cfg.EmbedCache.LRUTTLSeconds) * time.Second
	return embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize, ttl), nil
}

// buildChat guards every configured provider and chains them in order.
func buildChat(cfg *config.Config) (ai.IChat, error) {
	entries := make([]ai.ChatEntry, 0, len(cfg.AI.Chat))
	for _, item := range cfg.AI.Chat {
		provider, err := ai.NewChatProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init chat provider %s: %w", item.Name, err)
		}
		chat := ai.WithGuard(ai.NewChat(provider, item.Model), ai.GuardConfig{
			Name:             item.Name,
			MaxRequests:      cfg.AI.Breaker.MaxRequests,
			Interval:         time.Duration(cfg.AI.Breaker.IntervalSeconds) * time.Second,
			Timeout:          time.Duration(cfg.AI.Breaker.TimeoutSeconds) * time.Second,
			FailureThreshold: cfg.AI.Breaker.FailureThreshold,
			RPS:              cfg.AI.RateLimitRPS,
			Burst:            cfg.AI.RateBurst,
			CallTimeout:      time.Duration(cfg.AI.Timeout) * time.Second,
		})
		entries = append(entries, ai.ChatEntry{Name: item.Name, Chat: chat})
	}
	chat := ai.NewChatGroup(entries)
	if chat == nil {
		return nil, fmt.Errorf("no chat provider configured")
	}
	return chat, nil
}
