package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/handler"
	"github.com/xxxsen/docchat/internal/job"
	"github.com/xxxsen/docchat/internal/mcpserver"
	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/queue"
	"github.com/xxxsen/docchat/internal/schedule"
	"github.com/xxxsen/docchat/internal/telemetry"
)

var version = "dev"

const streamPath = "/api/v1/chat/stream"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "docchat",
		Short:        "chat with your documents",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (.json, .yaml, .toml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, true, runServer)
		},
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "process queued indexing tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, true, runWorker)
		},
	}

	var documentID string
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "backfill missing chunks of one or all repairable documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, true, func(ctx context.Context, a *app) error {
				return runReindex(ctx, a, documentID, cmd.OutOrStdout())
			})
		},
	}
	reindexCmd.Flags().StringVar(&documentID, "document", "", "document id; all partial or failed documents when empty")

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "serve search and ask tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol
			return withApp(configPath, false, func(ctx context.Context, a *app) error {
				return mcpserver.New(version, a.retriever, a.mcpAnswers, a.docRepo).Serve(ctx)
			})
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping-llm",
		Short: "send a one-line prompt to the configured chat provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, true)
			if err != nil {
				return err
			}
			chat, err := buildChat(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.AI.Timeout)*time.Second)
			defer cancel()
			reply, err := chat.Complete(ctx, &ai.ChatRequest{
				Messages:  []ai.ChatMessage{{Role: ai.RoleUser, Content: "Reply with the single word: pong"}},
				MaxTokens: 16,
			})
			if err != nil {
				return fmt.Errorf("ping llm: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(reply))
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, workerCmd, reindexCmd, mcpCmd, pingCmd)
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func withApp(configPath string, console bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath, console)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logutil.GetLogger(context.Background()).Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Bool("queue", cfg.Queue.Enabled),
	)

	deps := handler.RouterDeps{
		Documents:     handler.NewDocumentHandler(a.documents, cfg.Upload.MaxBytes),
		Sessions:      handler.NewSessionHandler(a.chatSvc),
		Chat:          handler.NewChatHandler(a.chatSvc),
		Files:         handler.NewFileHandler(a.store),
		JWTSecret:     []byte(cfg.JWTSecret),
		ChatRateLimit: time.Duration(cfg.Chat.RateLimitSeconds) * time.Second,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			otelgin.Middleware(cfg.Telemetry.ServiceName),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.EmbedCache.MaxAgeDays), cfg.Jobs.EmbeddingCacheCleanup); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewIndexRepairJob(a.documents), cfg.Jobs.IndexRepair); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- engine.Run()
		}()
		logutil.GetLogger(gctx).Info("http server listening", zap.String("addr", addr))
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		scheduler.Start(gctx)
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})
	if cfg.Queue.Enabled && cfg.Queue.InlineWorker {
		g.Go(func() error {
			return serveWorker(gctx, a)
		})
	}
	err = g.Wait()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return err
}

func runWorker(ctx context.Context, a *app) error {
	if !a.cfg.Queue.Enabled {
		return fmt.Errorf("queue is not enabled")
	}
	return serveWorker(ctx, a)
}

func serveWorker(ctx context.Context, a *app) error {
	worker := queue.NewServer(a.cfg.Redis, a.cfg.Queue, a.documents)
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logutil.GetLogger(ctx).Info("index worker started", zap.Int("concurrency", a.cfg.Queue.Concurrency))
	<-ctx.Done()
	worker.Shutdown()
	return nil
}
