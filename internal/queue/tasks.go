// Package queue moves document processing onto asynq workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/config"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const (
	TaskIndexDocument = "document:index"
	queueName         = "documents"
	taskTimeout       = 10 * time.Minute
)

type IndexPayload struct {
	DocumentID string `json:"document_id"`
}

// Processor runs extraction and indexing for a stored document.
type Processor interface {
	Process(ctx context.Context, documentID string) error
}

func NewIndexTask(documentID string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Queue(queueName),
		asynq.TaskID("index:"+documentID),
	), nil
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client   *asynq.Client
	maxRetry int
}

func NewClient(redisCfg config.RedisConfig, queueCfg config.QueueConfig) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt(redisCfg)),
		maxRetry: queueCfg.MaxRetry,
	}
}

// EnqueueIndex schedules processing; a task already pending for the document is kept.
func (c *Client) EnqueueIndex(ctx context.Context, documentID string) error {
	task, err := NewIndexTask(documentID, c.maxRetry)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logutil.GetLogger(ctx).Info("index task already queued", zap.String("document_id", documentID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue index task: %w", err)
	}
	logutil.GetLogger(ctx).Info("index task enqueued",
		zap.String("document_id", documentID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IndexHandler adapts a Processor to an asynq handler. Failures that cannot
// succeed on retry are marked with asynq.SkipRetry.
func IndexHandler(p Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IndexPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID == "" {
			return fmt.Errorf("bad index payload: %w", asynq.SkipRetry)
		}
		err := p.Process(ctx, payload.DocumentID)
		if err == nil {
			return nil
		}
		if errors.Is(err, appErr.ErrNoText) || errors.Is(err, appErr.ErrNotFound) || errors.Is(err, appErr.ErrUnsupportedFileType) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(redisCfg config.RedisConfig, queueCfg config.QueueConfig, p Processor) *Server {
	srv := asynq.NewServer(redisOpt(redisCfg), asynq.Config{
		Concurrency: queueCfg.Concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logutil.GetLogger(ctx).Error("task failed",
				zap.String("type", task.Type()),
				zap.ByteString("payload", task.Payload()),
				zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskIndexDocument, IndexHandler(p))
	return &Server{srv: srv, mux: mux}
}

func (s *Server) Start() error {
	return s.srv.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
