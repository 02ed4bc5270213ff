package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/model"
)

type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	ListRecent(ctx context.Context, sessionID string, limit uint) ([]model.Message, error)
}

type HistoryCache interface {
	Get(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	Set(ctx context.Context, sessionID string, messages []model.Message) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Transcript is the message log of chat sessions. The recent history window
// is served from cache when one is configured; every append invalidates it.
type Transcript struct {
	messages MessageStore
	cache    HistoryCache
	window   int
}

func NewTranscript(messages MessageStore, cache HistoryCache, window int) *Transcript {
	if window <= 0 {
		window = DefaultHistoryTurns
	}
	return &Transcript{messages: messages, cache: cache, window: window}
}

func (t *Transcript) SaveMessage(ctx context.Context, msg *model.Message) error {
	if err := t.messages.Create(ctx, msg); err != nil {
		return err
	}
	if t.cache != nil {
		if err := t.cache.Invalidate(ctx, msg.SessionID); err != nil {
			logutil.GetLogger(ctx).Warn("invalidate history cache failed",
				zap.String("session_id", msg.SessionID), zap.Error(err))
		}
	}
	return nil
}

// History returns the last window messages of a session, oldest first.
func (t *Transcript) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	if t.cache != nil {
		items, ok, err := t.cache.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("read history cache failed", zap.Error(err))
		}
		if ok {
			return items, nil
		}
	}
	items, err := t.messages.ListRecent(ctx, sessionID, uint(t.window))
	if err != nil {
		return nil, err
	}
	if t.cache != nil {
		if err := t.cache.Set(ctx, sessionID, items); err != nil {
			logger.Warn("fill history cache failed", zap.Error(err))
		}
	}
	return items, nil
}

func (t *Transcript) Recent(ctx context.Context, sessionID string, limit uint) ([]model.Message, error) {
	return t.messages.ListRecent(ctx, sessionID, limit)
}

// DiscardTranscript drops every message; used where answers are not part of a
// stored conversation.
type DiscardTranscript struct{}

func (DiscardTranscript) SaveMessage(ctx context.Context, msg *model.Message) error {
	return nil
}
