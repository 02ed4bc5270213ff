package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ChatEntry struct {
	Name string
	Chat IChat
}

type chatGroup struct {
	items []ChatEntry
}

// NewChatGroup returns a chat that tries each entry in order until one succeeds.
// A single entry is returned unwrapped.
func NewChatGroup(items []ChatEntry) IChat {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0].Chat
	}
	return &chatGroup{items: items}
}

func (g *chatGroup) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Chat.Complete(ctx, req)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("chat provider failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return "", fmt.Errorf("chat provider not configured")
	}
	return "", lastErr
}

func (g *chatGroup) Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	var lastErr error
	for i, item := range g.items {
		body, err := item.Chat.Stream(ctx, req)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("chat provider stream failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("chat provider not configured")
	}
	return nil, lastErr
}
