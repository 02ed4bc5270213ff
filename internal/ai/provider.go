package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	TaskTypeQuery    = "RETRIEVAL_QUERY"
	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// IChat is a chat-completion endpoint. Stream returns the raw server-sent-event
// body of a streaming completion; the caller owns and must close it.
type IChat interface {
	Complete(ctx context.Context, req *ChatRequest) (string, error)
	Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error)
}

type IChatProvider interface {
	IChat
	Name() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type chatModel struct {
	provider IChatProvider
	model    string
}

// NewChat binds a provider to a default model.
func NewChat(p IChatProvider, model string) IChat {
	return &chatModel{provider: p, model: model}
}

func (m *chatModel) withModel(req *ChatRequest) *ChatRequest {
	if req.Model != "" {
		return req
	}
	clone := *req
	clone.Model = m.model
	return &clone
}

func (m *chatModel) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	return m.provider.Complete(ctx, m.withModel(req))
}

func (m *chatModel) Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	return m.provider.Stream(ctx, m.withModel(req))
}

type ChatFactory func(args interface{}) (IChatProvider, error)

type EmbedFactory func(model string, args interface{}) (IEmbedder, error)

var (
	registryMu    sync.RWMutex
	chatRegistry  = map[string]ChatFactory{}
	embedRegistry = map[string]EmbedFactory{}
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func RegisterChat(name string, factory ChatFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	chatRegistry[key] = factory
	registryMu.Unlock()
}

func RegisterEmbedder(name string, factory EmbedFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	embedRegistry[key] = factory
	registryMu.Unlock()
}

func NewChatProvider(name string, args interface{}) (IChatProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai chat provider is required")
	}
	registryMu.RLock()
	factory := chatRegistry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai chat provider: %s", name)
	}
	return factory(args)
}

func NewEmbedder(name string, model string, args interface{}) (IEmbedder, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai embed provider is required")
	}
	registryMu.RLock()
	factory := embedRegistry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai embed provider: %s", name)
	}
	return factory(model, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode provider config: %w", err)
	}
	return nil
}
