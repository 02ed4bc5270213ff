package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openaiConfig struct {
	BaseURL   string `json:"base_url"`
	APIKeyEnv string `json:"api_key_env"`
}

// compatClient speaks the OpenAI chat-completions wire format, shared by every
// OpenAI-compatible gateway.
type compatClient struct {
	name      string
	baseURL   string
	apiKeyEnv string
	headers   map[string]string
	client    *http.Client
}

type compatChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type compatChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type compatEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type compatEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func newCompatClient(name, baseURL, apiKeyEnv string, headers map[string]string) *compatClient {
	return &compatClient{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKeyEnv: apiKeyEnv,
		headers:   headers,
		client:    &http.Client{},
	}
}

func (c *compatClient) Name() string {
	return c.name
}

// apiKey is read on every call so rotating the environment takes effect without restart.
func (c *compatClient) apiKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(c.apiKeyEnv))
	if key == "" {
		return "", fmt.Errorf("%s: env %s is empty: %w", c.name, c.apiKeyEnv, appErr.ErrMissingCredential)
	}
	return key, nil
}

func (c *compatClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s request failed: %s: %s", c.name, resp.Status, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func (c *compatClient) chatBody(req *ChatRequest, stream bool) compatChatRequest {
	return compatChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *compatClient) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	resp, err := c.post(ctx, "/chat/completions", c.chatBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out compatChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s decode response: %w", c.name, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s response has no content", c.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *compatClient) Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	resp, err := c.post(ctx, "/chat/completions", c.chatBody(req, true))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *compatClient) embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := c.post(ctx, "/embeddings", compatEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out compatEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s decode embedding: %w", c.name, err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%s embedding response is empty", c.name)
	}
	return normalizeL2(out.Data[0].Embedding), nil
}

type openaiEmbedder struct {
	client *compatClient
	model  string
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.client.embed(ctx, e.model, text)
}

func (e *openaiEmbedder) ModelName() string {
	return "openai:" + e.model
}

func loadOpenAIConfig(args interface{}) (*openaiConfig, error) {
	cfg := &openaiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.APIKeyEnv) == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	return cfg, nil
}

func createOpenAIChat(args interface{}) (IChatProvider, error) {
	cfg, err := loadOpenAIConfig(args)
	if err != nil {
		return nil, err
	}
	return newCompatClient("openai", cfg.BaseURL, cfg.APIKeyEnv, nil), nil
}

func createOpenAIEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg, err := loadOpenAIConfig(args)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &openaiEmbedder{client: newCompatClient("openai", cfg.BaseURL, cfg.APIKeyEnv, nil), model: model}, nil
}

func init() {
	RegisterChat("openai", createOpenAIChat)
	RegisterEmbedder("openai", createOpenAIEmbedder)
}
