package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type geminiConfig struct {
	APIKeyEnv            string `json:"api_key_env"`
	BaseURL              string `json:"base_url"`
	OutputDimensionality int32  `json:"output_dimensionality"`
}

// geminiClient creates the genai client on first use; the key is read from the
// environment each time a client is needed.
type geminiClient struct {
	keyEnv  string
	baseURL string
	mu      sync.Mutex
	client *genai.Client
	key    string
}

func (g *geminiClient) get(ctx context.Context) (*genai.Client, error) {
	key := strings.TrimSpace(os.Getenv(g.keyEnv))
	if key == "" {
		return nil, fmt.Errorf("gemini: env %s is empty: %w", g.keyEnv, appErr.ErrMissingCredential)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil && g.key == key {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return nil, err
	}
	g.client = client
	g.key = key
	return client, nil
}

type geminiChat struct {
	client *geminiClient
}

func (p *geminiChat) Name() string {
	return "gemini"
}

func buildGeminiRequest(req *ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	temperature := float32(req.Temperature)
	config.Temperature = &temperature
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
			continue
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	return contents, config
}

func (p *geminiChat) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	client, err := p.client.get(ctx)
	if err != nil {
		return "", err
	}
	contents, config := buildGeminiRequest(req)
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini response has no content")
	}
	return text, nil
}

// Stream re-encodes the genai stream as OpenAI-style delta frames so every
// provider hands the answer pipeline the same framing. The first response is
// read before returning, so a request the upstream rejects fails here instead
// of on the body.
func (p *geminiChat) Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	client, err := p.client.get(ctx)
	if err != nil {
		return nil, err
	}
	contents, config := buildGeminiRequest(req)
	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, req.Model, contents, config))
	first, err, ok := next()
	if ok && err != nil {
		stop()
		cancel()
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		defer stop()
		resp, err := first, error(nil)
		for ok {
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if err := writeGeminiFrame(pw, resp); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			resp, err, ok = next()
		}
		_, _ = io.WriteString(pw, "data: [DONE]\n\n")
		_ = pw.Close()
	}()
	return &cancelReadCloser{ReadCloser: pr, cancel: cancel}, nil
}

func writeGeminiFrame(w io.Writer, resp *genai.GenerateContentResponse) error {
	frame := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": resp.Text()}},
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "data: "+string(data)+"\n\n")
	return err
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

type geminiEmbedder struct {
	client    *geminiClient
	model     string
	outputDim int32
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	client, err := e.client.get(ctx)
	if err != nil {
		return nil, err
	}
	config := &genai.EmbedContentConfig{TaskType: taskType}
	if e.outputDim > 0 {
		dim := e.outputDim
		config.OutputDimensionality = &dim
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return normalizeL2(resp.Embeddings[0].Values), nil
}

func (e *geminiEmbedder) ModelName() string {
	return "gemini:" + e.model
}

func loadGeminiConfig(args interface{}) (*geminiConfig, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKeyEnv) == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	return cfg, nil
}

func createGeminiChat(args interface{}) (IChatProvider, error) {
	cfg, err := loadGeminiConfig(args)
	if err != nil {
		return nil, err
	}
	return &geminiChat{client: &geminiClient{keyEnv: cfg.APIKeyEnv, baseURL: cfg.BaseURL}}, nil
}

func createGeminiEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg, err := loadGeminiConfig(args)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &geminiEmbedder{
		client:    &geminiClient{keyEnv: cfg.APIKeyEnv, baseURL: cfg.BaseURL},
		model:     model,
		outputDim: cfg.OutputDimensionality,
	}, nil
}

func init() {
	RegisterChat("gemini", createGeminiChat)
	RegisterEmbedder("gemini", createGeminiEmbedder)
}
