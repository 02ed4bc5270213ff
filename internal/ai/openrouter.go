package ai

import "strings"

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterTitle   = "Document Chat App"
)

type openrouterConfig struct {
	BaseURL     string `json:"base_url"`
	APIKeyEnv   string `json:"api_key_env"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
}

func createOpenRouterChat(args interface{}) (IChatProvider, error) {
	cfg := &openrouterConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	keyEnv := strings.TrimSpace(cfg.APIKeyEnv)
	if keyEnv == "" {
		keyEnv = "OPENROUTER_API_KEY"
	}
	title := strings.TrimSpace(cfg.XTitle)
	if title == "" {
		title = defaultOpenRouterTitle
	}
	return newCompatClient("openrouter", baseURL, keyEnv, map[string]string{
		"HTTP-Referer": strings.TrimSpace(cfg.HTTPReferer),
		"X-Title":      title,
	}), nil
}

func init() {
	RegisterChat("openrouter", createOpenRouterChat)
}
