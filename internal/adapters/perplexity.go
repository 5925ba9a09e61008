package adapters

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const PerplexityName = "perplexity"

// PerplexityCompleter calls the OpenAI-compatible chat completions endpoint.
type PerplexityCompleter struct {
	*jsonClient
	apiKey string
	model  string
}

// NewPerplexityCompleter requires an API key; model defaults to "sonar".
func NewPerplexityCompleter(cfg ProviderConfig, model string) (*PerplexityCompleter, error) {
	if cfg.Name == "" {
		cfg.Name = PerplexityName
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewConfigError(cfg.Name, "API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if model == "" {
		model = "sonar"
	}
	return &PerplexityCompleter{
		jsonClient: newJSONClient(cfg.Name, cfg.BaseURL, cfg.Timeout, cfg.HTTPClient),
		apiKey:     cfg.APIKey,
		model:      model,
	}, nil
}

// Name returns the provider name.
func (p *PerplexityCompleter) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message.
func (p *PerplexityCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a financial data assistant. Be precise and concise."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
	}
	header := http.Header{"Authorization": {"Bearer " + p.apiKey}}
	var resp chatResponse
	if err := p.postJSON(ctx, "", "/chat/completions", header, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", p.stamp(NewParseError("", "empty completion", nil))
	}
	return resp.Choices[0].Message.Content, nil
}
