package adapters

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const GeminiName = "gemini"

// GeminiCompleter answers prompts through the Gemini API.
type GeminiCompleter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiCompleter builds a client against the Gemini API backend. The
// model defaults to "gemini-2.5-flash" and each call is bounded by
// cfg.Timeout (15s when unset).
func NewGeminiCompleter(ctx context.Context, cfg ProviderConfig, model string) (*GeminiCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewConfigError(GeminiName, "API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		qe := NewConfigError(GeminiName, "failed to initialize client")
		qe.Cause = err
		return nil, qe
	}
	return &GeminiCompleter{client: client, model: model, timeout: cfg.Timeout}, nil
}

func (g *GeminiCompleter) Name() string { return GeminiName }

// Complete runs one low-temperature generation.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	})
	if err != nil {
		var qe *QuoteError
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			qe = NewTimeoutError("", "generation timed out", err)
		} else {
			qe = NewProviderError("", "generation failed", err)
		}
		qe.Provider = GeminiName
		return "", qe
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		qe := NewParseError("", "empty completion", nil)
		qe.Provider = GeminiName
		return "", qe
	}
	return text, nil
}
