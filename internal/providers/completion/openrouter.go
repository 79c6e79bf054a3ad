package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/smallbiznis/microsaas/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	systemPrompt     = "Fast practical output."
	maxResponseBytes = 1 << 20
)

var ErrEmptyCompletion = errors.New("empty completion")

// OpenRouter calls an OpenAI-compatible chat completions endpoint and falls back
// to the demo output when the call fails.
type OpenRouter struct {
	cfg    config.CompletionConfig
	client *http.Client
	log    *zap.Logger
}

func NewOpenRouter(cfg config.CompletionConfig, client *http.Client, log *zap.Logger) *OpenRouter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenRouter{cfg: cfg, client: client, log: log}
}

func (o *OpenRouter) Model() string { return o.cfg.Model }

func (o *OpenRouter) Generate(ctx context.Context, prompt string) (string, error) {
	content, err := o.complete(ctx, prompt)
	if err != nil {
		logger.WithContext(ctx, o.log).Warn("completion failed; serving demo output",
			zap.String("model", o.cfg.Model),
			zap.Error(err),
		)
		return DemoOutput(prompt), nil
	}
	return content, nil
}

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

func (o *OpenRouter) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", err
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
