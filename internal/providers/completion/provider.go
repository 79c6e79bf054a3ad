package completion

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/microsaas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultPrompt   = "Say hello"
	MaxPromptLength = 4000
)

// Generator produces the paid output for a prompt once a credit has been reserved.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

var Module = fx.Module("providers.completion",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Generator {
	log = log.Named("completion")
	if strings.TrimSpace(cfg.Completion.APIKey) == "" {
		log.Info("completion api key not set; serving demo output")
		return Demo{}
	}
	return NewOpenRouter(cfg.Completion, nil, log)
}

// NormalizePrompt applies the default prompt and the length cap.
func NormalizePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return DefaultPrompt
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return string([]rune(prompt)[:MaxPromptLength])
	}
	return prompt
}

// Demo echoes the prompt. It is the fallback whenever no model is reachable.
type Demo struct{}

func (Demo) Generate(_ context.Context, prompt string) (string, error) {
	return DemoOutput(prompt), nil
}

func (Demo) Model() string { return "demo" }

func DemoOutput(prompt string) string {
	return "Demo output for: " + prompt
}
