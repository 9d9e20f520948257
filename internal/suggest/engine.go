package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/time/rate"

	"calsuggest/internal/config"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

// Engine asks an OpenAI-compatible chat completion endpoint for suggestions.
type Engine struct {
	cli     openai.Client
	model   string
	limiter *rate.Limiter
}

// NewEngine builds an engine from config. Extra request options are
// appended after the configured ones.
func NewEngine(cfg config.LLMConfig, opts ...option.RequestOption) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("suggest: llm.api_key is empty (set it or OPENAI_API_KEY)")
	}
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(2)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 20
	}
	return &Engine{
		cli:     openai.NewClient(append(base, opts...)...),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}, nil
}

// Suggest runs one suggestion round and returns the proposed events.
func (e *Engine) Suggest(ctx context.Context, req Request) ([]model.EventTemplate, error) {
	if strings.TrimSpace(req.Request) == "" {
		return nil, errors.New("suggest: empty request")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	appLog.Info("suggest: asking model", "model", e.model, "events", len(req.Schedule), "feedback", len(req.Feedback))

	resp, err := e.cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.New("suggest: empty response from model")
	}

	content := resp.Choices[0].Message.Content
	out, err := ParseResponse(content, req.location(), req.Title)
	if err != nil {
		appLog.Error("suggest: unusable model response", err, "content", content)
		return nil, err
	}
	return out, nil
}
