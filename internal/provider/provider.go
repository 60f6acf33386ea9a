// Package provider proxies chat completions to third-party AI vendors
// through langchaingo models.
package provider

import (
	"context"
	"errors"
	"fmt"

	"norvis/internal/model"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrProviderFailed = errors.New("ai provider request failed")
	ErrUnknownModel   = errors.New("unknown model")
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Provider     string
	Model        string
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider generates one assistant reply for a conversation.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

type llmProvider struct {
	name string
	llm  llms.Model
}

// NewLLMProvider adapts any langchaingo model.
func NewLLMProvider(name string, llm llms.Model) Provider {
	return &llmProvider{name: name, llm: llm}
}

// NewOpenAI builds an OpenAI-compatible provider. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) (Provider, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLLMProvider("openai", llm), nil
}

func NewAnthropic(apiKey string) (Provider, error) {
	llm, err := anthropic.New(anthropic.WithToken(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return NewLLMProvider("anthropic", llm), nil
}

func (p *llmProvider) Name() string {
	return p.name
}

func (p *llmProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{llms.WithModel(req.Model)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	resp, err := p.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response")
	}

	choice := resp.Choices[0]
	out := &Response{
		Provider:   p.name,
		Model:      req.Model,
		Content:    choice.Content,
		StopReason: choice.StopReason,
	}
	out.InputTokens = infoInt(choice.GenerationInfo, "PromptTokens", "InputTokens")
	out.OutputTokens = infoInt(choice.GenerationInfo, "CompletionTokens", "OutputTokens")
	return out, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case model.RoleChatAssistant:
		return llms.ChatMessageTypeAI
	case model.RoleChatSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// infoInt returns the first integer found under keys. OpenAI and Anthropic
// report token usage under different names.
func infoInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
