package provider

import (
	"context"
	"errors"
	"testing"

	"norvis/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply    string
	err      error
	gotMsgs  []llms.MessageContent
	gotOpts  llms.CallOptions
	genInfo  map[string]any
	numCalls int
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.numCalls++
	f.gotMsgs = msgs
	for _, o := range options {
		o(&f.gotOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        f.reply,
		StopReason:     "stop",
		GenerationInfo: f.genInfo,
	}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestRegistryRoutesByPrefix(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())
	oa := NewLLMProvider("openai", &fakeModel{})
	an := NewLLMProvider("anthropic", &fakeModel{})
	require.NoError(t, reg.Register(oa, "gpt-", "o1", "o3", "o4"))
	require.NoError(t, reg.Register(an, "claude-"))

	p, err := reg.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = reg.Resolve("claude-3-5-haiku-latest")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = reg.Resolve("llama-3")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())
	require.NoError(t, reg.Register(NewLLMProvider("generic", &fakeModel{}), "gpt-"))
	require.NoError(t, reg.Register(NewLLMProvider("special", &fakeModel{}), "gpt-4o"))

	p, err := reg.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "special", p.Name())
}

func TestGenerateMapsRolesAndOptions(t *testing.T) {
	fm := &fakeModel{reply: "Hello!", genInfo: map[string]any{"PromptTokens": 12, "CompletionTokens": 3}}
	reg := NewRegistry(nil, zerolog.Nop())
	require.NoError(t, reg.Register(NewLLMProvider("openai", fm), "gpt-"))

	resp, err := reg.Generate(context.Background(), Request{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hey"},
			{Role: "user", Content: "how are you"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	require.Len(t, fm.gotMsgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, fm.gotMsgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fm.gotMsgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, fm.gotMsgs[2].Role)
	assert.Equal(t, "gpt-4o-mini", fm.gotOpts.Model)
	assert.Equal(t, 256, fm.gotOpts.MaxTokens)
}

func TestGenerateWrapsVendorErrors(t *testing.T) {
	m := metrics.New()
	fm := &fakeModel{err: errors.New("429 from upstream")}
	reg := NewRegistry(m, zerolog.Nop())
	require.NoError(t, reg.Register(NewLLMProvider("anthropic", fm), "claude-"))

	_, err := reg.Generate(context.Background(), Request{Model: "claude-3-5-haiku-latest"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "429 from upstream")

	n, err := testutil.GatherAndCount(m.Registry(), "norvis_provider_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnknownModelDoesNotCallProvider(t *testing.T) {
	fm := &fakeModel{}
	reg := NewRegistry(nil, zerolog.Nop())
	require.NoError(t, reg.Register(NewLLMProvider("openai", fm), "gpt-"))

	_, err := reg.Generate(context.Background(), Request{Model: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Zero(t, fm.numCalls)
}

func TestRegisterRejectsEmptyPrefixes(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())
	assert.Error(t, reg.Register(NewLLMProvider("x", &fakeModel{})))
	assert.Error(t, reg.Register(nil, "gpt-"))
}
