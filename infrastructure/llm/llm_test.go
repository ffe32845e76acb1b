package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/infrastructure/config"
	pkgerrors "signals-backend/pkg/errors"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{name: "throttled", status: 429, err: errors.New("x"), want: true},
		{name: "server error", status: 503, err: errors.New("x"), want: true},
		{name: "bad request", status: 400, err: errors.New("x"), want: false},
		{name: "unauthorized", status: 401, err: errors.New("x"), want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "unknown", err: errors.New("x"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.status, tt.err))
		})
	}
}

func TestMockProvider(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	out, err := m.Complete(ctx, ports.CompletionRequest{Prompt: "walking through the forest forest", JSON: true})
	require.NoError(t, err)
	var payload struct {
		Temperature float64  `json:"signal_temperature"`
		Density     float64  `json:"signal_density"`
		Keywords    []string `json:"keywords"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Text), &payload))
	assert.GreaterOrEqual(t, payload.Temperature, -1.0)
	assert.LessOrEqual(t, payload.Temperature, 1.0)
	assert.GreaterOrEqual(t, payload.Density, 0.0)
	assert.LessOrEqual(t, payload.Density, 1.0)
	assert.Equal(t, "forest", payload.Keywords[0])

	again, err := m.Complete(ctx, ports.CompletionRequest{Prompt: "walking through the forest forest", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, out.Text, again.Text)

	m.SetAvailable(false)
	_, err = m.Complete(ctx, ports.CompletionRequest{Prompt: "x"})
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestRegistry_ProviderFor(t *testing.T) {
	creds := config.NewCredentialStore(map[string]config.Credential{"openai-main": {APIKey: "sk-test"}})
	r := NewRegistry(creds, true, zap.NewNop())
	ctx := context.Background()

	p, err := r.ProviderFor(ctx, valueobjects.LLMAccount{AccountID: "a1", Provider: "OpenAI", Model: "gpt-4o-mini", CredentialRef: "openai-main"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	cached, err := r.ProviderFor(ctx, valueobjects.LLMAccount{AccountID: "a2", Provider: "openai", Model: "gpt-4o", CredentialRef: "openai-main"})
	require.NoError(t, err)
	assert.Same(t, p, cached)

	_, err = r.ProviderFor(ctx, valueobjects.LLMAccount{AccountID: "a3", Provider: "openai", Model: "m", CredentialRef: "missing"})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeAccountNotConfigured))

	_, err = r.ProviderFor(ctx, valueobjects.LLMAccount{AccountID: "a4", Provider: "unknown", Model: "m"})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeAccountNotConfigured))

	mock, err := r.ProviderFor(ctx, valueobjects.LLMAccount{AccountID: "a5", Provider: "mock", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, mock.Name())
}

func TestRegistry_MockRequiresOptIn(t *testing.T) {
	r := NewRegistry(config.NewCredentialStore(nil), false, zap.NewNop())
	_, err := r.ProviderFor(context.Background(), valueobjects.LLMAccount{AccountID: "a1", Provider: "mock", Model: "m"})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeAccountNotConfigured))
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body["model"] == "throttled" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		if body["model"] == "forbidden" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.Credential{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	out, err := p.Complete(ctx, ports.CompletionRequest{Model: "gpt-4o-mini", System: "s", Prompt: "p", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, 5, out.Tokens)

	_, err = p.Complete(ctx, ports.CompletionRequest{Model: "throttled", Prompt: "p"})
	assert.True(t, pkgerrors.IsRetryable(err))

	_, err = p.Complete(ctx, ports.CompletionRequest{Model: "forbidden", Prompt: "p"})
	assert.True(t, pkgerrors.IsProvider(err))
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestNewProviders_RequireKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.Credential{})
	assert.Error(t, err)
	_, err = NewGeminiProvider(context.Background(), config.Credential{})
	assert.Error(t, err)
}
