package ports

import (
	"context"
	"time"

	"signals-backend/domain/core/valueobjects"
)

// CompletionRequest is a single prompt sent to an AI provider.
type CompletionRequest struct {
	System        string
	Prompt        string
	Model         string
	CredentialRef string
	Temperature   float32
	MaxTokens     int
	JSON          bool
}

// Completion is a provider response.
type Completion struct {
	Text   string
	Tokens int
}

// AIProvider completes prompts. Failures are returned as Provider AppErrors whose
// Retryable flag marks transient conditions.
type AIProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ProviderRegistry maps an account to the provider client that serves it.
type ProviderRegistry interface {
	ProviderFor(ctx context.Context, account valueobjects.LLMAccount) (AIProvider, error)
}

// Metrics records orchestration measurements.
type Metrics interface {
	RecordProviderCall(provider, model, outcome string, duration time.Duration)
	RecordOperation(operation, outcome string, duration time.Duration)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordProviderCall(string, string, string, time.Duration) {}
func (NoopMetrics) RecordOperation(string, string, time.Duration)            {}
