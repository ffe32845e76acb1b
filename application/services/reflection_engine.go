package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

// ReflectionEngine generates narrative content for a subject and records every attempt in
// the reflection's history.
type ReflectionEngine struct {
	invoker  *ProviderInvoker
	material *materialLoader
	cfg      *config.DomainConfig
	logger   *zap.Logger
}

// NewReflectionEngine creates a new reflection engine
func NewReflectionEngine(
	invoker *ProviderInvoker,
	signals ports.SignalRepository,
	clusters ports.ClusterRepository,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *ReflectionEngine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ReflectionEngine{
		invoker:  invoker,
		material: &materialLoader{signals: signals, clusters: clusters, cfg: cfg},
		cfg:      cfg,
		logger:   logger,
	}
}

// Generate runs one generation for reflection, whose subject must already be resolved.
//
// Success and failure both append a history entry; only success replaces content. A
// failure is returned as ReflectionFailed (or the underlying error when it was not a
// provider failure) after being recorded. A cancelled ctx records nothing.
func (e *ReflectionEngine) Generate(
	ctx context.Context,
	subject *Subject,
	reflection *entities.Reflection,
	account valueobjects.LLMAccount,
	settings valueobjects.LLMSettings,
) (rec entities.GenerationRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "ReflectionEngine.Generate",
		attribute.String("subject", subject.Ref.Key()),
		attribute.String("reflection.type", string(reflection.Type())))
	defer func() { observability.EndSpan(span, err) }()

	material, err := e.material.subjectMaterial(ctx, subject)
	if err != nil {
		return entities.GenerationRecord{}, err
	}
	prompt := buildReflectionPrompt(subject, material, reflection.Type(), settings,
		reflection.History(), e.cfg.MaxPromptHistoryEntries)

	inv, callErr := e.invoker.Invoke(ctx, account, ports.CompletionRequest{
		System:      "You write reflections on a person's captured observations.",
		Prompt:      prompt,
		Temperature: 0.8,
		MaxTokens:   800,
	}, nonEmpty)
	if ctxErr := ctx.Err(); callErr != nil && ctxErr != nil {
		return entities.GenerationRecord{}, ctxErr
	}

	rec = entities.GenerationRecord{
		Timestamp: time.Now().UTC(),
		AccountID: account.AccountID,
		Provider:  inv.Provider,
		Model:     account.Model,
		Prompt:    prompt,
		Attempts:  inv.Attempts,
	}
	if callErr != nil {
		rec.Error = failureReason(callErr)
		reflection.RecordGeneration(rec)
		e.logger.Warn("Reflection generation failed",
			zap.String("reflectionID", reflection.ID()),
			zap.String("subject", subject.Ref.Key()),
			zap.Int("attempts", inv.Attempts),
			zap.Error(callErr))
		if pkgerrors.IsProvider(callErr) {
			return rec, pkgerrors.NewReflectionFailedError(
				fmt.Sprintf("reflection failed after %d attempt(s)", inv.Attempts), callErr)
		}
		return rec, callErr
	}

	rec.Response = strings.TrimSpace(inv.Completion.Text)
	rec.Tokens = inv.Completion.Tokens
	reflection.RecordGeneration(rec)
	return rec, nil
}

func nonEmpty(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty response")
	}
	return nil
}
