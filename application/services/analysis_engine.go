package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

// AnalysisResult is a validated, clamped field set ready to be applied to a signal.
type AnalysisResult struct {
	Fields   valueobjects.AnalysisFields
	Provider string
	Attempts int
	Tokens   int
}

// AnalysisEngine extracts structured fields for a signal. It never mutates the signal;
// the caller applies the result inside its unit of work.
type AnalysisEngine struct {
	invoker *ProviderInvoker
	cfg     *config.DomainConfig
	logger  *zap.Logger
}

// NewAnalysisEngine creates a new analysis engine
func NewAnalysisEngine(invoker *ProviderInvoker, cfg *config.DomainConfig, logger *zap.Logger) *AnalysisEngine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &AnalysisEngine{invoker: invoker, cfg: cfg, logger: logger}
}

// Analyze prompts account with the signal's content and realm context and returns the
// parsed fields, clamped into range. Unparseable responses are retried like transient
// failures. Exhausting the attempt budget yields AnalysisFailed; a cancelled ctx yields
// ctx.Err().
func (e *AnalysisEngine) Analyze(
	ctx context.Context,
	signal *entities.Signal,
	account valueobjects.LLMAccount,
	settings valueobjects.LLMSettings,
) (result AnalysisResult, err error) {
	ctx, span := observability.StartSpan(ctx, "AnalysisEngine.Analyze",
		attribute.String("signal.id", signal.ID()),
		attribute.String("account.id", account.AccountID))
	defer func() { observability.EndSpan(span, err) }()

	req := ports.CompletionRequest{
		System:      analysisSystemPrompt,
		Prompt:      buildAnalysisPrompt(signal, settings, e.cfg.MaxSignalExcerpt),
		Temperature: 0.2,
		MaxTokens:   400,
		JSON:        true,
	}
	inv, err := e.invoker.Invoke(ctx, account, req, func(text string) error {
		_, perr := parseAnalysis(text)
		return perr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AnalysisResult{}, ctxErr
		}
		if pkgerrors.IsProvider(err) {
			e.logger.Warn("Signal analysis exhausted its attempts",
				zap.String("signalID", signal.ID()),
				zap.String("accountID", account.AccountID),
				zap.Int("attempts", inv.Attempts),
				zap.Error(err))
			return AnalysisResult{}, pkgerrors.NewAnalysisFailedError(
				fmt.Sprintf("analysis failed after %d attempt(s)", inv.Attempts), err).
				WithDetails(map[string]interface{}{"attempts": inv.Attempts})
		}
		return AnalysisResult{}, err
	}

	fields, err := parseAnalysis(inv.Completion.Text)
	if err != nil {
		return AnalysisResult{}, pkgerrors.NewAnalysisFailedError("analysis response could not be parsed", err)
	}
	return AnalysisResult{
		Fields:   fields,
		Provider: inv.Provider,
		Attempts: inv.Attempts,
		Tokens:   inv.Completion.Tokens,
	}, nil
}
