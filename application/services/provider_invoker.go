package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// errMalformedResponse marks a response that arrived but could not be parsed. It is retried
// like a transient failure but does not count against the provider's breaker.
var errMalformedResponse = errors.New("malformed provider response")

// ResponseParser validates a completion. A non-nil error triggers another attempt.
type ResponseParser func(text string) error

// Invocation is the outcome of one bounded retry loop against an account.
type Invocation struct {
	Completion ports.Completion
	Provider   string
	Attempts   int
}

// ProviderInvoker calls an account's provider with a per-attempt timeout, bounded
// exponential backoff and a circuit breaker per account.
type ProviderInvoker struct {
	registry ports.ProviderRegistry
	cfg      *config.DomainConfig
	metrics  ports.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	sleep func(ctx context.Context, d time.Duration) error
}

// NewProviderInvoker creates a new provider invoker
func NewProviderInvoker(
	registry ports.ProviderRegistry,
	cfg *config.DomainConfig,
	metrics ports.Metrics,
	logger *zap.Logger,
) *ProviderInvoker {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &ProviderInvoker{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		sleep:    sleepContext,
	}
}

// Invoke runs up to MaxAttempts calls. Each attempt runs detached from ctx under its own
// ProviderTimeout; if ctx ends first, Invoke returns ctx.Err() at once, the in-flight
// call finishes in the background and its result is dropped, and no further attempt starts.
//
// Errors that are not retryable Provider errors stop the loop immediately. After the last
// attempt the final Provider error is returned; Attempts is always reported.
func (p *ProviderInvoker) Invoke(
	ctx context.Context,
	account valueobjects.LLMAccount,
	req ports.CompletionRequest,
	parse ResponseParser,
) (Invocation, error) {
	provider, err := p.registry.ProviderFor(ctx, account)
	if err != nil {
		return Invocation{}, err
	}
	req.Model = account.Model
	req.CredentialRef = account.CredentialRef

	inv := Invocation{Provider: provider.Name()}
	cb := p.breakerFor(account)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.Multiplier = p.cfg.BackoffMultiplier
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.RandomizationFactor = p.cfg.BackoffJitter
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return inv, err
		}
		inv.Attempts = attempt

		started := time.Now()
		completion, err := p.attempt(ctx, cb, provider, req, parse)
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			p.metrics.RecordProviderCall(provider.Name(), account.Model, "abandoned", time.Since(started))
			return inv, err
		}
		if err == nil {
			p.metrics.RecordProviderCall(provider.Name(), account.Model, "success", time.Since(started))
			inv.Completion = completion
			return inv, nil
		}

		p.metrics.RecordProviderCall(provider.Name(), account.Model, "error", time.Since(started))
		lastErr = err
		p.logger.Warn("Provider attempt failed",
			zap.String("provider", provider.Name()),
			zap.String("accountID", account.AccountID),
			zap.Int("attempt", attempt),
			zap.Bool("retryable", pkgerrors.IsRetryable(err)),
			zap.Error(err))

		if !pkgerrors.IsRetryable(err) {
			return inv, err
		}
		if attempt < p.cfg.MaxAttempts {
			if err := p.sleep(ctx, bo.NextBackOff()); err != nil {
				return inv, err
			}
		}
	}
	return inv, lastErr
}

func (p *ProviderInvoker) attempt(
	ctx context.Context,
	cb *gobreaker.CircuitBreaker,
	provider ports.AIProvider,
	req ports.CompletionRequest,
	parse ResponseParser,
) (ports.Completion, error) {
	type result struct {
		completion ports.Completion
		err        error
	}
	done := make(chan result, 1)

	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ProviderTimeout)
		defer cancel()

		out, err := cb.Execute(func() (interface{}, error) {
			completion, err := provider.Complete(callCtx, req)
			if err != nil {
				return nil, normalizeProviderError(provider.Name(), err)
			}
			if parse != nil {
				if perr := parse(completion.Text); perr != nil {
					return nil, pkgerrors.NewProviderError(provider.Name(), true,
						fmt.Errorf("%w: %v", errMalformedResponse, perr))
				}
			}
			return completion, nil
		})
		if err != nil {
			done <- result{err: breakerError(provider.Name(), err)}
			return
		}
		done <- result{completion: out.(ports.Completion)}
	}()

	select {
	case r := <-done:
		return r.completion, r.err
	case <-ctx.Done():
		return ports.Completion{}, ctx.Err()
	}
}

// breakerFor returns the breaker shared by every call through the same account key.
func (p *ProviderInvoker) breakerFor(account valueobjects.LLMAccount) *gobreaker.CircuitBreaker {
	key := account.Provider + "/" + account.CredentialRef + "/" + account.Model

	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[key]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errMalformedResponse)
		},
	})
	p.breakers[key] = cb
	return cb
}

// normalizeProviderError makes sure every provider failure is a Provider AppError.
func normalizeProviderError(provider string, err error) error {
	if pkgerrors.IsProvider(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.NewProviderError(provider, true, err)
	}
	return pkgerrors.NewProviderError(provider, false, err)
}

func breakerError(provider string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewProviderError(provider, false, err).WithCode("CIRCUIT_OPEN")
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failureReason renders err for a history entry or event without leaking internals.
func failureReason(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		if appErr.Cause != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
		return appErr.Message
	}
	return err.Error()
}
