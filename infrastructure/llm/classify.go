// Package llm adapts AI provider SDKs to ports.AIProvider.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	pkgerrors "signals-backend/pkg/errors"
)

// providerError wraps err as a Provider AppError, retryable for throttling, server-side
// and transport failures.
func providerError(provider string, status int, err error) error {
	return pkgerrors.NewProviderError(provider, isTransient(status, err), err)
}

func isTransient(status int, err error) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
