package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/infrastructure/config"
	pkgerrors "signals-backend/pkg/errors"
)

// Factory builds a provider client for one credential.
type Factory func(ctx context.Context, cred config.Credential) (ports.AIProvider, error)

type registration struct {
	factory         Factory
	needsCredential bool
}

// Registry resolves accounts to provider clients. Clients are built once per
// (provider, credential_ref) and reused.
type Registry struct {
	creds  *config.CredentialStore
	logger *zap.Logger

	mu        sync.Mutex
	factories map[string]registration
	clients   map[string]ports.AIProvider
}

// NewRegistry creates a registry with the openai and gemini providers registered. The
// credential-free mock provider is only registered when allowMock is set, so production
// realms cannot select it.
func NewRegistry(creds *config.CredentialStore, allowMock bool, logger *zap.Logger) *Registry {
	if creds == nil {
		creds = config.NewCredentialStore(nil)
	}
	r := &Registry{
		creds:     creds,
		logger:    logger,
		factories: make(map[string]registration),
		clients:   make(map[string]ports.AIProvider),
	}
	r.Register(ProviderOpenAI, true, func(_ context.Context, cred config.Credential) (ports.AIProvider, error) {
		return NewOpenAIProvider(cred)
	})
	r.Register(ProviderGemini, true, func(ctx context.Context, cred config.Credential) (ports.AIProvider, error) {
		return NewGeminiProvider(ctx, cred)
	})
	if allowMock {
		mock := NewMockProvider()
		r.Register(ProviderMock, false, func(context.Context, config.Credential) (ports.AIProvider, error) {
			return mock, nil
		})
	}
	return r
}

// Register adds or replaces a provider factory.
func (r *Registry) Register(name string, needsCredential bool, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = registration{factory: f, needsCredential: needsCredential}
}

// ProviderFor implements ports.ProviderRegistry.
func (r *Registry) ProviderFor(ctx context.Context, account valueobjects.LLMAccount) (ports.AIProvider, error) {
	name := strings.ToLower(account.Provider)
	key := name + "|" + account.CredentialRef

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	reg, ok := r.factories[name]
	if !ok {
		return nil, pkgerrors.NewAccountNotConfiguredError(
			fmt.Sprintf("account %s uses unsupported provider %q", account.AccountID, account.Provider))
	}

	var cred config.Credential
	if reg.needsCredential {
		cred, ok = r.creds.Lookup(account.CredentialRef)
		if !ok {
			return nil, pkgerrors.NewAccountNotConfiguredError(
				fmt.Sprintf("account %s references unknown credential %q", account.AccountID, account.CredentialRef))
		}
	}

	client, err := reg.factory(ctx, cred)
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to create provider client").WithCause(err)
	}
	r.clients[key] = client
	r.logger.Info("Provider client created",
		zap.String("provider", name),
		zap.String("credentialRef", account.CredentialRef))
	return client, nil
}
