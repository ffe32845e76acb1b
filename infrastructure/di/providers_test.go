package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/domain/core/valueobjects"
	"signals-backend/infrastructure/config"
	"signals-backend/infrastructure/persistence/memory"
	pkgerrors "signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:    "test",
		StoreBackend:   "memory",
		JWTSecret:      "di-test-secret",
		JWTMethod:      "HS256",
		JWTAudience:    "signals-api",
		RealmRateLimit: 60,
		RealmBurst:     5,
		EnableCORS:     true,
		EnableMetrics:  true,
		AllowedOrigin:  "https://app.example.com",
		MetricsNS:      "Signals/test",
	}
}

func TestProvidePersistence_Memory(t *testing.T) {
	cfg := memoryConfig()
	logger := zap.NewNop()

	publisher := ProvideEventPublisher(cfg, nil, logger)
	assert.IsType(t, &loggingPublisher{}, publisher)

	p := ProvidePersistence(cfg, nil, publisher, logger)
	assert.IsType(t, &memory.Store{}, p.UnitOfWork)
	assert.IsType(t, &memory.Locker{}, p.Locker)
	assert.NotNil(t, p.Repositories.Realms)
	assert.NotNil(t, p.Repositories.Syntheses)
}

func TestProvideProviderRegistry_NoMockInProduction(t *testing.T) {
	ctx := context.Background()
	mockAccount := valueobjects.LLMAccount{AccountID: "a1", Provider: "mock", Model: "m"}

	cfg := memoryConfig()
	p, err := ProvideProviderRegistry(cfg, config.NewCredentialStore(nil), zap.NewNop()).ProviderFor(ctx, mockAccount)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	cfg.Environment = "production"
	_, err = ProvideProviderRegistry(cfg, config.NewCredentialStore(nil), zap.NewNop()).ProviderFor(ctx, mockAccount)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeAccountNotConfigured))
}

func TestProvideRateLimiter_DisabledWhenZero(t *testing.T) {
	cfg := memoryConfig()
	assert.NotNil(t, ProvideRateLimiter(cfg))

	cfg.RealmRateLimit = 0
	assert.Nil(t, ProvideRateLimiter(cfg))
}

func TestProvideJWTValidator_RequiresSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWTSecret = ""
	_, err := ProvideJWTValidator(cfg)
	assert.Error(t, err)
}

func TestProvideHTTPHandler_MemoryStack(t *testing.T) {
	cfg := memoryConfig()
	logger := zap.NewNop()

	p := ProvidePersistence(cfg, nil, ProvideEventPublisher(cfg, nil, logger), logger)
	creds, err := ProvideCredentials(cfg)
	require.NoError(t, err)
	collector := ProvideCollector()
	metrics := ProvideMetrics(collector, observability.NewCloudWatchMetrics(cfg.MetricsNS, nil, logger))

	coordinator := ProvideCoordinator(p, ProvideProviderRegistry(cfg, creds, logger), metrics, ProvideDomainConfig(cfg), logger)
	commands, err := ProvideCommandBus(coordinator, logger)
	require.NoError(t, err)
	queries, err := ProvideQueryBus(coordinator)
	require.NoError(t, err)
	validator, err := ProvideJWTValidator(cfg)
	require.NoError(t, err)

	handler := ProvideHTTPHandler(cfg, commands, queries, validator, ProvideRateLimiter(cfg), collector, logger, ProvideErrorHandler(cfg, logger))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/realm/llm-settings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signals_http_requests_total")
}
