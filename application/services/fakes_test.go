package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/domain/events"
	domainservices "signals-backend/domain/services"
	"signals-backend/infrastructure/persistence/memory"
	pkgerrors "signals-backend/pkg/errors"
)

type reply struct {
	text string
	err  error
}

// scriptedProvider replays replies in order and repeats the last one.
type scriptedProvider struct {
	name    string
	replies []reply

	mu       sync.Mutex
	calls    int
	requests []ports.CompletionRequest

	// when gate is set every call waits for it to close
	gate    chan struct{}
	started chan struct{}
}

func newScriptedProvider(name string, replies ...reply) *scriptedProvider {
	return &scriptedProvider{name: name, replies: replies, started: make(chan struct{}, 16)}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	p.mu.Lock()
	idx := min(p.calls, len(p.replies)-1)
	p.calls++
	p.requests = append(p.requests, req)
	r := p.replies[idx]
	gate := p.gate
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ports.Completion{}, ctx.Err()
		}
	}
	if r.err != nil {
		return ports.Completion{}, r.err
	}
	return ports.Completion{Text: r.text, Tokens: 7}, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) LastRequest() ports.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// fakeRegistry maps LLMAccount.Provider to a provider.
type fakeRegistry map[string]ports.AIProvider

func (r fakeRegistry) ProviderFor(ctx context.Context, account valueobjects.LLMAccount) (ports.AIProvider, error) {
	p, ok := r[account.Provider]
	if !ok {
		return nil, pkgerrors.NewAccountNotConfiguredError("unknown provider " + account.Provider)
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, evts []events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetEventType())
	}
	return out
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
}

func (m *recordingMetrics) RecordProviderCall(provider, model, outcome string, duration time.Duration) {}

func (m *recordingMetrics) RecordOperation(operation, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.operations == nil {
		m.operations = make(map[string]int)
	}
	m.operations[operation+"/"+outcome]++
}

func (m *recordingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operations[key]
}

func account(id, provider string) valueobjects.LLMAccount {
	return valueobjects.LLMAccount{AccountID: id, Provider: provider, Model: provider + "-model", CredentialRef: "cred-" + id}
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	publisher *recordingPublisher
	metrics   *recordingMetrics
	invoker   *ProviderInvoker
	coord     *Coordinator
	realm     *entities.Realm
	sleeps    []time.Duration
}

// newFixture wires a coordinator over the in-memory store. The realm starts with the given
// accounts and no default.
func newFixture(t *testing.T, registry fakeRegistry, accounts ...valueobjects.LLMAccount) *fixture {
	t.Helper()
	cfg := config.DefaultDomainConfig()
	logger := zap.NewNop()

	f := &fixture{t: t, ctx: context.Background(), publisher: &recordingPublisher{}, metrics: &recordingMetrics{}}
	f.store = memory.NewStore(f.publisher, logger)
	repos := Repositories{
		Realms:      f.store.Realms(),
		Signals:     f.store.Signals(),
		Clusters:    f.store.Clusters(),
		Reflections: f.store.Reflections(),
		Syntheses:   f.store.Syntheses(),
	}

	f.invoker = NewProviderInvoker(registry, cfg, f.metrics, logger)
	f.invoker.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	hierarchy := domainservices.NewClusterHierarchyService(cfg)
	f.coord = NewCoordinator(
		repos,
		f.store,
		memory.NewLocker(),
		NewSubjectResolver(repos.Signals, repos.Clusters),
		NewAccountRegistry(repos.Realms, f.store, cfg, logger),
		NewAnalysisEngine(f.invoker, cfg, logger),
		NewReflectionEngine(f.invoker, repos.Signals, repos.Clusters, cfg, logger),
		NewSynthesisEngine(f.invoker, repos.Signals, repos.Clusters, repos.Reflections, hierarchy, cfg, logger),
		hierarchy,
		cfg,
		f.metrics,
		logger,
	)

	f.realm = f.newRealm("Home", valueobjects.LLMSettings{Accounts: accounts, RealmHolderName: "Ada"})
	return f
}

func (f *fixture) newRealm(name string, settings valueobjects.LLMSettings) *entities.Realm {
	f.t.Helper()
	realm, err := entities.NewRealm(name)
	require.NoError(f.t, err)
	require.NoError(f.t, realm.ReplaceSettings(settings))
	require.NoError(f.t, f.store.Realms().Save(f.ctx, realm))
	return realm
}

func (f *fixture) newSignal(realmID, content string) *entities.Signal {
	f.t.Helper()
	sig, err := entities.NewSignal(realmID, "A signal", content, "capture")
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Signals().Save(f.ctx, sig))
	return sig
}

func (f *fixture) newCluster(realmID, title string, signals ...*entities.Signal) *entities.Cluster {
	f.t.Helper()
	cl, err := entities.NewCluster(realmID, title, valueobjects.ClusterTypeThematic)
	require.NoError(f.t, err)
	for _, s := range signals {
		cl.AddSignal(s.ID())
	}
	require.NoError(f.t, f.store.Clusters().Save(f.ctx, cl))
	return cl
}

func (f *fixture) signal(id string) *entities.Signal {
	f.t.Helper()
	sig, err := f.store.Signals().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) cluster(id string) *entities.Cluster {
	f.t.Helper()
	cl, err := f.store.Clusters().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return cl
}

func transient() reply {
	return reply{err: pkgerrors.NewProviderError("fake", true, context.DeadlineExceeded)}
}

func permanent() reply {
	return reply{err: pkgerrors.NewProviderError("fake", false, errInvalidKey)}
}

var errInvalidKey = pkgerrors.NewUnauthorizedError("invalid api key")

const analysisJSON = `{"signal_temperature": 0.42, "signal_density": 0.10, "summary": "A quiet morning.", "keywords": ["morning", "quiet"]}`
