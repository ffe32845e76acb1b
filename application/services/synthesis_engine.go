package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	domainservices "signals-backend/domain/services"
	pkgerrors "signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

const (
	signalBatchSize   = 25
	loadConcurrency   = 4
	topKeywordCount   = 8
	materialLineLimit = 50
)

// SynthesisEngine aggregates a subject, and for clusters its whole subtree, into an
// immutable typed rollup record.
type SynthesisEngine struct {
	invoker     *ProviderInvoker
	signals     ports.SignalRepository
	clusters    ports.ClusterRepository
	reflections ports.ReflectionRepository
	hierarchy   *domainservices.ClusterHierarchyService
	cfg         *config.DomainConfig
	logger      *zap.Logger
}

// NewSynthesisEngine creates a new synthesis engine
func NewSynthesisEngine(
	invoker *ProviderInvoker,
	signals ports.SignalRepository,
	clusters ports.ClusterRepository,
	reflections ports.ReflectionRepository,
	hierarchy *domainservices.ClusterHierarchyService,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *SynthesisEngine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &SynthesisEngine{
		invoker:     invoker,
		signals:     signals,
		clusters:    clusters,
		reflections: reflections,
		hierarchy:   hierarchy,
		cfg:         cfg,
		logger:      logger,
	}
}

// ValidateKind rejects a subtype that does not belong to t.
func (e *SynthesisEngine) ValidateKind(t valueobjects.SynthesisType, subtype valueobjects.SynthesisSubtype) error {
	_, _, err := valueobjects.ParseSynthesisKind(string(t), string(subtype))
	return err
}

// Synthesize builds the rollup, asks account to write it up and returns the new record.
// Nothing is persisted here. The record's depth is the subject's level in the cluster
// hierarchy (0 for signals).
func (e *SynthesisEngine) Synthesize(
	ctx context.Context,
	subject *Subject,
	t valueobjects.SynthesisType,
	subtype valueobjects.SynthesisSubtype,
	account valueobjects.LLMAccount,
	settings valueobjects.LLMSettings,
) (syn *entities.Synthesis, err error) {
	ctx, span := observability.StartSpan(ctx, "SynthesisEngine.Synthesize",
		attribute.String("subject", subject.Ref.Key()),
		attribute.String("synthesis.kind", string(t)+"/"+string(subtype)))
	defer func() { observability.EndSpan(span, err) }()

	if err := e.ValidateKind(t, subtype); err != nil {
		return nil, err
	}
	depth := 0
	if subject.Cluster != nil {
		depth = subject.Cluster.Depth()
	}
	if depth > e.hierarchy.MaxDepth() {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("synthesis depth %d exceeds the ceiling of %d", depth, e.hierarchy.MaxDepth()))
	}

	agg, err := e.aggregate(ctx, subject)
	if err != nil {
		return nil, err
	}
	prompt := buildSynthesisPrompt(subject, t, subtype, agg.rollup, agg.material(t), settings)

	inv, callErr := e.invoker.Invoke(ctx, account, ports.CompletionRequest{
		System:      "You write syntheses over collections of a person's captured observations.",
		Prompt:      prompt,
		Temperature: 0.6,
		MaxTokens:   1200,
	}, nonEmpty)
	if callErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if pkgerrors.IsProvider(callErr) {
			return nil, pkgerrors.NewSynthesisFailedError(
				fmt.Sprintf("synthesis failed after %d attempt(s)", inv.Attempts), callErr)
		}
		return nil, callErr
	}

	content := strings.TrimSpace(inv.Completion.Text)
	gen := entities.GenerationRecord{
		Timestamp: time.Now().UTC(),
		AccountID: account.AccountID,
		Provider:  inv.Provider,
		Model:     account.Model,
		Prompt:    prompt,
		Response:  content,
		Tokens:    inv.Completion.Tokens,
		Attempts:  inv.Attempts,
	}
	return entities.NewSynthesis(subject.RealmID(), subject.Ref, t, subtype, depth, content, agg.rollup, gen)
}

type aggregate struct {
	rollup      entities.Rollup
	signals     []*entities.Signal
	reflections []*entities.Reflection
}

func (a aggregate) material(t valueobjects.SynthesisType) string {
	var lines []string
	if t == valueobjects.SynthesisTypeReflection {
		for _, r := range a.reflections {
			if r.Content() != "" {
				lines = append(lines, fmt.Sprintf("[%s] %s", r.Type(), excerpt(r.Content(), 800)))
			}
		}
	}
	for _, s := range a.signals {
		if len(lines) >= materialLineLimit {
			break
		}
		lines = append(lines, signalMaterial(s, memberExcerpt))
	}
	if len(lines) == 0 {
		return ""
	}
	return "- " + strings.Join(lines, "\n- ")
}

// aggregate loads the subject's member signals and reflections concurrently and computes
// the rollup locally.
func (e *SynthesisEngine) aggregate(ctx context.Context, subject *Subject) (aggregate, error) {
	var (
		rollup     entities.Rollup
		signalIDs  []string
		preloaded  []*entities.Signal
		realmID    = subject.RealmID()
		clusterIDs []string
	)

	if subject.Signal != nil {
		preloaded = []*entities.Signal{subject.Signal}
	} else {
		descendants, height, err := e.hierarchy.Descendants(ctx, subject.Cluster, e.clusters.GetByID)
		if err != nil {
			return aggregate{}, err
		}
		rollup.MaxSubtreeDepth = height
		seen := make(map[string]struct{})
		for _, c := range append([]*entities.Cluster{subject.Cluster}, descendants...) {
			if c.ID() != subject.Cluster.ID() {
				clusterIDs = append(clusterIDs, c.ID())
			}
			for _, id := range c.SignalIDs() {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				signalIDs = append(signalIDs, id)
			}
		}
		if len(signalIDs) > e.cfg.MaxSynthesisSignals {
			e.logger.Debug("Synthesis member signals truncated",
				zap.String("subject", subject.Ref.Key()),
				zap.Int("members", len(signalIDs)),
				zap.Int("limit", e.cfg.MaxSynthesisSignals))
			signalIDs = signalIDs[:e.cfg.MaxSynthesisSignals]
		}
	}

	batches := make([][]*entities.Signal, (len(signalIDs)+signalBatchSize-1)/signalBatchSize)
	var (
		reflections []*entities.Reflection
		mu          sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	g.Go(func() error {
		list, err := e.reflections.ListBySubject(gctx, subject.Ref)
		if err != nil {
			return err
		}
		mu.Lock()
		reflections = list
		mu.Unlock()
		return nil
	})
	for i := range batches {
		start := i * signalBatchSize
		end := min(start+signalBatchSize, len(signalIDs))
		g.Go(func() error {
			loaded, err := e.signals.GetByIDs(gctx, signalIDs[start:end])
			if err != nil {
				return err
			}
			batches[i] = loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return aggregate{}, err
	}

	members := preloaded
	for _, batch := range batches {
		for _, s := range batch {
			if s.RealmID() == realmID {
				members = append(members, s)
			}
		}
	}

	rollup.ClusterCount = len(clusterIDs)
	rollup.MemberClusterIDs = clusterIDs
	summarizeSignals(&rollup, members)

	types := make([]string, 0, len(reflections))
	for _, r := range reflections {
		types = append(types, string(r.Type()))
	}
	sort.Strings(types)
	rollup.ReflectionCount = len(reflections)
	rollup.ReflectionTypes = types

	return aggregate{rollup: rollup, signals: members, reflections: reflections}, nil
}

func summarizeSignals(rollup *entities.Rollup, members []*entities.Signal) {
	var (
		tempSum, densSum float64
		tempN, densN     int
		keywordCounts    = make(map[string]int)
	)
	for _, s := range members {
		rollup.MemberSignalIDs = append(rollup.MemberSignalIDs, s.ID())
		if s.IsAnalyzed() {
			rollup.AnalyzedCount++
		}
		if t := s.Temperature(); t != nil {
			tempSum += *t
			tempN++
		}
		if d := s.Density(); d != nil {
			densSum += *d
			densN++
		}
		for _, k := range s.Keywords() {
			keywordCounts[k]++
		}
	}
	rollup.SignalCount = len(members)
	if tempN > 0 {
		mean := valueobjects.ClampTemperature(tempSum / float64(tempN))
		rollup.MeanTemperature = &mean
	}
	if densN > 0 {
		mean := valueobjects.ClampDensity(densSum / float64(densN))
		rollup.MeanDensity = &mean
	}

	keywords := make([]string, 0, len(keywordCounts))
	for k := range keywordCounts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywordCounts[keywords[i]] != keywordCounts[keywords[j]] {
			return keywordCounts[keywords[i]] > keywordCounts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > topKeywordCount {
		keywords = keywords[:topKeywordCount]
	}
	rollup.TopKeywords = keywords
}
