package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/domain/events"
	domainservices "signals-backend/domain/services"
	pkgerrors "signals-backend/pkg/errors"
)

// Repositories groups the read side of the store.
type Repositories struct {
	Realms      ports.RealmRepository
	Signals     ports.SignalRepository
	Clusters    ports.ClusterRepository
	Reflections ports.ReflectionRepository
	Syntheses   ports.SynthesisRepository
}

// AnalysisOutcome is what RunAnalysis reports back.
type AnalysisOutcome struct {
	SignalID      string                    `json:"signal_id"`
	Status        valueobjects.SignalStatus `json:"status"`
	ChangedFields []string                  `json:"changed_fields"`
	AccountID     string                    `json:"account_id"`
	Attempts      int                       `json:"attempts"`
}

// ReflectionRequest names a reflection to generate.
type ReflectionRequest struct {
	SubjectID      string
	SubjectKind    string
	ReflectionType string
	CallerRealmID  string
	AccountID      string
}

// SynthesisRequest names a synthesis to create.
type SynthesisRequest struct {
	SubjectID     string
	SubjectKind   string
	Type          string
	Subtype       string
	CallerRealmID string
	AccountID     string
}

// Coordinator is the single entry point for every orchestration operation. It checks
// ownership, resolves the account, serializes work per subject and commits each
// operation's writes as one unit.
//
// Concurrent mutating operations on the same subject are rejected: the loser gets a
// Conflict with code SUBJECT_BUSY and nothing is written on its behalf.
type Coordinator struct {
	repos      Repositories
	uow        ports.UnitOfWorkFactory
	locker     ports.SubjectLocker
	resolver   *SubjectResolver
	accounts   *AccountRegistry
	analysis   *AnalysisEngine
	reflection *ReflectionEngine
	synthesis  *SynthesisEngine
	hierarchy  *domainservices.ClusterHierarchyService
	cfg        *config.DomainConfig
	metrics    ports.Metrics
	logger     *zap.Logger
}

// NewCoordinator creates a new orchestration coordinator
func NewCoordinator(
	repos Repositories,
	uow ports.UnitOfWorkFactory,
	locker ports.SubjectLocker,
	resolver *SubjectResolver,
	accounts *AccountRegistry,
	analysis *AnalysisEngine,
	reflection *ReflectionEngine,
	synthesis *SynthesisEngine,
	hierarchy *domainservices.ClusterHierarchyService,
	cfg *config.DomainConfig,
	metrics ports.Metrics,
	logger *zap.Logger,
) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &Coordinator{
		repos:      repos,
		uow:        uow,
		locker:     locker,
		resolver:   resolver,
		accounts:   accounts,
		analysis:   analysis,
		reflection: reflection,
		synthesis:  synthesis,
		hierarchy:  hierarchy,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunAnalysis extracts fields for a signal. On success every field is written and the
// signal becomes ANALYZED. When the attempt budget is exhausted no analysis field is
// written; a PENDING signal becomes ANALYSIS_FAILED and any other signal is left as is.
func (c *Coordinator) RunAnalysis(ctx context.Context, signalID, callerRealmID, accountID string) (out *AnalysisOutcome, err error) {
	defer c.observe("analysis", time.Now(), &err)

	if err := valueobjects.ValidateID("signal_id", signalID); err != nil {
		return nil, err
	}
	ref := valueobjects.SignalSubject(signalID)
	if _, err := c.resolver.Resolve(ctx, ref, callerRealmID); err != nil {
		return nil, err
	}
	realm, account, err := c.realmAndAccount(ctx, callerRealmID, accountID)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	// reload under the lock so the write is based on the latest committed state
	subject, err := c.resolver.Resolve(ctx, ref, callerRealmID)
	if err != nil {
		return nil, err
	}
	signal := subject.Signal

	result, err := c.analysis.Analyze(ctx, signal, account, realm.Settings())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if pkgerrors.IsType(err, pkgerrors.ErrorTypeAnalysisFailed) {
			c.recordAnalysisFailure(ctx, signal, account, err)
		}
		return nil, err
	}

	now := time.Now()
	changed := signal.ApplyAnalysis(result.Fields, now)
	err = c.commit(ctx, func(uow ports.UnitOfWork) {
		uow.RegisterSignal(signal)
		uow.RegisterEvent(events.NewSignalAnalyzed(signal.ID(), signal.RealmID(), account.AccountID, changed, now))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Signal analyzed",
		zap.String("signalID", signal.ID()),
		zap.String("accountID", account.AccountID),
		zap.Strings("changedFields", changed),
		zap.Int("attempts", result.Attempts))
	return &AnalysisOutcome{
		SignalID:      signal.ID(),
		Status:        signal.Status(),
		ChangedFields: changed,
		AccountID:     account.AccountID,
		Attempts:      result.Attempts,
	}, nil
}

// recordAnalysisFailure moves a PENDING signal to ANALYSIS_FAILED. Commit problems are
// logged; the caller still gets the analysis error.
func (c *Coordinator) recordAnalysisFailure(ctx context.Context, signal *entities.Signal, account valueobjects.LLMAccount, cause error) {
	now := time.Now()
	if !signal.MarkAnalysisFailed(now) {
		return
	}
	err := c.commit(ctx, func(uow ports.UnitOfWork) {
		uow.RegisterSignal(signal)
		uow.RegisterEvent(events.NewSignalAnalysisFailed(signal.ID(), signal.RealmID(), account.AccountID, failureReason(cause), now))
	})
	if err != nil {
		c.logger.Error("Failed to record analysis failure",
			zap.String("signalID", signal.ID()),
			zap.Error(err))
	}
}

// RunReflection generates the reflection of the given type for a subject, creating it on
// first use. The attempt is appended to history whether it succeeds or fails; content is
// replaced only on success.
func (c *Coordinator) RunReflection(ctx context.Context, req ReflectionRequest) (out *entities.Reflection, err error) {
	defer c.observe("reflection", time.Now(), &err)

	rtype, err := valueobjects.ParseReflectionType(req.ReflectionType)
	if err != nil {
		return nil, err
	}
	ref, err := valueobjects.NewSubjectRef(req.SubjectID, req.SubjectKind)
	if err != nil {
		return nil, err
	}
	if _, err := c.resolver.Resolve(ctx, ref, req.CallerRealmID); err != nil {
		return nil, err
	}
	realm, account, err := c.realmAndAccount(ctx, req.CallerRealmID, req.AccountID)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	subject, err := c.resolver.Resolve(ctx, ref, req.CallerRealmID)
	if err != nil {
		return nil, err
	}
	reflection, err := c.repos.Reflections.FindBySubjectAndType(ctx, ref, rtype)
	if pkgerrors.IsNotFound(err) {
		reflection, err = entities.NewReflection(subject.RealmID(), ref, rtype)
	}
	if err != nil {
		return nil, err
	}

	before := reflection.HistoryLen()
	rec, genErr := c.reflection.Generate(ctx, subject, reflection, account, realm.Settings())
	if genErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if reflection.HistoryLen() == before {
		// nothing was attempted, so there is nothing to record
		return nil, genErr
	}

	var evt events.DomainEvent
	if rec.Succeeded() {
		evt = events.NewReflectionGenerated(reflection.ID(), reflection.RealmID(), ref.Key(), string(rtype), reflection.HistoryLen(), rec.Timestamp)
	} else {
		evt = events.NewReflectionFailed(reflection.ID(), reflection.RealmID(), ref.Key(), string(rtype), rec.Error, rec.Timestamp)
	}
	if err := c.commit(ctx, func(uow ports.UnitOfWork) {
		uow.RegisterReflection(reflection)
		uow.RegisterEvent(evt)
	}); err != nil {
		return nil, err
	}
	if genErr != nil {
		return nil, genErr
	}

	c.logger.Info("Reflection generated",
		zap.String("reflectionID", reflection.ID()),
		zap.String("subject", ref.Key()),
		zap.String("type", string(rtype)),
		zap.Int("history", reflection.HistoryLen()))
	return reflection, nil
}

// RunSynthesis creates a new synthesis record for a subject. The type/subtype pair is
// validated before any lookup.
func (c *Coordinator) RunSynthesis(ctx context.Context, req SynthesisRequest) (out *entities.Synthesis, err error) {
	defer c.observe("synthesis", time.Now(), &err)

	stype, subtype, err := valueobjects.ParseSynthesisKind(req.Type, req.Subtype)
	if err != nil {
		return nil, err
	}
	ref, err := valueobjects.NewSubjectRef(req.SubjectID, req.SubjectKind)
	if err != nil {
		return nil, err
	}
	if _, err := c.resolver.Resolve(ctx, ref, req.CallerRealmID); err != nil {
		return nil, err
	}
	realm, account, err := c.realmAndAccount(ctx, req.CallerRealmID, req.AccountID)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	subject, err := c.resolver.Resolve(ctx, ref, req.CallerRealmID)
	if err != nil {
		return nil, err
	}
	syn, err := c.synthesis.Synthesize(ctx, subject, stype, subtype, account, realm.Settings())
	if err != nil {
		return nil, err
	}

	if err := c.commit(ctx, func(uow ports.UnitOfWork) {
		uow.RegisterSynthesis(syn)
		uow.RegisterEvent(events.NewSynthesisCreated(syn.ID(), syn.RealmID(), ref.Key(),
			string(stype), string(subtype), syn.Depth(), syn.CreatedAt()))
	}); err != nil {
		return nil, err
	}

	c.logger.Info("Synthesis created",
		zap.String("synthesisID", syn.ID()),
		zap.String("subject", ref.Key()),
		zap.String("kind", string(stype)+"/"+string(subtype)),
		zap.Int("depth", syn.Depth()))
	return syn, nil
}

// UpdateLLMSettings replaces the realm's settings blob. Callers may only change their own realm.
func (c *Coordinator) UpdateLLMSettings(ctx context.Context, realmID, callerRealmID string, settings valueobjects.LLMSettings) (out *entities.Realm, err error) {
	defer c.observe("update_llm_settings", time.Now(), &err)

	if realmID != callerRealmID {
		return nil, pkgerrors.NewForbiddenError("cannot change another realm's settings")
	}
	return c.accounts.Update(ctx, realmID, settings)
}

// GetLLMSettings returns the realm's current settings.
func (c *Coordinator) GetLLMSettings(ctx context.Context, realmID, callerRealmID string) (valueobjects.LLMSettings, error) {
	if realmID != callerRealmID {
		return valueobjects.LLMSettings{}, pkgerrors.NewForbiddenError("cannot read another realm's settings")
	}
	realm, err := c.repos.Realms.GetByID(ctx, realmID)
	if err != nil {
		return valueobjects.LLMSettings{}, err
	}
	return realm.Settings(), nil
}

// ListReflections returns every reflection of a subject, oldest first.
func (c *Coordinator) ListReflections(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Reflection, error) {
	subject, err := c.resolver.ResolveRaw(ctx, subjectID, subjectKind, callerRealmID)
	if err != nil {
		return nil, err
	}
	return c.repos.Reflections.ListBySubject(ctx, subject.Ref)
}

// ListSyntheses returns every synthesis of a subject, oldest first.
func (c *Coordinator) ListSyntheses(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Synthesis, error) {
	subject, err := c.resolver.ResolveRaw(ctx, subjectID, subjectKind, callerRealmID)
	if err != nil {
		return nil, err
	}
	return c.repos.Syntheses.ListBySubject(ctx, subject.Ref)
}

// AttachCluster nests child under parent. Cycles and depth overflow are rejected with no
// state change; otherwise every moved cluster is written in one commit.
func (c *Coordinator) AttachCluster(ctx context.Context, parentID, childID, callerRealmID string) (out *entities.Cluster, err error) {
	defer c.observe("attach_cluster", time.Now(), &err)

	if parentID == childID {
		return nil, pkgerrors.NewValidationError("cluster cannot contain itself")
	}
	parentRef, childRef := valueobjects.ClusterSubject(parentID), valueobjects.ClusterSubject(childID)
	for _, ref := range []valueobjects.SubjectRef{parentRef, childRef} {
		if _, err := c.resolver.Resolve(ctx, ref, callerRealmID); err != nil {
			return nil, err
		}
	}

	release, err := c.acquire(ctx, parentRef.Key(), childRef.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	parent, err := c.repos.Clusters.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	child, err := c.repos.Clusters.GetByID(ctx, childID)
	if err != nil {
		return nil, err
	}
	changed, err := c.hierarchy.PlanAttach(ctx, parent, child, c.repos.Clusters.GetByID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := c.commit(ctx, func(uow ports.UnitOfWork) {
		for _, cl := range changed {
			uow.RegisterCluster(cl)
		}
		uow.RegisterEvent(events.NewClusterAttached(child.ID(), child.RealmID(), parent.ID(), child.Depth(), now))
	}); err != nil {
		return nil, err
	}
	return child, nil
}

// DetachCluster makes a nested cluster a root again.
func (c *Coordinator) DetachCluster(ctx context.Context, childID, callerRealmID string) (out *entities.Cluster, err error) {
	defer c.observe("detach_cluster", time.Now(), &err)

	childRef := valueobjects.ClusterSubject(childID)
	subject, err := c.resolver.Resolve(ctx, childRef, callerRealmID)
	if err != nil {
		return nil, err
	}
	parentID := subject.Cluster.ParentID()
	if parentID == "" {
		return nil, pkgerrors.NewValidationError("cluster is not nested")
	}

	release, err := c.acquire(ctx, valueobjects.ClusterSubject(parentID).Key(), childRef.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	child, err := c.repos.Clusters.GetByID(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child.ParentID() != parentID {
		return nil, pkgerrors.NewConflictError("cluster was moved by another operation")
	}
	changed, parent, err := c.hierarchy.PlanDetach(ctx, child, c.repos.Clusters.GetByID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := c.commit(ctx, func(uow ports.UnitOfWork) {
		for _, cl := range changed {
			uow.RegisterCluster(cl)
		}
		uow.RegisterEvent(events.NewClusterDetached(child.ID(), child.RealmID(), parent.ID(), now))
	}); err != nil {
		return nil, err
	}
	return child, nil
}

// AnnotateReflection appends a user note. History and content are not touched.
func (c *Coordinator) AnnotateReflection(ctx context.Context, reflectionID, author, note, callerRealmID string) (out entities.Annotation, err error) {
	defer c.observe("annotate_reflection", time.Now(), &err)

	if err := valueobjects.ValidateID("reflection_id", reflectionID); err != nil {
		return entities.Annotation{}, err
	}
	reflection, err := c.repos.Reflections.GetByID(ctx, reflectionID)
	if err != nil {
		return entities.Annotation{}, err
	}
	if reflection.RealmID() != callerRealmID {
		return entities.Annotation{}, pkgerrors.NewForbiddenError("reflection belongs to another realm")
	}

	release, err := c.acquire(ctx, reflection.Subject().Key())
	if err != nil {
		return entities.Annotation{}, err
	}
	defer release()

	reflection, err = c.repos.Reflections.GetByID(ctx, reflectionID)
	if err != nil {
		return entities.Annotation{}, err
	}
	annotation, err := reflection.AddAnnotation(author, note, c.cfg.MaxAnnotationLength)
	if err != nil {
		return entities.Annotation{}, err
	}
	if err := c.commit(ctx, func(uow ports.UnitOfWork) {
		uow.RegisterReflection(reflection)
	}); err != nil {
		return entities.Annotation{}, err
	}
	return annotation, nil
}

func (c *Coordinator) realmAndAccount(ctx context.Context, realmID, accountID string) (*entities.Realm, valueobjects.LLMAccount, error) {
	realm, err := c.repos.Realms.GetByID(ctx, realmID)
	if err != nil {
		return nil, valueobjects.LLMAccount{}, err
	}
	account, err := c.accounts.Resolve(realm, accountID)
	if err != nil {
		return nil, valueobjects.LLMAccount{}, err
	}
	return realm, account, nil
}

// acquire takes leases on keys in sorted order and returns a release func.
func (c *Coordinator) acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	leases := make([]ports.Lease, 0, len(keys))
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(releaseCtx); err != nil {
				c.logger.Warn("Failed to release subject lock", zap.Error(err))
			}
		}
	}
	for _, key := range keys {
		lease, err := c.locker.TryAcquire(ctx, key, c.cfg.LockTTL)
		if err != nil {
			release()
			return nil, err
		}
		leases = append(leases, lease)
	}
	return release, nil
}

// commit writes everything register adds as one unit under CommitTimeout.
func (c *Coordinator) commit(ctx context.Context, register func(ports.UnitOfWork)) error {
	uow, err := c.uow.Begin(ctx)
	if err != nil {
		return err
	}
	register(uow)

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()
	if err := uow.Commit(commitCtx); err != nil {
		uow.Rollback()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return pkgerrors.NewTimeoutError("commit").WithCause(err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) observe(operation string, started time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
		if appErr := pkgerrors.GetAppError(*err); appErr != nil {
			outcome = strings.ToLower(string(appErr.Type))
		} else if errors.Is(*err, context.Canceled) {
			outcome = "cancelled"
		}
	}
	c.metrics.RecordOperation(operation, outcome, time.Since(started))
	if *err != nil {
		c.logger.Debug(fmt.Sprintf("%s failed", operation), zap.String("outcome", outcome), zap.Error(*err))
	}
}
