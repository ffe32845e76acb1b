// Package memory is an in-process implementation of every persistence port. It backs
// local development and tests; entities are stored as snapshots so callers never share
// state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"signals-backend/application/ports"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/domain/events"
	pkgerrors "signals-backend/pkg/errors"
)

// Store holds all entities behind a single mutex. Commits are serialized, which gives
// the same atomicity a transactional store provides.
type Store struct {
	mu          sync.RWMutex
	realms      map[string]entities.RealmSnapshot
	signals     map[string]entities.SignalSnapshot
	clusters    map[string]entities.ClusterSnapshot
	reflections map[string]entities.ReflectionSnapshot
	syntheses   map[string]entities.SynthesisSnapshot

	// subject key + reflection type -> reflection id
	reflectionIndex map[string]string

	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewStore creates an empty store. publisher may be nil.
func NewStore(publisher ports.EventPublisher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		realms:          make(map[string]entities.RealmSnapshot),
		signals:         make(map[string]entities.SignalSnapshot),
		clusters:        make(map[string]entities.ClusterSnapshot),
		reflections:     make(map[string]entities.ReflectionSnapshot),
		syntheses:       make(map[string]entities.SynthesisSnapshot),
		reflectionIndex: make(map[string]string),
		publisher:       publisher,
		logger:          logger,
	}
}

func reflectionKey(subject valueobjects.SubjectRef, t valueobjects.ReflectionType) string {
	return subject.Key() + "#" + string(t)
}

// Realms returns the realm repository view of the store.
func (s *Store) Realms() ports.RealmRepository { return realmRepo{s} }

// Signals returns the signal repository view of the store.
func (s *Store) Signals() ports.SignalRepository { return signalRepo{s} }

// Clusters returns the cluster repository view of the store.
func (s *Store) Clusters() ports.ClusterRepository { return clusterRepo{s} }

// Reflections returns the reflection repository view of the store.
func (s *Store) Reflections() ports.ReflectionRepository { return reflectionRepo{s} }

// Syntheses returns the synthesis repository view of the store.
func (s *Store) Syntheses() ports.SynthesisRepository { return synthesisRepo{s} }

// Begin implements ports.UnitOfWorkFactory.
func (s *Store) Begin(ctx context.Context) (ports.UnitOfWork, error) {
	return &unitOfWork{store: s}, nil
}

type realmRepo struct{ s *Store }

func (r realmRepo) GetByID(ctx context.Context, id string) (*entities.Realm, error) {
	r.s.mu.RLock()
	snap, ok := r.s.realms[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("realm")
	}
	return entities.ReconstructRealm(snap)
}

func (r realmRepo) Save(ctx context.Context, realm *entities.Realm) error {
	uow := &unitOfWork{store: r.s}
	uow.RegisterRealm(realm)
	return uow.Commit(ctx)
}

type signalRepo struct{ s *Store }

func (r signalRepo) GetByID(ctx context.Context, id string) (*entities.Signal, error) {
	r.s.mu.RLock()
	snap, ok := r.s.signals[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("signal")
	}
	return entities.ReconstructSignal(snap)
}

func (r signalRepo) GetByIDs(ctx context.Context, ids []string) ([]*entities.Signal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entities.Signal, 0, len(ids))
	for _, id := range ids {
		snap, ok := r.s.signals[id]
		if !ok {
			continue
		}
		sig, err := entities.ReconstructSignal(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (r signalRepo) Save(ctx context.Context, signal *entities.Signal) error {
	uow := &unitOfWork{store: r.s}
	uow.RegisterSignal(signal)
	return uow.Commit(ctx)
}

type clusterRepo struct{ s *Store }

func (r clusterRepo) GetByID(ctx context.Context, id string) (*entities.Cluster, error) {
	r.s.mu.RLock()
	snap, ok := r.s.clusters[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("cluster")
	}
	return entities.ReconstructCluster(snap)
}

func (r clusterRepo) Save(ctx context.Context, cluster *entities.Cluster) error {
	uow := &unitOfWork{store: r.s}
	uow.RegisterCluster(cluster)
	return uow.Commit(ctx)
}

type reflectionRepo struct{ s *Store }

func (r reflectionRepo) GetByID(ctx context.Context, id string) (*entities.Reflection, error) {
	r.s.mu.RLock()
	snap, ok := r.s.reflections[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("reflection")
	}
	return entities.ReconstructReflection(snap)
}

func (r reflectionRepo) FindBySubjectAndType(ctx context.Context, subject valueobjects.SubjectRef, t valueobjects.ReflectionType) (*entities.Reflection, error) {
	r.s.mu.RLock()
	id, ok := r.s.reflectionIndex[reflectionKey(subject, t)]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("reflection")
	}
	return r.GetByID(ctx, id)
}

func (r reflectionRepo) ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Reflection, error) {
	r.s.mu.RLock()
	var snaps []entities.ReflectionSnapshot
	for _, snap := range r.s.reflections {
		if snap.Subject.Equals(subject) {
			snaps = append(snaps, snap)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})

	out := make([]*entities.Reflection, 0, len(snaps))
	for _, snap := range snaps {
		ref, err := entities.ReconstructReflection(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

type synthesisRepo struct{ s *Store }

func (r synthesisRepo) GetByID(ctx context.Context, id string) (*entities.Synthesis, error) {
	r.s.mu.RLock()
	snap, ok := r.s.syntheses[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewNotFoundError("synthesis")
	}
	return entities.ReconstructSynthesis(snap)
}

func (r synthesisRepo) ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Synthesis, error) {
	r.s.mu.RLock()
	var snaps []entities.SynthesisSnapshot
	for _, snap := range r.s.syntheses {
		if snap.Subject.Equals(subject) {
			snaps = append(snaps, snap)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})

	out := make([]*entities.Synthesis, 0, len(snaps))
	for _, snap := range snaps {
		syn, err := entities.ReconstructSynthesis(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, nil
}

// unitOfWork buffers entities and applies them under the store lock.
type unitOfWork struct {
	store       *Store
	realms      []*entities.Realm
	signals     []*entities.Signal
	clusters    []*entities.Cluster
	reflections []*entities.Reflection
	syntheses   []*entities.Synthesis
	events      []events.DomainEvent
	done        bool
}

func (u *unitOfWork) RegisterRealm(r *entities.Realm) {
	if !containsID(u.realms, r.ID(), (*entities.Realm).ID) {
		u.realms = append(u.realms, r)
	}
}

func (u *unitOfWork) RegisterSignal(sig *entities.Signal) {
	if !containsID(u.signals, sig.ID(), (*entities.Signal).ID) {
		u.signals = append(u.signals, sig)
	}
}

func (u *unitOfWork) RegisterCluster(c *entities.Cluster) {
	if !containsID(u.clusters, c.ID(), (*entities.Cluster).ID) {
		u.clusters = append(u.clusters, c)
	}
}

func (u *unitOfWork) RegisterReflection(r *entities.Reflection) {
	if !containsID(u.reflections, r.ID(), (*entities.Reflection).ID) {
		u.reflections = append(u.reflections, r)
	}
}

func (u *unitOfWork) RegisterSynthesis(syn *entities.Synthesis) {
	if !containsID(u.syntheses, syn.ID(), (*entities.Synthesis).ID) {
		u.syntheses = append(u.syntheses, syn)
	}
}

func (u *unitOfWork) RegisterEvent(e events.DomainEvent) { u.events = append(u.events, e) }

func containsID[T any](items []T, id string, idOf func(T) string) bool {
	for _, item := range items {
		if idOf(item) == id {
			return true
		}
	}
	return false
}

func (u *unitOfWork) Rollback() { u.done = true }

func conflict(kind, id string) error {
	return pkgerrors.NewConflictError(fmt.Sprintf("%s %s was modified concurrently", kind, id))
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return pkgerrors.NewInternalError("unit of work already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := u.store
	s.mu.Lock()
	if err := u.check(); err != nil {
		s.mu.Unlock()
		return err
	}
	u.apply()
	s.mu.Unlock()
	u.done = true

	for _, r := range u.realms {
		r.CommitVersion()
	}
	for _, sig := range u.signals {
		sig.CommitVersion()
	}
	for _, c := range u.clusters {
		c.CommitVersion()
	}
	for _, r := range u.reflections {
		r.CommitVersion()
	}

	if s.publisher != nil && len(u.events) > 0 {
		if err := s.publisher.Publish(context.WithoutCancel(ctx), u.events); err != nil {
			s.logger.Warn("Failed to publish domain events", zap.Error(err), zap.Int("count", len(u.events)))
		}
	}
	return nil
}

// check validates every version precondition. Caller holds the write lock.
func (u *unitOfWork) check() error {
	s := u.store
	for _, r := range u.realms {
		if stored, ok := s.realms[r.ID()]; ok != (r.Version() > 0) || (ok && stored.Version != r.Version()) {
			return conflict("realm", r.ID())
		}
	}
	for _, sig := range u.signals {
		if stored, ok := s.signals[sig.ID()]; ok != (sig.Version() > 0) || (ok && stored.Version != sig.Version()) {
			return conflict("signal", sig.ID())
		}
	}
	for _, c := range u.clusters {
		if stored, ok := s.clusters[c.ID()]; ok != (c.Version() > 0) || (ok && stored.Version != c.Version()) {
			return conflict("cluster", c.ID())
		}
	}
	for _, r := range u.reflections {
		if stored, ok := s.reflections[r.ID()]; ok != (r.Version() > 0) || (ok && stored.Version != r.Version()) {
			return conflict("reflection", r.ID())
		}
		if id, ok := s.reflectionIndex[reflectionKey(r.Subject(), r.Type())]; ok && id != r.ID() {
			return conflict("reflection", r.Subject().Key())
		}
	}
	for _, syn := range u.syntheses {
		if _, ok := s.syntheses[syn.ID()]; ok {
			return pkgerrors.NewConflictError("synthesis records are immutable")
		}
	}
	return nil
}

// apply writes snapshots with their next version. Caller holds the write lock.
func (u *unitOfWork) apply() {
	s := u.store
	for _, r := range u.realms {
		snap := r.Snapshot()
		snap.Version++
		s.realms[snap.ID] = snap
	}
	for _, sig := range u.signals {
		snap := sig.Snapshot()
		snap.Version++
		s.signals[snap.ID] = snap
	}
	for _, c := range u.clusters {
		snap := c.Snapshot()
		snap.Version++
		s.clusters[snap.ID] = snap
	}
	for _, r := range u.reflections {
		snap := r.Snapshot()
		snap.Version++
		s.reflections[snap.ID] = snap
		s.reflectionIndex[reflectionKey(snap.Subject, snap.Type)] = snap.ID
	}
	for _, syn := range u.syntheses {
		s.syntheses[syn.ID()] = syn.Snapshot()
	}
}
