package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/domain/events"
	pkgerrors "signals-backend/pkg/errors"
)

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

func TestStore_SignalRoundTrip(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	ctx := context.Background()

	sig, err := entities.NewSignal("r1", "title", "content", "capture")
	require.NoError(t, err)
	require.NoError(t, store.Signals().Save(ctx, sig))
	assert.Equal(t, 1, sig.Version())

	loaded, err := store.Signals().GetByID(ctx, sig.ID())
	require.NoError(t, err)
	assert.Equal(t, sig.Snapshot(), loaded.Snapshot())

	_, err = store.Signals().GetByID(ctx, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestStore_OptimisticVersionConflict(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	ctx := context.Background()

	sig, err := entities.NewSignal("r1", "t", "c", "")
	require.NoError(t, err)
	require.NoError(t, store.Signals().Save(ctx, sig))

	first, err := store.Signals().GetByID(ctx, sig.ID())
	require.NoError(t, err)
	second, err := store.Signals().GetByID(ctx, sig.ID())
	require.NoError(t, err)

	first.ApplyAnalysis(valueobjects.NewAnalysisFields(0.5, 0.5, "", nil), time.Now())
	require.NoError(t, store.Signals().Save(ctx, first))

	second.MarkAnalysisFailed(time.Now())
	err = store.Signals().Save(ctx, second)
	assert.True(t, pkgerrors.IsConflict(err))

	stored, err := store.Signals().GetByID(ctx, sig.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobjects.SignalStatusAnalyzed, stored.Status())
}

func TestStore_CommitIsAllOrNothing(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	ctx := context.Background()

	sig, err := entities.NewSignal("r1", "t", "c", "")
	require.NoError(t, err)
	require.NoError(t, store.Signals().Save(ctx, sig))

	stale, err := entities.NewSignal("r1", "t", "c", "")
	require.NoError(t, err)
	require.NoError(t, store.Signals().Save(ctx, stale))
	staleCopy, err := entities.ReconstructSignal(func() entities.SignalSnapshot {
		s := stale.Snapshot()
		s.Version = 0
		return s
	}())
	require.NoError(t, err)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	sig.ApplyAnalysis(valueobjects.NewAnalysisFields(0.1, 0.1, "", nil), time.Now())
	uow.RegisterSignal(sig)
	uow.RegisterSignal(staleCopy)
	assert.True(t, pkgerrors.IsConflict(uow.Commit(ctx)))

	stored, err := store.Signals().GetByID(ctx, sig.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobjects.SignalStatusPending, stored.Status())
}

func TestStore_CommitRespectsCancelledContext(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	sig, err := entities.NewSignal("r1", "t", "c", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Signals().Save(ctx, sig), context.Canceled)

	_, err = store.Signals().GetByID(context.Background(), sig.ID())
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestStore_ReflectionUniquePerSubjectAndType(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	ctx := context.Background()
	subject := valueobjects.SignalSubject("s1")

	first, err := entities.NewReflection("r1", subject, valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)
	uow, _ := store.Begin(ctx)
	uow.RegisterReflection(first)
	require.NoError(t, uow.Commit(ctx))

	dup, err := entities.NewReflection("r1", subject, valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)
	uow, _ = store.Begin(ctx)
	uow.RegisterReflection(dup)
	assert.True(t, pkgerrors.IsConflict(uow.Commit(ctx)))

	other, err := entities.NewReflection("r1", subject, valueobjects.ReflectionTypeLineage)
	require.NoError(t, err)
	uow, _ = store.Begin(ctx)
	uow.RegisterReflection(other)
	require.NoError(t, uow.Commit(ctx))

	found, err := store.Reflections().FindBySubjectAndType(ctx, subject, valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), found.ID())

	list, err := store.Reflections().ListBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStore_SynthesesAreInsertOnlyAndOrdered(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewStore(pub, zap.NewNop())
	ctx := context.Background()
	subject := valueobjects.ClusterSubject("c1")

	var ids []string
	for i := 0; i < 3; i++ {
		syn, err := entities.NewSynthesis("r1", subject, valueobjects.SynthesisTypeMetadata,
			valueobjects.SynthesisSubtypeSurface, 0, "text", entities.Rollup{}, entities.GenerationRecord{})
		require.NoError(t, err)
		uow, _ := store.Begin(ctx)
		uow.RegisterSynthesis(syn)
		uow.RegisterEvent(events.NewSynthesisCreated(syn.ID(), "r1", subject.Key(), "METADATA", "SURFACE", 0, time.Now()))
		require.NoError(t, uow.Commit(ctx))
		ids = append(ids, syn.ID())

		uow, _ = store.Begin(ctx)
		uow.RegisterSynthesis(syn)
		assert.True(t, pkgerrors.IsConflict(uow.Commit(ctx)))
		time.Sleep(time.Millisecond)
	}

	list, err := store.Syntheses().ListBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, syn := range list {
		assert.Equal(t, ids[i], syn.ID())
	}
	assert.Len(t, pub.events, 3)
}

func TestStore_RollbackPreventsCommit(t *testing.T) {
	store := NewStore(nil, zap.NewNop())
	uow, _ := store.Begin(context.Background())
	uow.Rollback()
	assert.Error(t, uow.Commit(context.Background()))
}

func TestLocker(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "Signal#1", time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, "Signal#1", time.Minute)
	assert.True(t, pkgerrors.IsConflict(err))

	_, err = locker.TryAcquire(ctx, "Signal#2", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	again, err := locker.TryAcquire(ctx, "Signal#1", time.Minute)
	require.NoError(t, err)

	// a stale lease must not free a key someone else now holds
	require.NoError(t, lease.Release(ctx))
	_, err = locker.TryAcquire(ctx, "Signal#1", time.Minute)
	assert.True(t, pkgerrors.IsConflict(err))
	require.NoError(t, again.Release(ctx))
}

func TestLocker_ExpiredLeaseIsFree(t *testing.T) {
	locker := NewLocker()
	now := time.Now()
	locker.now = func() time.Time { return now }

	_, err := locker.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = locker.TryAcquire(context.Background(), "k", time.Second)
	assert.NoError(t, err)
}
