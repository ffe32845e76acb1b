package ports

import (
	"context"
	"time"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/events"
)

// UnitOfWork collects the writes of one operation and commits them all-or-nothing.
// Every registered entity is written with an optimistic version check; a stale version
// fails the whole commit with a Conflict AppError. Events are published only after a
// successful commit.
type UnitOfWork interface {
	RegisterRealm(realm *entities.Realm)
	RegisterSignal(signal *entities.Signal)
	RegisterCluster(cluster *entities.Cluster)
	RegisterReflection(reflection *entities.Reflection)

	// RegisterSynthesis schedules an insert. Syntheses are never overwritten.
	RegisterSynthesis(synthesis *entities.Synthesis)

	RegisterEvent(event events.DomainEvent)

	Commit(ctx context.Context) error
	Rollback()
}

// UnitOfWorkFactory starts a new unit of work.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Lease is a held per-subject lock.
type Lease interface {
	Release(ctx context.Context) error
}

// SubjectLocker grants exclusive, time-bounded leases on subject keys. TryAcquire never
// waits: a key that is already held yields a Conflict AppError.
type SubjectLocker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// EventPublisher delivers committed domain events to the outside world.
type EventPublisher interface {
	Publish(ctx context.Context, events []events.DomainEvent) error
}
