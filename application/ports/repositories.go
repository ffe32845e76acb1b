package ports

import (
	"context"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

// RealmRepository loads and stores realms. GetByID returns a NotFound AppError for unknown ids.
type RealmRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Realm, error)

	// Save persists a realm with an optimistic version check.
	Save(ctx context.Context, realm *entities.Realm) error
}

// SignalRepository defines the interface for signal persistence
type SignalRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Signal, error)

	// GetByIDs returns the signals that exist, in the order requested. Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]*entities.Signal, error)

	Save(ctx context.Context, signal *entities.Signal) error
}

// ClusterRepository defines the interface for cluster persistence
type ClusterRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Cluster, error)
	Save(ctx context.Context, cluster *entities.Cluster) error
}

// ReflectionRepository is read-only; reflections are written through a UnitOfWork.
type ReflectionRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Reflection, error)

	// FindBySubjectAndType returns the single reflection for the pair or a NotFound AppError.
	FindBySubjectAndType(ctx context.Context, subject valueobjects.SubjectRef, t valueobjects.ReflectionType) (*entities.Reflection, error)

	// ListBySubject returns every reflection of the subject ordered by creation time.
	ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Reflection, error)
}

// SynthesisRepository is read-only; syntheses are created through a UnitOfWork and never updated.
type SynthesisRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Synthesis, error)

	// ListBySubject returns every synthesis of the subject ordered by creation time.
	ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Synthesis, error)
}
