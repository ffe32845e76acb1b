package services

import (
	"context"
	"fmt"

	"signals-backend/application/ports"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// Subject is a resolved polymorphic subject. Exactly one of Signal and Cluster is set.
type Subject struct {
	Ref     valueobjects.SubjectRef
	Signal  *entities.Signal
	Cluster *entities.Cluster
}

// RealmID returns the owning realm.
func (s *Subject) RealmID() string {
	if s.Signal != nil {
		return s.Signal.RealmID()
	}
	return s.Cluster.RealmID()
}

// Title returns the subject's title.
func (s *Subject) Title() string {
	if s.Signal != nil {
		return s.Signal.Title()
	}
	return s.Cluster.Title()
}

// SubjectResolver maps (id, kind) to the entity it names and enforces tenant ownership.
// Every engine goes through it; none reads subjects directly.
type SubjectResolver struct {
	signals  ports.SignalRepository
	clusters ports.ClusterRepository
}

// NewSubjectResolver creates a new subject resolver
func NewSubjectResolver(signals ports.SignalRepository, clusters ports.ClusterRepository) *SubjectResolver {
	return &SubjectResolver{signals: signals, clusters: clusters}
}

// ResolveRaw parses kind and resolves. An unknown kind is a Validation error.
func (r *SubjectResolver) ResolveRaw(ctx context.Context, id, kind, callerRealmID string) (*Subject, error) {
	ref, err := valueobjects.NewSubjectRef(id, kind)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, ref, callerRealmID)
}

// Resolve loads the subject. It fails NotFound if absent and Forbidden if the subject
// belongs to another realm than the caller's.
func (r *SubjectResolver) Resolve(ctx context.Context, ref valueobjects.SubjectRef, callerRealmID string) (*Subject, error) {
	if callerRealmID == "" {
		return nil, pkgerrors.NewForbiddenError("caller has no realm scope")
	}

	subject := &Subject{Ref: ref}
	switch ref.Kind() {
	case valueobjects.SubjectKindSignal:
		signal, err := r.signals.GetByID(ctx, ref.ID())
		if err != nil {
			return nil, err
		}
		subject.Signal = signal
	case valueobjects.SubjectKindCluster:
		cluster, err := r.clusters.GetByID(ctx, ref.ID())
		if err != nil {
			return nil, err
		}
		subject.Cluster = cluster
	default:
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("unsupported subject kind %q", ref.Kind()))
	}

	if subject.RealmID() != callerRealmID {
		return nil, pkgerrors.NewForbiddenError(fmt.Sprintf("%s belongs to another realm", ref))
	}
	return subject, nil
}
