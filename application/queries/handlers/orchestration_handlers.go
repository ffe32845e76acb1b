package handlers

import (
	"context"
	"fmt"

	"signals-backend/application/queries"
	"signals-backend/application/queries/bus"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

// Reader is the read side of the coordinator.
type Reader interface {
	ListReflections(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Reflection, error)
	ListSyntheses(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Synthesis, error)
	GetLLMSettings(ctx context.Context, realmID, callerRealmID string) (valueobjects.LLMSettings, error)
}

// Register wires every orchestration query into b.
func Register(b *bus.QueryBus, reader Reader) error {
	if err := b.Register(queries.ListReflectionsQuery{}, bus.QueryHandlerFunc(func(ctx context.Context, q bus.Query) (interface{}, error) {
		query, ok := q.(queries.ListReflectionsQuery)
		if !ok {
			return nil, fmt.Errorf("unexpected query type %T", q)
		}
		return reader.ListReflections(ctx, query.SubjectID, query.SubjectKind, query.CallerRealmID)
	})); err != nil {
		return err
	}

	if err := b.Register(queries.ListSynthesesQuery{}, bus.QueryHandlerFunc(func(ctx context.Context, q bus.Query) (interface{}, error) {
		query, ok := q.(queries.ListSynthesesQuery)
		if !ok {
			return nil, fmt.Errorf("unexpected query type %T", q)
		}
		return reader.ListSyntheses(ctx, query.SubjectID, query.SubjectKind, query.CallerRealmID)
	})); err != nil {
		return err
	}

	return b.Register(queries.GetLLMSettingsQuery{}, bus.QueryHandlerFunc(func(ctx context.Context, q bus.Query) (interface{}, error) {
		query, ok := q.(queries.GetLLMSettingsQuery)
		if !ok {
			return nil, fmt.Errorf("unexpected query type %T", q)
		}
		return reader.GetLLMSettings(ctx, query.RealmID, query.CallerRealmID)
	}))
}
