package di

import (
	"context"

	"go.uber.org/zap"

	"signals-backend/domain/events"
)

// loggingPublisher stands in for EventBridge on the memory backend.
type loggingPublisher struct {
	logger *zap.Logger
}

func (p *loggingPublisher) Publish(ctx context.Context, evts []events.DomainEvent) error {
	for _, e := range evts {
		p.logger.Info("Domain event",
			zap.String("eventType", e.GetEventType()),
			zap.String("aggregateID", e.GetAggregateID()),
			zap.String("realmID", e.GetRealmID()),
		)
	}
	return nil
}
