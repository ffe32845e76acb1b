// Package eventbridge publishes committed domain events to an EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"signals-backend/domain/events"
)

// Source is the EventBridge source of every event this service emits.
const Source = "signals.orchestration"

// EventBridge limits PutEvents to 10 entries.
const batchSize = 10

// API is the subset of the EventBridge client used here.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements ports.EventPublisher.
type Publisher struct {
	client       API
	eventBusName string
	maxTries     uint
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client API, eventBusName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		maxTries:     3,
		logger:       logger,
	}
}

// Publish sends events in batches. Entries EventBridge rejects are resent with backoff;
// the first batch that still fails stops publishing.
func (p *Publisher) Publish(ctx context.Context, domainEvents []events.DomainEvent) error {
	for i := 0; i < len(domainEvents); i += batchSize {
		end := min(i+batchSize, len(domainEvents))
		if err := p.publishBatch(ctx, domainEvents[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, batch []events.DomainEvent) error {
	pending := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, event := range batch {
		entry, err := p.entry(event)
		if err != nil {
			p.logger.Error("Failed to marshal event",
				zap.Error(err),
				zap.String("eventType", event.GetEventType()),
			)
			continue
		}
		pending = append(pending, entry)
	}
	if len(pending) == 0 {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: pending})
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to publish events to EventBridge: %w", err)
		}
		if result.FailedEntryCount == 0 {
			return struct{}{}, nil
		}

		var failed []types.PutEventsRequestEntry
		for i, res := range result.Entries {
			if res.ErrorCode != nil && i < len(pending) {
				p.logger.Warn("EventBridge rejected event",
					zap.String("eventType", aws.ToString(pending[i].DetailType)),
					zap.String("errorCode", aws.ToString(res.ErrorCode)),
					zap.String("errorMessage", aws.ToString(res.ErrorMessage)),
				)
				failed = append(failed, pending[i])
			}
		}
		pending = failed
		return struct{}{}, fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		return err
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(batch)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}

func (p *Publisher) entry(event events.DomainEvent) (types.PutEventsRequestEntry, error) {
	detail, err := json.Marshal(event)
	if err != nil {
		return types.PutEventsRequestEntry{}, err
	}
	return types.PutEventsRequestEntry{
		EventBusName: aws.String(p.eventBusName),
		Source:       aws.String(Source),
		DetailType:   aws.String(event.GetEventType()),
		Detail:       aws.String(string(detail)),
		Time:         aws.Time(event.GetTimestamp()),
		Resources:    []string{fmt.Sprintf("signals:realm/%s/%s", event.GetRealmID(), event.GetAggregateID())},
	}, nil
}
