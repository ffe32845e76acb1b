package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/events"
	pkgerrors "signals-backend/pkg/errors"
)

// UnitOfWork writes every registered entity in one TransactWriteItems call.
type UnitOfWork struct {
	store       *Store
	realms      []*entities.Realm
	signals     []*entities.Signal
	clusters    []*entities.Cluster
	reflections []*entities.Reflection
	syntheses   []*entities.Synthesis
	events      []events.DomainEvent
	done        bool
}

func (u *UnitOfWork) RegisterRealm(r *entities.Realm) {
	if !registered(u.realms, r.ID(), (*entities.Realm).ID) {
		u.realms = append(u.realms, r)
	}
}

func (u *UnitOfWork) RegisterSignal(sig *entities.Signal) {
	if !registered(u.signals, sig.ID(), (*entities.Signal).ID) {
		u.signals = append(u.signals, sig)
	}
}

func (u *UnitOfWork) RegisterCluster(c *entities.Cluster) {
	if !registered(u.clusters, c.ID(), (*entities.Cluster).ID) {
		u.clusters = append(u.clusters, c)
	}
}

func (u *UnitOfWork) RegisterReflection(r *entities.Reflection) {
	if !registered(u.reflections, r.ID(), (*entities.Reflection).ID) {
		u.reflections = append(u.reflections, r)
	}
}

func (u *UnitOfWork) RegisterSynthesis(syn *entities.Synthesis) {
	if !registered(u.syntheses, syn.ID(), (*entities.Synthesis).ID) {
		u.syntheses = append(u.syntheses, syn)
	}
}

func (u *UnitOfWork) RegisterEvent(e events.DomainEvent) { u.events = append(u.events, e) }

func (u *UnitOfWork) Rollback() { u.done = true }

func registered[T any](items []T, id string, idOf func(T) string) bool {
	for _, item := range items {
		if idOf(item) == id {
			return true
		}
	}
	return false
}

// Commit builds the transaction, writes it and, on success, advances every entity's
// version and publishes the buffered events.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return pkgerrors.NewInternalError("unit of work already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	items, err := u.transactItems()
	if err != nil {
		return err
	}
	if len(items) > maxTransactItems {
		return pkgerrors.NewInternalError(
			fmt.Sprintf("unit of work has %d writes, limit is %d", len(items), maxTransactItems))
	}

	if len(items) > 0 {
		_, err = u.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err != nil {
			return mapError("commit", err)
		}
	}
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

	u.store.logger.Debug("Unit of work committed",
		zap.Int("writes", len(items)),
		zap.Int("events", len(u.events)),
	)

	if u.store.publisher != nil && len(u.events) > 0 {
		if err := u.store.publisher.Publish(context.WithoutCancel(ctx), u.events); err != nil {
			u.store.logger.Warn("Failed to publish domain events", zap.Error(err), zap.Int("count", len(u.events)))
		}
	}
	return nil
}

func (u *UnitOfWork) transactItems() ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	add := func(resource string, item any, version int) error {
		put, err := u.store.versionedPut(resource, item, version)
		if err != nil {
			return err
		}
		items = append(items, put)
		return nil
	}

	for _, r := range u.realms {
		snap := r.Snapshot()
		snap.Version++
		if err := add("realm", newRealmItem(snap), r.Version()); err != nil {
			return nil, err
		}
	}
	for _, sig := range u.signals {
		snap := sig.Snapshot()
		snap.Version++
		if err := add("signal", newSignalItem(snap), sig.Version()); err != nil {
			return nil, err
		}
	}
	for _, c := range u.clusters {
		snap := c.Snapshot()
		snap.Version++
		if err := add("cluster", newClusterItem(snap), c.Version()); err != nil {
			return nil, err
		}
	}
	for _, r := range u.reflections {
		snap := r.Snapshot()
		snap.Version++
		item := newReflectionItem(snap)
		if err := add("reflection", item, r.Version()); err != nil {
			return nil, err
		}
		if r.IsNew() {
			if err := add("reflection", newPointer(entityReflection, snap.ID, item.PK, item.SK), 0); err != nil {
				return nil, err
			}
		}
		first, pending := r.UncommittedHistory()
		for n, rec := range pending {
			if err := add("reflection history", newHistoryItem(snap, first+n, rec), 0); err != nil {
				return nil, err
			}
		}
	}
	for _, syn := range u.syntheses {
		item := newSynthesisItem(syn.Snapshot())
		if err := add("synthesis", item, 0); err != nil {
			return nil, err
		}
		if err := add("synthesis", newPointer(entitySynthesis, syn.ID(), item.PK, item.SK), 0); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func newPointer(entity, id, targetPK, targetSK string) pointerItem {
	pk, sk := pointerKey(entity, id)
	return pointerItem{PK: pk, SK: sk, EntityType: entityPointer, TargetPK: targetPK, TargetSK: targetSK}
}

// versionedPut writes item only if the stored version is version, or, for version 0, if
// nothing is stored under the key yet.
func (s *Store) versionedPut(resource string, item any, version int) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.TransactWriteItem{}, pkgerrors.NewDatabaseError("encode "+resource, err)
	}

	var condition expression.ConditionBuilder
	if version == 0 {
		condition = expression.Name("PK").AttributeNotExists()
	} else {
		condition = expression.Name("Version").Equal(expression.Value(version))
	}
	expr, err := expression.NewBuilder().WithCondition(condition).Build()
	if err != nil {
		return types.TransactWriteItem{}, pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(s.tableName),
			Item:                      av,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	}, nil
}
