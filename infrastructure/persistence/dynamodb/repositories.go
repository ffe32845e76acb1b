package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// maxBatchGetKeys is DynamoDB's BatchGetItem ceiling.
const maxBatchGetKeys = 100

// maxBatchGetRounds bounds how often unprocessed keys are resubmitted.
const maxBatchGetRounds = 5

func unmarshal[T any](resource string, item map[string]types.AttributeValue) (T, error) {
	var out T
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return out, pkgerrors.NewDatabaseError("decode "+resource, err)
	}
	return out, nil
}

// RealmRepository implements ports.RealmRepository.
type RealmRepository struct {
	store *Store
}

func (r *RealmRepository) GetByID(ctx context.Context, id string) (*entities.Realm, error) {
	pk, sk := realmKey(id)
	item, err := r.store.getItem(ctx, "realm", pk, sk)
	if err != nil {
		return nil, err
	}
	ri, err := unmarshal[realmItem]("realm", item)
	if err != nil {
		return nil, err
	}
	return entities.ReconstructRealm(ri.snapshot())
}

func (r *RealmRepository) Save(ctx context.Context, realm *entities.Realm) error {
	uow := &UnitOfWork{store: r.store}
	uow.RegisterRealm(realm)
	return uow.Commit(ctx)
}

// SignalRepository implements ports.SignalRepository.
type SignalRepository struct {
	store *Store
}

func (r *SignalRepository) GetByID(ctx context.Context, id string) (*entities.Signal, error) {
	pk, sk := signalKey(id)
	item, err := r.store.getItem(ctx, "signal", pk, sk)
	if err != nil {
		return nil, err
	}
	si, err := unmarshal[signalItem]("signal", item)
	if err != nil {
		return nil, err
	}
	return entities.ReconstructSignal(si.snapshot())
}

// GetByIDs reads in BatchGetItem chunks and returns the signals in request order.
func (r *SignalRepository) GetByIDs(ctx context.Context, ids []string) ([]*entities.Signal, error) {
	found := make(map[string]*entities.Signal, len(ids))
	for start := 0; start < len(ids); start += maxBatchGetKeys {
		end := min(start+maxBatchGetKeys, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		seen := make(map[string]struct{}, end-start)
		for _, id := range ids[start:end] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			keys = append(keys, key(signalKey(id)))
		}

		items, err := r.store.batchGet(ctx, keys)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			si, err := unmarshal[signalItem]("signal", item)
			if err != nil {
				return nil, err
			}
			sig, err := entities.ReconstructSignal(si.snapshot())
			if err != nil {
				return nil, err
			}
			found[sig.ID()] = sig
		}
	}

	out := make([]*entities.Signal, 0, len(found))
	for _, id := range ids {
		if sig, ok := found[id]; ok {
			out = append(out, sig)
			delete(found, id)
		}
	}
	return out, nil
}

func (r *SignalRepository) Save(ctx context.Context, signal *entities.Signal) error {
	uow := &UnitOfWork{store: r.store}
	uow.RegisterSignal(signal)
	return uow.Commit(ctx)
}

// batchGet resolves every key, resubmitting unprocessed keys a bounded number of times.
func (s *Store) batchGet(ctx context.Context, keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	pending := keys
	for round := 0; len(pending) > 0; round++ {
		if round == maxBatchGetRounds {
			return nil, pkgerrors.NewDatabaseError("batch get",
				fmt.Errorf("%d keys still unprocessed", len(pending)))
		}
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.tableName: {Keys: pending, ConsistentRead: aws.Bool(true)},
			},
		})
		if err != nil {
			return nil, mapError("batch get", err)
		}
		items = append(items, out.Responses[s.tableName]...)
		pending = out.UnprocessedKeys[s.tableName].Keys
	}
	return items, nil
}

// ClusterRepository implements ports.ClusterRepository.
type ClusterRepository struct {
	store *Store
}

func (r *ClusterRepository) GetByID(ctx context.Context, id string) (*entities.Cluster, error) {
	pk, sk := clusterKey(id)
	item, err := r.store.getItem(ctx, "cluster", pk, sk)
	if err != nil {
		return nil, err
	}
	ci, err := unmarshal[clusterItem]("cluster", item)
	if err != nil {
		return nil, err
	}
	return entities.ReconstructCluster(ci.snapshot())
}

func (r *ClusterRepository) Save(ctx context.Context, cluster *entities.Cluster) error {
	uow := &UnitOfWork{store: r.store}
	uow.RegisterCluster(cluster)
	return uow.Commit(ctx)
}

// ReflectionRepository implements ports.ReflectionRepository.
type ReflectionRepository struct {
	store *Store
}

func (r *ReflectionRepository) GetByID(ctx context.Context, id string) (*entities.Reflection, error) {
	target, err := r.store.resolvePointer(ctx, "reflection", entityReflection, id)
	if err != nil {
		return nil, err
	}
	item, err := r.store.getItem(ctx, "reflection", target.TargetPK, target.TargetSK)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, item)
}

func (r *ReflectionRepository) FindBySubjectAndType(ctx context.Context, subject valueobjects.SubjectRef, t valueobjects.ReflectionType) (*entities.Reflection, error) {
	pk, sk := reflectionKey(subject, t)
	item, err := r.store.getItem(ctx, "reflection", pk, sk)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, item)
}

// load decodes a head item and reads its history entries.
func (r *ReflectionRepository) load(ctx context.Context, item map[string]types.AttributeValue) (*entities.Reflection, error) {
	head, err := unmarshal[reflectionItem]("reflection", item)
	if err != nil {
		return nil, err
	}
	items, err := r.store.queryPrefix(ctx, head.PK, historyPrefix(valueobjects.ReflectionType(head.Type))+"#H#")
	if err != nil {
		return nil, err
	}
	history := make([]historyItem, 0, len(items))
	for _, it := range items {
		h, err := unmarshal[historyItem]("reflection history", it)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return decodeReflection(head, history)
}

// ListBySubject reads heads and history entries in one query. Entries sort directly
// after their head, in sequence order.
func (r *ReflectionRepository) ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Reflection, error) {
	items, err := r.store.queryPrefix(ctx, subjectPK(subject), "REFLECTION#")
	if err != nil {
		return nil, err
	}

	var heads []reflectionItem
	history := make(map[string][]historyItem)
	for _, item := range items {
		var kind struct {
			EntityType string `dynamodbav:"EntityType"`
		}
		if err := attributevalue.UnmarshalMap(item, &kind); err != nil {
			return nil, pkgerrors.NewDatabaseError("decode reflection", err)
		}
		switch kind.EntityType {
		case entityHistory:
			h, err := unmarshal[historyItem]("reflection history", item)
			if err != nil {
				return nil, err
			}
			history[h.ReflectionID] = append(history[h.ReflectionID], h)
		default:
			head, err := unmarshal[reflectionItem]("reflection", item)
			if err != nil {
				return nil, err
			}
			heads = append(heads, head)
		}
	}

	out := make([]*entities.Reflection, 0, len(heads))
	for _, head := range heads {
		ref, err := decodeReflection(head, history[head.ReflectionID])
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}

func decodeReflection(head reflectionItem, history []historyItem) (*entities.Reflection, error) {
	snap, err := head.snapshot(history)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("decode reflection", err)
	}
	return entities.ReconstructReflection(snap)
}

// SynthesisRepository implements ports.SynthesisRepository.
type SynthesisRepository struct {
	store *Store
}

func (r *SynthesisRepository) GetByID(ctx context.Context, id string) (*entities.Synthesis, error) {
	target, err := r.store.resolvePointer(ctx, "synthesis", entitySynthesis, id)
	if err != nil {
		return nil, err
	}
	item, err := r.store.getItem(ctx, "synthesis", target.TargetPK, target.TargetSK)
	if err != nil {
		return nil, err
	}
	return decodeSynthesis(item)
}

// ListBySubject relies on the sort key carrying the creation time, so query order is creation order.
func (r *SynthesisRepository) ListBySubject(ctx context.Context, subject valueobjects.SubjectRef) ([]*entities.Synthesis, error) {
	items, err := r.store.queryPrefix(ctx, subjectPK(subject), "SYNTHESIS#")
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Synthesis, 0, len(items))
	for _, item := range items {
		syn, err := decodeSynthesis(item)
		if err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, nil
}

func decodeSynthesis(item map[string]types.AttributeValue) (*entities.Synthesis, error) {
	si, err := unmarshal[synthesisItem]("synthesis", item)
	if err != nil {
		return nil, err
	}
	snap, err := si.snapshot()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("decode synthesis", err)
	}
	return entities.ReconstructSynthesis(snap)
}

func (s *Store) resolvePointer(ctx context.Context, resource, entity, id string) (pointerItem, error) {
	pk, sk := pointerKey(entity, id)
	item, err := s.getItem(ctx, resource, pk, sk)
	if err != nil {
		return pointerItem{}, err
	}
	return unmarshal[pointerItem](resource, item)
}

// queryPrefix returns every item under pk whose sort key starts with prefix, in sort key order.
func (s *Store) queryPrefix(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(pk)).
		And(expression.Key("SK").BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build query expression").WithCause(err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("query "+prefix, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
