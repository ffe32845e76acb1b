// Package dynamodb implements the persistence ports on a single DynamoDB table.
//
// Key layout:
//
//	REALM#<id>               SETTINGS                      realm and its LLM settings
//	SIGNAL#<id>              SIGNAL                        signal
//	CLUSTER#<id>             CLUSTER                       cluster
//	SUBJECT#<Kind>#<id>      REFLECTION#<TYPE>             reflection, one per subject and type
//	SUBJECT#<Kind>#<id>      SYNTHESIS#<unixnano>#<id>     synthesis, insert only
//	REFLECTION#<id>          POINTER                       id lookup for reflections
//	SYNTHESIS#<id>           POINTER                       id lookup for syntheses
//	LOCK#<subject key>       LOCK                          subject lease
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	pkgerrors "signals-backend/pkg/errors"
)

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// maxTransactItems is DynamoDB's TransactWriteItems ceiling.
const maxTransactItems = 100

// Store groups the repositories and unit of work over one table.
type Store struct {
	client    Client
	tableName string
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewStore creates a new DynamoDB-backed store. publisher may be nil.
func NewStore(client Client, tableName string, publisher ports.EventPublisher, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Store) Realms() ports.RealmRepository           { return &RealmRepository{store: s} }
func (s *Store) Signals() ports.SignalRepository         { return &SignalRepository{store: s} }
func (s *Store) Clusters() ports.ClusterRepository       { return &ClusterRepository{store: s} }
func (s *Store) Reflections() ports.ReflectionRepository { return &ReflectionRepository{store: s} }
func (s *Store) Syntheses() ports.SynthesisRepository    { return &SynthesisRepository{store: s} }

// Begin implements ports.UnitOfWorkFactory.
func (s *Store) Begin(ctx context.Context) (ports.UnitOfWork, error) {
	return &UnitOfWork{store: s}, nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem reads one item with strong consistency. A missing item is a NotFound AppError.
func (s *Store) getItem(ctx context.Context, resource, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError("get "+resource, err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError(resource)
	}
	return out.Item, nil
}

// mapError turns SDK failures into AppErrors. Failed conditions become Conflicts.
func mapError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return pkgerrors.NewConflictError("stored state changed concurrently").WithCause(err)
			}
		}
		return pkgerrors.NewDatabaseError(operation, err)
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return pkgerrors.NewConflictError("stored state changed concurrently").WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TransactionConflictException":
			return pkgerrors.NewConflictError("stored state changed concurrently").WithCause(err)
		case "ResourceNotFoundException":
			return pkgerrors.NewDatabaseError(operation, fmt.Errorf("table not found: %w", err))
		}
	}
	return pkgerrors.NewDatabaseError(operation, err)
}
