package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"signals-backend/application/ports"
	pkgerrors "signals-backend/pkg/errors"
)

// DistributedLock grants subject leases with DynamoDB conditional writes. Expired lock
// items are overwritten; the TTL attribute lets DynamoDB reap abandoned ones.
type DistributedLock struct {
	client    Client
	tableName string
	owner     string
	logger    *zap.Logger
	now       func() time.Time
}

// lockRecord is the item stored under LOCK#<key>.
type lockRecord struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	LockID     string `dynamodbav:"LockID"`
	Owner      string `dynamodbav:"Owner"`
	AcquiredAt int64  `dynamodbav:"AcquiredAt"`
	ExpiresAt  int64  `dynamodbav:"ExpiresAt"`
	TTL        int64  `dynamodbav:"TTL"`
}

// NewDistributedLock creates a locker. owner identifies this process in lock items.
func NewDistributedLock(client Client, tableName, owner string, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		owner:     owner,
		logger:    logger,
		now:       time.Now,
	}
}

func lockKey(subject string) (string, string) { return "LOCK#" + subject, "LOCK" }

func lockItemKey(pk, sk string) map[string]types.AttributeValue { return key(pk, sk) }

// TryAcquire implements ports.SubjectLocker.
func (dl *DistributedLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	now := dl.now()
	expiresAt := now.Add(ttl)
	pk, sk := lockKey(key)
	lockID := uuid.NewString()

	item, err := attributevalue.MarshalMap(lockRecord{
		PK:         pk,
		SK:         sk,
		EntityType: "LOCK",
		LockID:     lockID,
		Owner:      dl.owner,
		AcquiredAt: now.UnixMilli(),
		ExpiresAt:  expiresAt.UnixMilli(),
		TTL:        expiresAt.Add(time.Minute).Unix(),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("encode lock", err)
	}

	cond := expression.Name("PK").AttributeNotExists().
		Or(expression.Name("ExpiresAt").LessThan(expression.Value(now.UnixMilli())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build lock condition").WithCause(err)
	}

	_, err = dl.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(dl.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			dl.logger.Debug("Lock already held", zap.String("key", key))
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("another operation is in progress on %s", key)).
				WithCode("SUBJECT_BUSY")
		}
		return nil, mapError("acquire lock", err)
	}

	dl.logger.Debug("Lock acquired",
		zap.String("key", key),
		zap.String("lockID", lockID),
		zap.Duration("ttl", ttl),
	)
	return &Lock{dl: dl, key: key, lockID: lockID}, nil
}

func (dl *DistributedLock) release(ctx context.Context, key, lockID string) error {
	pk, sk := lockKey(key)
	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("LockID").Equal(expression.Value(lockID))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build release condition").WithCause(err)
	}

	_, err = dl.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(dl.tableName),
		Key:                       lockItemKey(pk, sk),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// expired and taken over by someone else
			dl.logger.Warn("Lock no longer owned at release", zap.String("key", key), zap.String("lockID", lockID))
			return nil
		}
		return mapError("release lock", err)
	}
	return nil
}

// Lock is a held lease.
type Lock struct {
	dl     *DistributedLock
	key    string
	lockID string

	once sync.Once
	err  error
}

// Release deletes the lock item if this lease still owns it. Later calls are no-ops.
func (l *Lock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.dl.release(ctx, l.key, l.lockID)
	})
	return l.err
}
