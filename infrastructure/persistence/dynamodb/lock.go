package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	pkgerrors "loci/pkg/errors"
)

var _ ports.JobLock = (*JobLock)(nil)

// JobLock serializes background jobs across processes with a conditional
// write on a lock item. An expired lock can be taken over; the TTL
// attribute lets DynamoDB reap abandoned items.
type JobLock struct {
	client    API
	tableName string
	owner     string
	logger    *zap.Logger
	now       func() time.Time
}

// NewJobLock creates a lock on tableName. Holders are identified by host
// name plus a per-acquire token.
func NewJobLock(client API, tableName string, logger *zap.Logger) *JobLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &JobLock{
		client:    client,
		tableName: tableName,
		owner:     host,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Acquire takes the named lock for ttl.
func (l *JobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	now := l.now()
	expiresAt := now.Add(ttl)
	lockID := entities.NewID()

	item := map[string]types.AttributeValue{
		attrPK:         stringAttr(lockPK(name)),
		attrSK:         stringAttr(lockSK),
		attrEntityType: stringAttr(entityLock),
		"LockID":       stringAttr(lockID),
		"Owner":        stringAttr(l.owner),
		"AcquiredAt":   stringAttr(now.Format(time.RFC3339)),
		"ExpiresAt":    &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		"TTL":          &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			l.logger.Debug("Lock already held", zap.String("lock", name))
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("lock %s is held", name))
		}
		return nil, classifyError("PutItem", err)
	}

	l.logger.Debug("Lock acquired",
		zap.String("lock", name),
		zap.String("lockID", lockID),
		zap.Duration("ttl", ttl),
	)
	return func(ctx context.Context) error {
		return l.release(ctx, name, lockID)
	}, nil
}

func (l *JobLock) release(ctx context.Context, name, lockID string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 primaryKey(lockPK(name), lockSK),
		ConditionExpression: aws.String("LockID = :lockId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": stringAttr(lockID),
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			// Expired and taken over; nothing of ours left to release.
			l.logger.Warn("Lock was already released or taken over", zap.String("lock", name))
			return nil
		}
		return classifyError("DeleteItem", err)
	}
	return nil
}
