package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/shared"
)

const skPrefixCheckpoint = "CKPT#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoCheckpoints.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoCheckpoints stores checkpoints in a single DynamoDB table keyed by
// PK=SESSION#<id> and SK=CKPT#<zero-padded seq>.
type DynamoCheckpoints struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamo wraps api for the given table.
func NewDynamo(api dynamodbAPI, tableName string) (*DynamoCheckpoints, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	return &DynamoCheckpoints{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func checkpointSK(seq int64) string {
	return fmt.Sprintf("%s%020d", skPrefixCheckpoint, seq)
}

// Append writes the next checkpoint with a conditional put so that two
// writers can never store the same sequence.
func (d *DynamoCheckpoints) Append(ctx context.Context, sessionID string, snapshot []byte) (int64, error) {
	var seq int64
	err := shared.Retry(ctx, appendPolicy, "append checkpoint", func() error {
		latest, err := d.Latest(ctx, sessionID)
		if err != nil {
			return err
		}
		seq = 1
		if latest != nil {
			seq = latest.Seq + 1
		}

		_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.tableName),
			Item: map[string]types.AttributeValue{
				"PK":         &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				"SK":         &types.AttributeValueMemberS{Value: checkpointSK(seq)},
				"seq":        &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
				"snapshot":   &types.AttributeValueMemberB{Value: snapshot},
				"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().UnixMilli(), 10)},
			},
			ConditionExpression: aws.String("attribute_not_exists(SK)"),
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrSequenceConflict
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: dynamodb append for %s: %w", sessionID, err)
	}
	return seq, nil
}

// Latest returns the newest checkpoint of the session, or nil.
func (d *DynamoCheckpoints) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	cps, err := d.List(ctx, sessionID, 1)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return &cps[0], nil
}

// List returns up to limit checkpoints, newest first.
func (d *DynamoCheckpoints) List(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	var startKey map[string]types.AttributeValue
	for {
		in := d.queryInput(sessionID, startKey)
		if limit > 0 {
			in.Limit = aws.Int32(int32(limit - len(out)))
		}
		res, err := d.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("store: dynamodb query %s: %w", sessionID, err)
		}
		for _, item := range res.Items {
			cp, err := itemToCheckpoint(sessionID, item)
			if err != nil {
				return nil, fmt.Errorf("store: dynamodb decode %s: %w", sessionID, err)
			}
			out = append(out, cp)
		}
		if len(res.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
		startKey = res.LastEvaluatedKey
	}
}

func (d *DynamoCheckpoints) queryInput(sessionID string, startKey map[string]types.AttributeValue) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixCheckpoint},
		},
		ScanIndexForward:  aws.Bool(false),
		ConsistentRead:    aws.Bool(true),
		ExclusiveStartKey: startKey,
	}
}

// DeleteSession removes every checkpoint item of the session.
func (d *DynamoCheckpoints) DeleteSession(ctx context.Context, sessionID string) error {
	cps, err := d.List(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				"SK": &types.AttributeValueMemberS{Value: checkpointSK(cp.Seq)},
			},
		})
		if err != nil {
			return fmt.Errorf("store: dynamodb delete %s/%d: %w", sessionID, cp.Seq, err)
		}
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (d *DynamoCheckpoints) Close() error {
	return nil
}

func itemToCheckpoint(sessionID string, item map[string]types.AttributeValue) (domain.Checkpoint, error) {
	seq, err := numberAttr(item, "seq")
	if err != nil {
		return domain.Checkpoint{}, err
	}
	created, err := numberAttr(item, "created_at")
	if err != nil {
		return domain.Checkpoint{}, err
	}
	snap, ok := item["snapshot"].(*types.AttributeValueMemberB)
	if !ok {
		return domain.Checkpoint{}, errors.New("snapshot attribute missing")
	}
	return domain.Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		Snapshot:  snap.Value,
		CreatedAt: time.UnixMilli(created).UTC(),
	}, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%s attribute missing", name)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
