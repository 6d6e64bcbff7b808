package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/investmarket/auth-api/internal/domain"
)

// purgeAfter is how long a dead challenge row is kept before DynamoDB TTL removes it.
const purgeAfter = 24 * time.Hour

// challengeItem is the stored shape of a domain.Challenge. Timestamps are
// unix milliseconds so conditions can compare them numerically.
type challengeItem struct {
	ChallengeID    string `dynamodbav:"challenge_id"`
	SubjectPurpose string `dynamodbav:"subject_purpose"`
	SubjectKey     string `dynamodbav:"subject_key"`
	AccountID      string `dynamodbav:"account_id,omitempty"`
	Email          string `dynamodbav:"email,omitempty"`
	Phone          string `dynamodbav:"phone,omitempty"`
	Code           string `dynamodbav:"code"`
	Purpose        string `dynamodbav:"purpose"`
	IssuedAt       int64  `dynamodbav:"issued_at"`
	ExpiresAt      int64  `dynamodbav:"expires_at"`
	Consumed       bool   `dynamodbav:"consumed"`
	AttemptCount   int    `dynamodbav:"attempt_count"`
	MaxAttempts    int    `dynamodbav:"max_attempts"`
	PurgeAt        int64  `dynamodbav:"purge_at"`
}

func subjectPurpose(subjectKey string, purpose domain.Purpose) string {
	return subjectKey + "|" + string(purpose)
}

func toChallengeItem(c *domain.Challenge) challengeItem {
	return challengeItem{
		ChallengeID:    c.ChallengeID,
		SubjectPurpose: subjectPurpose(c.SubjectKey, c.Purpose),
		SubjectKey:     c.SubjectKey,
		AccountID:      c.AccountID,
		Email:          c.Email,
		Phone:          c.Phone,
		Code:           c.Code,
		Purpose:        string(c.Purpose),
		IssuedAt:       c.IssuedAt.UnixMilli(),
		ExpiresAt:      c.ExpiresAt.UnixMilli(),
		Consumed:       c.Consumed,
		AttemptCount:   c.AttemptCount,
		MaxAttempts:    c.MaxAttempts,
		PurgeAt:        c.ExpiresAt.Add(purgeAfter).Unix(),
	}
}

func (it challengeItem) toDomain() *domain.Challenge {
	return &domain.Challenge{
		ChallengeID:  it.ChallengeID,
		SubjectKey:   it.SubjectKey,
		AccountID:    it.AccountID,
		Email:        it.Email,
		Phone:        it.Phone,
		Code:         it.Code,
		Purpose:      domain.Purpose(it.Purpose),
		IssuedAt:     time.UnixMilli(it.IssuedAt).UTC(),
		ExpiresAt:    time.UnixMilli(it.ExpiresAt).UTC(),
		Consumed:     it.Consumed,
		AttemptCount: it.AttemptCount,
		MaxAttempts:  it.MaxAttempts,
	}
}

func unmarshalChallenge(item map[string]types.AttributeValue) (*domain.Challenge, error) {
	var it challengeItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return it.toDomain(), nil
}

// ChallengeRepo provides typed DynamoDB operations for the OTP challenge table.
type ChallengeRepo struct {
	client    API
	tableName string
}

func NewChallengeRepo(client API, tableName string) *ChallengeRepo {
	return &ChallengeRepo{client: client, tableName: tableName}
}

func (r *ChallengeRepo) Put(ctx context.Context, c *domain.Challenge) error {
	item, err := attributevalue.MarshalMap(toChallengeItem(c))
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": attrChallengeID},
	})
	return err
}

func (r *ChallengeRepo) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrChallengeID, challengeID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrNotFound)
	}
	return unmarshalChallenge(out.Item)
}

// Latest returns the most recently issued challenge for (subjectKey, purpose),
// consumed or not.
func (r *ChallengeRepo) Latest(ctx context.Context, subjectKey string, purpose domain.Purpose) (*domain.Challenge, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexSubjectPurpose),
		KeyConditionExpression:    aws.String("#sp = :sp"),
		ExpressionAttributeNames:  map[string]string{"#sp": attrSubjectPurpose},
		ExpressionAttributeValues: map[string]types.AttributeValue{":sp": &types.AttributeValueMemberS{Value: subjectPurpose(subjectKey, purpose)}},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("challenge for %s/%s: %w", subjectKey, purpose, domain.ErrNotFound)
	}
	return unmarshalChallenge(out.Items[0])
}

// Supersede consumes every outstanding challenge for (subjectKey, purpose).
func (r *ChallengeRepo) Supersede(ctx context.Context, subjectKey string, purpose domain.Purpose) error {
	return r.consumeOutstanding(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexSubjectPurpose),
		KeyConditionExpression: aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrSubjectPurpose,
			"#c": attrConsumed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: subjectPurpose(subjectKey, purpose)},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
		FilterExpression: aws.String("#c = :f"),
	})
}

// InvalidateAccount consumes every outstanding challenge linked to accountID.
func (r *ChallengeRepo) InvalidateAccount(ctx context.Context, accountID string) error {
	return r.consumeOutstanding(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexChallengeAcct),
		KeyConditionExpression: aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrAccountID,
			"#c": attrConsumed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: accountID},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
		FilterExpression: aws.String("#c = :f"),
	})
}

func (r *ChallengeRepo) consumeOutstanding(ctx context.Context, input *dynamodb.QueryInput) error {
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			id, ok := item[attrChallengeID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if err := r.markConsumed(ctx, id.Value); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (r *ChallengeRepo) markConsumed(ctx context.Context, challengeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrChallengeID, challengeID),
		UpdateExpression:          aws.String("SET #c = :t"),
		ConditionExpression:       aws.String("#c = :f"),
		ExpressionAttributeNames:  map[string]string{"#c": attrConsumed},
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberBOOL{Value: true}, ":f": &types.AttributeValueMemberBOOL{Value: false}},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	return err
}

// IncrementAttempts adds one failed attempt to a live, non-exhausted challenge.
// When the condition fails the current state is returned with domain.ErrConflict.
func (r *ChallengeRepo) IncrementAttempts(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	return r.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(attrChallengeID, challengeID),
		UpdateExpression:    aws.String("SET #n = #n + :one"),
		ConditionExpression: aws.String("attribute_exists(#pk) AND #c = :f AND #n < #m"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrChallengeID,
			"#c":  attrConsumed,
			"#n":  attrAttemptCount,
			"#m":  attrMaxAttempts,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
	})
}

// Consume marks the challenge used if it is still unconsumed, unexpired at now
// and under its attempt cap. When the condition fails the current state is
// returned with domain.ErrConflict.
func (r *ChallengeRepo) Consume(ctx context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	return r.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(attrChallengeID, challengeID),
		UpdateExpression:    aws.String("SET #c = :t"),
		ConditionExpression: aws.String("attribute_exists(#pk) AND #c = :f AND #n < #m AND #e > :now"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrChallengeID,
			"#c":  attrConsumed,
			"#n":  attrAttemptCount,
			"#m":  attrMaxAttempts,
			"#e":  attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberBOOL{Value: true},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
}

func (r *ChallengeRepo) conditionalUpdate(ctx context.Context, input *dynamodb.UpdateItemInput) (*domain.Challenge, error) {
	input.ReturnValues = types.ReturnValueAllNew
	input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	out, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, err
		}
		if len(ccf.Item) == 0 {
			return nil, domain.ErrNotFound
		}
		cur, uerr := unmarshalChallenge(ccf.Item)
		if uerr != nil {
			return nil, uerr
		}
		return cur, domain.ErrConflict
	}
	return unmarshalChallenge(out.Attributes)
}
