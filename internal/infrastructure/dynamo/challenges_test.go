package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleChallenge() *domain.Challenge {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Challenge{
		ChallengeID: "01HZX3Q4N0",
		SubjectKey:  "email:a@x.com",
		AccountID:   "acc-1",
		Email:       "a@x.com",
		Code:        "123456",
		Purpose:     domain.PurposeLoginVerification,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(5 * time.Minute),
		MaxAttempts: 3,
	}
}

func TestChallengeItem_Conversion(t *testing.T) {
	c := sampleChallenge()
	it := toChallengeItem(c)

	assert.Equal(t, "email:a@x.com|login_verification", it.SubjectPurpose)
	assert.Equal(t, c.ExpiresAt.UnixMilli(), it.ExpiresAt)
	assert.Equal(t, c.ExpiresAt.Add(purgeAfter).Unix(), it.PurgeAt)
	assert.Equal(t, c, it.toDomain())
}

func TestChallengeRepo_Latest_QueriesNewestFirst(t *testing.T) {
	api := &mockAPI{}
	repo := NewChallengeRepo(api, "otp_challenges")
	item, err := attributevalue.MarshalMap(toChallengeItem(sampleChallenge()))
	require.NoError(t, err)

	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == indexSubjectPurpose &&
			!aws.ToBool(in.ScanIndexForward) &&
			aws.ToInt32(in.Limit) == 1
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil)

	c, err := repo.Latest(context.Background(), "email:a@x.com", domain.PurposeLoginVerification)
	require.NoError(t, err)
	assert.Equal(t, "123456", c.Code)
}

func TestChallengeRepo_Latest_NotFound(t *testing.T) {
	api := &mockAPI{}
	repo := NewChallengeRepo(api, "otp_challenges")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := repo.Latest(context.Background(), "email:a@x.com", domain.PurposePasswordReset)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallengeRepo_Consume_ConditionFailureReturnsCurrentState(t *testing.T) {
	api := &mockAPI{}
	repo := NewChallengeRepo(api, "otp_challenges")
	used := sampleChallenge()
	used.Consumed = true
	item, err := attributevalue.MarshalMap(toChallengeItem(used))
	require.NoError(t, err)

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
	})).Return(nil, &types.ConditionalCheckFailedException{Item: item})

	cur, err := repo.Consume(context.Background(), used.ChallengeID, used.IssuedAt.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NotNil(t, cur)
	assert.True(t, cur.Consumed)
}

func TestChallengeRepo_IncrementAttempts_ReturnsNewState(t *testing.T) {
	api := &mockAPI{}
	repo := NewChallengeRepo(api, "otp_challenges")
	after := sampleChallenge()
	after.AttemptCount = 1
	item, err := attributevalue.MarshalMap(toChallengeItem(after))
	require.NoError(t, err)

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.UpdateExpression) == "SET #n = #n + :one"
	})).Return(&dynamodb.UpdateItemOutput{Attributes: item}, nil)

	cur, err := repo.IncrementAttempts(context.Background(), after.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.AttemptCount)
}

func TestChallengeRepo_Supersede_MarksEveryOutstandingRow(t *testing.T) {
	api := &mockAPI{}
	repo := NewChallengeRepo(api, "otp_challenges")

	page := func(id string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{attrChallengeID: &types.AttributeValueMemberS{Value: id}}
	}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{page("c1")}, LastEvaluatedKey: page("c1")}, nil).Once()
	api.On("Query", mock.Anything, mock.Anything).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{page("c2")}}, nil).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{}).Once()

	require.NoError(t, repo.Supersede(context.Background(), "email:a@x.com", domain.PurposeEmailVerification))
	api.AssertNumberOfCalls(t, "UpdateItem", 2)
}
