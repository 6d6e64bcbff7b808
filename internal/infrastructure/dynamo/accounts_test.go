package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/investmarket/auth-api/internal/config"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTables = config.DynamoTables{Accounts: "accounts", AccountHandles: "account_handles", Challenges: "otp_challenges"}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestAccountRepo_Create_WritesAccountAndHandles(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)
	phone := "+15551234567"

	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		if len(in.TransactItems) != 4 {
			return false
		}
		email := in.TransactItems[1].Put.Item[attrHandle].(*types.AttributeValueMemberS).Value
		username := in.TransactItems[2].Put.Item[attrHandle].(*types.AttributeValueMemberS).Value
		tel := in.TransactItems[3].Put.Item[attrHandle].(*types.AttributeValueMemberS).Value
		return email == "email#a@x.com" && username == "username#alice" && tel == "phone#+15551234567"
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	err := repo.Create(context.Background(), &domain.Account{
		AccountID: "acc-1", Email: "a@x.com", Username: "Alice", Telephone: &phone, Role: domain.RoleUser,
	})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestAccountRepo_Create_MapsConflictPerField(t *testing.T) {
	cases := []struct {
		name  string
		codes []string
		want  error
	}{
		{"email", []string{"None", "ConditionalCheckFailed", "None"}, domain.ErrEmailTaken},
		{"username", []string{"None", "None", "ConditionalCheckFailed"}, domain.ErrUsernameTaken},
		{"phone", []string{"None", "None", "None", "ConditionalCheckFailed"}, domain.ErrPhoneTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &mockAPI{}
			repo := NewAccountRepo(api, testTables)
			phone := "+15551234567"
			api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(tc.codes...))

			err := repo.Create(context.Background(), &domain.Account{AccountID: "acc-1", Email: "a@x.com", Username: "alice", Telephone: &phone})
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, errors.Is(err, domain.ErrConflict))
		})
	}
}

func TestAccountRepo_Create_PassesThroughTransientErrors(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)
	boom := errors.New("throttled")
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, boom)

	err := repo.Create(context.Background(), &domain.Account{AccountID: "acc-1", Email: "a@x.com", Username: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestAccountRepo_FindByEmail(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)

	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToString(in.TableName) == "account_handles"
	})).Return(&dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		attrHandle:    &types.AttributeValueMemberS{Value: "email#a@x.com"},
		attrAccountID: &types.AttributeValueMemberS{Value: "acc-1"},
	}}, nil)

	item, err := attributevalue.MarshalMap(&domain.Account{AccountID: "acc-1", Email: "a@x.com", Username: "alice", Role: domain.RoleInvestor})
	require.NoError(t, err)
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToString(in.TableName) == "accounts"
	})).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	a, err := repo.FindByEmail(context.Background(), " A@X.com ")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", a.AccountID)
	assert.Equal(t, domain.RoleInvestor, a.Role)
}

func TestAccountRepo_FindByEmail_NotFound(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.FindByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountRepo_UpdateFields_PlainUpdate(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_exists(#pk)" &&
			in.ExpressionAttributeNames["#f0"] == domain.FieldEmailVerified &&
			in.ExpressionAttributeNames["#f1"] == domain.FieldUpdatedAt
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	require.NoError(t, repo.UpdateFields(context.Background(), "acc-1", map[string]interface{}{domain.FieldEmailVerified: true}))

	api.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{}).Once()
	err := repo.UpdateFields(context.Background(), "missing", map[string]interface{}{domain.FieldRole: domain.RoleAdmin})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	api.AssertExpectations(t)
}

func TestAccountRepo_UpdateFields_UsernameSwapsHandle(t *testing.T) {
	api := &mockAPI{}
	repo := NewAccountRepo(api, testTables)

	item, err := attributevalue.MarshalMap(&domain.Account{AccountID: "acc-1", Email: "a@x.com", Username: "alice"})
	require.NoError(t, err)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == 3 &&
			in.TransactItems[0].Update != nil &&
			in.TransactItems[1].Put != nil &&
			in.TransactItems[2].Delete != nil
	})).Return(nil, cancelled("None", "ConditionalCheckFailed", "None"))

	err = repo.UpdateFields(context.Background(), "acc-1", map[string]interface{}{domain.FieldUsername: "bob"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}
