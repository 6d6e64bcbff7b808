package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/investmarket/auth-api/internal/config"
	"github.com/investmarket/auth-api/internal/domain"
)

// AccountRepo stores accounts in one table and their unique login handles in
// a second one. Every write that claims a handle runs in a transaction with a
// not-exists condition, so uniqueness holds under concurrent registrations.
type AccountRepo struct {
	client       API
	tableName    string
	handlesTable string
	now          func() time.Time
}

func NewAccountRepo(client API, tables config.DynamoTables) *AccountRepo {
	return &AccountRepo{
		client:       client,
		tableName:    tables.Accounts,
		handlesTable: tables.AccountHandles,
		now:          time.Now,
	}
}

func emailHandle(email string) string       { return "email#" + domain.NormalizeEmail(email) }
func usernameHandle(username string) string { return "username#" + strings.ToLower(username) }
func phoneHandle(phone string) string       { return "phone#" + phone }

func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:                aws.String(r.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": attrAccountID},
		}},
		r.putHandle(emailHandle(a.Email), a.AccountID),
		r.putHandle(usernameHandle(a.Username), a.AccountID),
	}
	conflicts := []error{domain.ErrConflict, domain.ErrEmailTaken, domain.ErrUsernameTaken}
	if a.Telephone != nil && *a.Telephone != "" {
		items = append(items, r.putHandle(phoneHandle(*a.Telephone), a.AccountID))
		conflicts = append(conflicts, domain.ErrPhoneTaken)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return cancellationError(err, conflicts)
	}
	return nil
}

func (r *AccountRepo) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrAccountID, accountID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	var a domain.Account
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findByHandle(ctx, emailHandle(email))
}

func (r *AccountRepo) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.findByHandle(ctx, usernameHandle(username))
}

func (r *AccountRepo) findByHandle(ctx context.Context, handle string) (*domain.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.handlesTable),
		Key:            strKey(attrHandle, handle),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("handle %s: %w", handle, domain.ErrNotFound)
	}
	id, ok := out.Item[attrAccountID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("handle %s has no account id", handle)
	}
	return r.FindByID(ctx, id.Value)
}

// UpdateFields applies a partial update keyed by the domain.Field* names.
// Username and telephone changes move the handle items in the same transaction.
func (r *AccountRepo) UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates[domain.FieldUpdatedAt] = r.now().UTC()

	newUsername, hasUsername := updates[domain.FieldUsername].(string)
	newPhone, hasPhone := updates[domain.FieldTelephone].(string)
	if !hasUsername && !hasPhone {
		return r.updateItem(ctx, accountID, updates)
	}

	cur, err := r.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#pk"] = attrAccountID
	items := []types.TransactWriteItem{{Update: &types.Update{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrAccountID, accountID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}}}
	conflicts := []error{domain.ErrConflict}

	if hasUsername && usernameHandle(newUsername) != usernameHandle(cur.Username) {
		items = append(items,
			r.putHandle(usernameHandle(newUsername), accountID),
			r.deleteHandle(usernameHandle(cur.Username), accountID))
		conflicts = append(conflicts, domain.ErrUsernameTaken, domain.ErrConflict)
	}
	if hasPhone && (cur.Telephone == nil || *cur.Telephone != newPhone) {
		items = append(items, r.putHandle(phoneHandle(newPhone), accountID))
		conflicts = append(conflicts, domain.ErrPhoneTaken)
		if cur.Telephone != nil && *cur.Telephone != "" {
			items = append(items, r.deleteHandle(phoneHandle(*cur.Telephone), accountID))
			conflicts = append(conflicts, domain.ErrConflict)
		}
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return cancellationError(err, conflicts)
	}
	return nil
}

func (r *AccountRepo) updateItem(ctx context.Context, accountID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#pk"] = attrAccountID
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrAccountID, accountID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return err
}

// List returns a page of accounts.
// cursor is a base64-encoded account_id used as ExclusiveStartKey.
// Returns the items, a next cursor (empty string when no more pages), and any error.
func (r *AccountRepo) List(ctx context.Context, limit int32, cursor string) ([]domain.Account, string, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
		Limit:     aws.Int32(limit),
	}
	if cursor != "" {
		accountID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		input.ExclusiveStartKey = strKey(attrAccountID, accountID)
	}
	out, err := r.client.Scan(ctx, input)
	if err != nil {
		return nil, "", err
	}
	accounts := []domain.Account{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &accounts); err != nil {
		return nil, "", err
	}
	next := ""
	if v, ok := out.LastEvaluatedKey[attrAccountID].(*types.AttributeValueMemberS); ok {
		next = encodeCursor(v.Value)
	}
	return accounts, next, nil
}

func (r *AccountRepo) putHandle(handle, accountID string) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(r.handlesTable),
		Item: map[string]types.AttributeValue{
			attrHandle:    &types.AttributeValueMemberS{Value: handle},
			attrAccountID: &types.AttributeValueMemberS{Value: accountID},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#h)"),
		ExpressionAttributeNames: map[string]string{"#h": attrHandle},
	}}
}

func (r *AccountRepo) deleteHandle(handle, accountID string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(r.handlesTable),
		Key:                       strKey(attrHandle, handle),
		ConditionExpression:       aws.String("#a = :a"),
		ExpressionAttributeNames:  map[string]string{"#a": attrAccountID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":a": &types.AttributeValueMemberS{Value: accountID}},
	}}
}

// cancellationError maps the first failed condition of a cancelled
// transaction onto the error registered for that item position.
func cancellationError(err error, conflicts []error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return err
	}
	for i, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" && i < len(conflicts) {
			return conflicts[i]
		}
	}
	return err
}
