package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

type fakeClient struct {
	put    *dynamodb.PutItemInput
	update *dynamodb.UpdateItemInput
	query  *dynamodb.QueryInput
	putErr error
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if in.Key["sk"].(*types.AttributeValueMemberS).Value == "missing" {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"pk":      in.Key["pk"],
		"sk":      in.Key["sk"],
		"version": &types.AttributeValueMemberN{Value: "3"},
		"attributes": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: "widget"},
		}},
	}}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	return &dynamodb.UpdateItemOutput{Attributes: in.Key}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.query = in
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"pk": &types.AttributeValueMemberS{Value: "P"},
			"sk": &types.AttributeValueMemberS{Value: "A"},
		}},
		LastEvaluatedKey: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "P"},
			"sk": &types.AttributeValueMemberS{Value: "A"},
		},
	}, nil
}

func (f *fakeClient) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{}, nil
}

func TestPutItemConditional(t *testing.T) {
	fc := &fakeClient{}
	b := NewWithClient(fc)

	err := b.PutItem(context.Background(), "cmd", kv.Item{"pk": "P", "sk": "S@1", "version": 1}, kv.NotExists)
	require.NoError(t, err)
	assert.Equal(t, "attribute_not_exists(pk) AND attribute_not_exists(sk)", aws.ToString(fc.put.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, fc.put.Item["version"])

	require.NoError(t, b.PutItem(context.Background(), "cmd", kv.Item{"pk": "P", "sk": "S@1"}, kv.Always))
	assert.Nil(t, fc.put.ConditionExpression)
}

func TestPutItemMapsConditionalCheckFailure(t *testing.T) {
	fc := &fakeClient{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	b := NewWithClient(fc)

	err := b.PutItem(context.Background(), "cmd", kv.Item{"pk": "P", "sk": "S@1"}, kv.NotExists)
	assert.ErrorIs(t, err, kv.ErrConditionalCheckFailed)

	other := errors.New("throttled")
	fc.putErr = other
	err = b.PutItem(context.Background(), "cmd", kv.Item{"pk": "P", "sk": "S@1"}, kv.NotExists)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, kv.ErrConditionalCheckFailed)
}

func TestGetItem(t *testing.T) {
	b := NewWithClient(&fakeClient{})

	got, err := b.GetItem(context.Background(), "t", key.DetailKey{PK: "P", SK: "S"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got["version"])
	assert.Equal(t, map[string]any{"name": "widget"}, got["attributes"])

	missing, err := b.GetItem(context.Background(), "t", key.DetailKey{PK: "P", SK: "missing"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateItemCompilesExpression(t *testing.T) {
	fc := &fakeClient{}
	b := NewWithClient(fc)

	_, err := b.UpdateItem(context.Background(), "t", key.DetailKey{PK: "P", SK: "S"}, kv.Ops{
		Set:    map[string]any{"status": "done"},
		Delete: map[string][]any{"tags": {"a", "b"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "SET #n0 = :v0 DELETE #n1 :v1", aws.ToString(fc.update.UpdateExpression))
	assert.Equal(t, map[string]string{"#n0": "status", "#n1": "tags"}, fc.update.ExpressionAttributeNames)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "done"}, fc.update.ExpressionAttributeValues[":v0"])
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b"}}, fc.update.ExpressionAttributeValues[":v1"])
	assert.Equal(t, types.ReturnValueAllNew, fc.update.ReturnValues)
}

func TestQueryBuildsKeyCondition(t *testing.T) {
	fc := &fakeClient{}
	b := NewWithClient(fc)

	page, err := b.Query(context.Background(), "t", kv.Query{
		PK:          "P",
		SK:          kv.Between("A", "C"),
		StartFromSK: "A0",
		Limit:       5,
		Order:       kv.OrderDesc,
	})
	require.NoError(t, err)

	assert.Equal(t, "pk = :pk AND sk BETWEEN :sk AND :skTo", aws.ToString(fc.query.KeyConditionExpression))
	assert.False(t, aws.ToBool(fc.query.ScanIndexForward))
	assert.Equal(t, int32(5), aws.ToInt32(fc.query.Limit))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "A0"}, fc.query.ExclusiveStartKey["sk"])

	require.Len(t, page.Items, 1)
	require.NotNil(t, page.LastKey)
	assert.Equal(t, key.DetailKey{PK: "P", SK: "A"}, *page.LastKey)
}

func TestMarshalValueSets(t *testing.T) {
	av, err := marshalValue(kv.ValueSet{1, 2.5})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberNS{Value: []string{"1", "2.5"}}, av)

	_, err = marshalValue(kv.ValueSet{"a", 1})
	assert.Error(t, err)
}
