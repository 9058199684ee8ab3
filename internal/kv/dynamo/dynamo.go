// Package dynamo is a kv.Backend on Amazon DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

const conditionNotExists = "attribute_not_exists(pk) AND attribute_not_exists(sk)"

// Client is the subset of the DynamoDB API used by Backend.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Backend stores each logical table in the DynamoDB table of the same
// name, keyed by string attributes pk and sk.
type Backend struct {
	client Client
}

// New builds a Backend from an AWS config. endpoint overrides the service
// endpoint, e.g. for DynamoDB Local.
func New(awsCfg aws.Config, endpoint string) *Backend {
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewWithClient(client)
}

func NewWithClient(client Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) PutItem(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}
	if cond == kv.NotExists {
		in.ConditionExpression = aws.String(conditionNotExists)
	}

	if _, err := b.client.PutItem(ctx, in); err != nil {
		return mapError(err)
	}
	return nil
}

func (b *Backend) GetItem(ctx context.Context, table string, k key.DetailKey) (kv.Item, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       toKey(k),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return unmarshalItem(out.Item)
}

func (b *Backend) UpdateItem(ctx context.Context, table string, k key.DetailKey, ops kv.Ops) (kv.Item, error) {
	expr, err := kv.Compile(ops)
	if err != nil {
		return nil, err
	}

	in := &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              toKey(k),
		UpdateExpression: aws.String(expr.Update),
		ReturnValues:     types.ReturnValueAllNew,
	}
	if len(expr.Names) > 0 {
		in.ExpressionAttributeNames = expr.Names
	}
	if len(expr.Values) > 0 {
		values := make(map[string]types.AttributeValue, len(expr.Values))
		for ph, v := range expr.Values {
			av, err := marshalValue(v)
			if err != nil {
				return nil, fmt.Errorf("marshal %s: %w", ph, err)
			}
			values[ph] = av
		}
		in.ExpressionAttributeValues = values
	}

	out, err := b.client.UpdateItem(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}
	return unmarshalItem(out.Attributes)
}

func (b *Backend) Query(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	cond := "pk = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.PK},
	}
	if q.SK != nil {
		skCond, err := sortKeyCondition(q.SK, values)
		if err != nil {
			return kv.Page{}, err
		}
		cond += " AND " + skCond
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(q.Order != kv.OrderDesc),
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}
	if q.StartFromSK != "" {
		in.ExclusiveStartKey = toKey(key.DetailKey{PK: q.PK, SK: q.StartFromSK})
	}

	out, err := b.client.Query(ctx, in)
	if err != nil {
		return kv.Page{}, mapError(err)
	}
	return toPage(out.Items, out.LastEvaluatedKey)
}

func (b *Backend) Scan(ctx context.Context, table string, startKey *key.DetailKey, limit int) (kv.Page, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(table)}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	if startKey != nil {
		in.ExclusiveStartKey = toKey(*startKey)
	}

	out, err := b.client.Scan(ctx, in)
	if err != nil {
		return kv.Page{}, mapError(err)
	}
	return toPage(out.Items, out.LastEvaluatedKey)
}

func sortKeyCondition(f *kv.SortKeyFilter, values map[string]types.AttributeValue) (string, error) {
	values[":sk"] = &types.AttributeValueMemberS{Value: f.Value}
	switch f.Op {
	case kv.SKEqual, kv.SKLess, kv.SKLessEq, kv.SKGreater, kv.SKGreaterEq:
		return "sk " + string(f.Op) + " :sk", nil
	case kv.SKBeginsWith:
		return "begins_with(sk, :sk)", nil
	case kv.SKBetween:
		values[":skTo"] = &types.AttributeValueMemberS{Value: f.To}
		return "sk BETWEEN :sk AND :skTo", nil
	default:
		return "", fmt.Errorf("unsupported sort key operator %q", f.Op)
	}
}

func toKey(k key.DetailKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: k.PK},
		"sk": &types.AttributeValueMemberS{Value: k.SK},
	}
}

func toPage(items []map[string]types.AttributeValue, last map[string]types.AttributeValue) (kv.Page, error) {
	page := kv.Page{Items: make([]kv.Item, 0, len(items))}
	for _, raw := range items {
		item, err := unmarshalItem(raw)
		if err != nil {
			return kv.Page{}, err
		}
		page.Items = append(page.Items, item)
	}
	if len(last) > 0 {
		pk, _ := last["pk"].(*types.AttributeValueMemberS)
		sk, _ := last["sk"].(*types.AttributeValueMemberS)
		if pk == nil || sk == nil {
			return kv.Page{}, fmt.Errorf("last evaluated key has no string pk/sk")
		}
		page.LastKey = &key.DetailKey{PK: pk.Value, SK: sk.Value}
	}
	return page, nil
}

func unmarshalItem(raw map[string]types.AttributeValue) (kv.Item, error) {
	var out map[string]any
	if err := attributevalue.UnmarshalMap(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return kv.Item(out), nil
}

// marshalValue encodes an expression value. kv.ValueSet becomes a string
// or number set, as DELETE requires.
func marshalValue(v any) (types.AttributeValue, error) {
	set, ok := v.(kv.ValueSet)
	if !ok {
		return attributevalue.Marshal(v)
	}

	var ss []string
	var ns []string
	for _, elem := range set {
		switch e := elem.(type) {
		case string:
			ss = append(ss, e)
		case int, int32, int64, float32, float64:
			ns = append(ns, fmt.Sprint(e))
		default:
			return nil, fmt.Errorf("unsupported set element %T", elem)
		}
	}
	switch {
	case len(ss) > 0 && len(ns) > 0:
		return nil, fmt.Errorf("set mixes strings and numbers")
	case len(ns) > 0:
		return &types.AttributeValueMemberNS{Value: ns}, nil
	default:
		return &types.AttributeValueMemberSS{Value: ss}, nil
	}
}

func mapError(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", kv.ErrConditionalCheckFailed, ccf.ErrorMessage())
	}
	return err
}
