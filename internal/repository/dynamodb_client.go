package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"expense-agent/internal/domain"
)

const (
	attrPK = "PK"
	attrSK = "SK"

	createOnlyCondition = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore is a TableStore over one DynamoDB table keyed by PK (partition)
// and SK (row).
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// CreateTable provisions the table on demand billing. An existing table is
// not an error.
func (s *DynamoStore) CreateTable(ctx context.Context) error {
	_, err := s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repository: CreateTable: %w", err)
	}
	return nil
}

// List pages through matching items lazily. A partition key filter becomes a
// Query; anything else is a Scan. Paging stops once f.Limit records are out.
func (s *DynamoStore) List(ctx context.Context, f Filter) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		pages := s.pager(f)
		seen := 0
		for pages.HasMorePages() {
			items, err := pages.next(ctx)
			if err != nil {
				yield(domain.Record{}, fmt.Errorf("repository: List: %w", err))
				return
			}
			for _, item := range items {
				r, err := itemToRecord(item)
				if err != nil {
					yield(domain.Record{}, fmt.Errorf("repository: List unmarshal: %w", err))
					return
				}
				if !yield(r, nil) {
					return
				}
				seen++
				if f.Limit > 0 && seen >= f.Limit {
					return
				}
			}
		}
	}
}

// Create writes a single record, failing if its key already exists.
func (s *DynamoStore) Create(ctx context.Context, r domain.Record) error {
	if r.PartitionKey == "" || r.RowKey == "" {
		return errors.New("repository: Create: partition key and row key are required")
	}
	item, err := recordItem(r)
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String(createOnlyCondition),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// SubmitTransaction applies actions with TransactWriteItems, which commits
// all of them or none.
func (s *DynamoStore) SubmitTransaction(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	if len(actions) > MaxBatchSize {
		return fmt.Errorf("repository: SubmitTransaction: %d actions exceed the limit of %d", len(actions), MaxBatchSize)
	}

	items := make([]types.TransactWriteItem, 0, len(actions))
	for i, a := range actions {
		switch a.Op {
		case OpInsert, OpUpsert:
			item, err := recordItem(a.Record)
			if err != nil {
				return fmt.Errorf("repository: SubmitTransaction action %d: %w", i, err)
			}
			put := &types.Put{TableName: aws.String(s.tableName), Item: item}
			if a.Op == OpInsert {
				put.ConditionExpression = aws.String(createOnlyCondition)
			}
			items = append(items, types.TransactWriteItem{Put: put})
		case OpDelete:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       keyItem(a.Record.PartitionKey, a.Record.RowKey),
			}})
		default:
			return fmt.Errorf("repository: SubmitTransaction action %d: unknown op %q", i, a.Op)
		}
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: SubmitTransaction: %w", err)
	}
	return nil
}

type itemPager interface {
	HasMorePages() bool
	next(ctx context.Context) ([]map[string]types.AttributeValue, error)
}

type queryPager struct{ p *dynamodb.QueryPaginator }

func (q queryPager) HasMorePages() bool { return q.p.HasMorePages() }

func (q queryPager) next(ctx context.Context) ([]map[string]types.AttributeValue, error) {
	out, err := q.p.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

type scanPager struct{ p *dynamodb.ScanPaginator }

func (s scanPager) HasMorePages() bool { return s.p.HasMorePages() }

func (s scanPager) next(ctx context.Context) ([]map[string]types.AttributeValue, error) {
	out, err := s.p.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (s *DynamoStore) pager(f Filter) itemPager {
	if f.PartitionKey != "" {
		cond := "PK = :pk"
		values := map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: f.PartitionKey}}
		if f.RowKey != "" {
			cond += " AND SK = :sk"
			values[":sk"] = &types.AttributeValueMemberS{Value: f.RowKey}
		}
		in := &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    aws.String(cond),
			ExpressionAttributeValues: values,
			ConsistentRead:            aws.Bool(true),
			ScanIndexForward:          aws.Bool(!f.Descending),
		}
		if f.Limit > 0 {
			in.Limit = aws.Int32(int32(min(f.Limit, math.MaxInt32)))
		}
		return queryPager{dynamodb.NewQueryPaginator(s.api, in)}
	}

	in := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if f.RowKey != "" {
		in.FilterExpression = aws.String("SK = :sk")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: f.RowKey},
		}
	}
	return scanPager{dynamodb.NewScanPaginator(s.api, in)}
}

func keyItem(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func recordItem(r domain.Record) (map[string]types.AttributeValue, error) {
	payload, err := normalizePayload(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	item := keyItem(r.PartitionKey, r.RowKey)
	for k, v := range payload {
		if k == attrPK || k == attrSK {
			return nil, fmt.Errorf("repository: payload field %q is reserved", k)
		}
		item[k] = toAttribute(v)
	}
	return item, nil
}

// toAttribute maps a normalized payload value.
func toAttribute(v any) types.AttributeValue {
	switch x := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: x}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x, 'f', -1, 64)}
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(x))
		for k, e := range x {
			m[k] = toAttribute(e)
		}
		return &types.AttributeValueMemberM{Value: m}
	case []any:
		l := make([]types.AttributeValue, len(x))
		for i, e := range x {
			l[i] = toAttribute(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

func fromAttribute(av types.AttributeValue) (any, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberN:
		return parseNumber(x.Value)
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(x.Value))
		for k, e := range x.Value {
			v, err := fromAttribute(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	case *types.AttributeValueMemberL:
		l := make([]any, len(x.Value))
		for i, e := range x.Value {
			v, err := fromAttribute(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = v
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.Record, error) {
	pk, err := strAttr(item, attrPK)
	if err != nil {
		return domain.Record{}, err
	}
	sk, err := strAttr(item, attrSK)
	if err != nil {
		return domain.Record{}, err
	}
	payload := make(map[string]any, len(item)-2)
	for k, av := range item {
		if k == attrPK || k == attrSK {
			continue
		}
		v, err := fromAttribute(av)
		if err != nil {
			return domain.Record{}, fmt.Errorf("repository: attribute %q: %w", k, err)
		}
		payload[k] = v
	}
	return domain.Record{PartitionKey: pk, RowKey: sk, Payload: payload}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
