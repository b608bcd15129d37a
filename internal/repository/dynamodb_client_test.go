package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

type fakeDynamo struct {
	createErr    error
	putErr       error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	scanOut      *dynamodb.ScanOutput
	txErr        error
	lastCreateIn *dynamodb.CreateTableInput
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []*dynamodb.QueryInput
	lastScanIn   *dynamodb.ScanInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.lastCreateIn = in
	return &dynamodb.CreateTableOutput{}, f.createErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	i := len(f.queryInputs) - 1
	if i >= len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryPages[i], nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.lastScanIn = in
	if f.scanOut == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	return f.scanOut, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeItem(pk, sk, memo string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: pk},
		"SK":   &types.AttributeValueMemberS{Value: sk},
		"memo": &types.AttributeValueMemberS{Value: memo},
		"paid": &types.AttributeValueMemberBOOL{Value: true},
		"qty":  &types.AttributeValueMemberN{Value: "2.5"},
	}
}

func mustNewStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func TestNewDynamoStore_Validation(t *testing.T) {
	_, err := NewDynamoStore(nil, "t")
	require.Error(t, err)
	_, err = NewDynamoStore(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestCreateTable_KeySchema(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	require.NoError(t, s.CreateTable(context.Background()))
	require.Equal(t, "test-table", aws.ToString(db.lastCreateIn.TableName))
	require.Equal(t, types.BillingModePayPerRequest, db.lastCreateIn.BillingMode)
	require.Equal(t, "PK", aws.ToString(db.lastCreateIn.KeySchema[0].AttributeName))
	require.Equal(t, types.KeyTypeRange, db.lastCreateIn.KeySchema[1].KeyType)
}

func TestCreateTable_ExistingTableIsSuccess(t *testing.T) {
	db := &fakeDynamo{createErr: &types.ResourceInUseException{Message: aws.String("Table already exists")}}
	s := mustNewStore(t, db)
	require.NoError(t, s.CreateTable(context.Background()))
}

func TestCreateTable_Error(t *testing.T) {
	db := &fakeDynamo{createErr: errors.New("AccessDenied")}
	s := mustNewStore(t, db)
	err := s.CreateTable(context.Background())
	require.ErrorContains(t, err, "CreateTable")
}

func TestList_QueryPaginates(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeItem("p1", "000001", "coffee")},
			LastEvaluatedKey: keyItem("p1", "000001"),
		},
		{
			Items: []map[string]types.AttributeValue{makeItem("p1", "000002", "lunch")},
		},
	}}
	s := mustNewStore(t, db)

	records, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "coffee", records[0].Payload["memo"])
	require.Equal(t, true, records[0].Payload["paid"])
	require.Equal(t, 2.5, records[0].Payload["qty"])
	require.Equal(t, "000002", records[1].RowKey)

	require.Len(t, db.queryInputs, 2)
	require.Equal(t, "PK = :pk", aws.ToString(db.queryInputs[0].KeyConditionExpression))
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestList_QueryWithRowKey(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	_, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1", RowKey: "r1"})
	require.NoError(t, err)
	require.Equal(t, "PK = :pk AND SK = :sk", aws.ToString(db.queryInputs[0].KeyConditionExpression))
}

func TestList_ScanWithoutPartition(t *testing.T) {
	db := &fakeDynamo{scanOut: &dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{makeItem("p1", "r1", "a"), makeItem("p2", "r1", "b")},
	}}
	s := mustNewStore(t, db)

	n, err := Count(context.Background(), s, Filter{RowKey: "r1"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "SK = :sk", aws.ToString(db.lastScanIn.FilterExpression))
	require.Empty(t, db.queryInputs)
}

func TestList_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	s := mustNewStore(t, db)
	_, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1"})
	require.ErrorContains(t, err, "List")
}

func TestList_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{"SK": &types.AttributeValueMemberS{Value: "r1"}}
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	s := mustNewStore(t, db)
	_, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1"})
	require.ErrorContains(t, err, `"PK"`)
}

func TestCreate_UsesCreateOnlyCondition(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	err := s.Create(context.Background(), domain.Record{PartitionKey: "p1", RowKey: "r1", Payload: map[string]any{"n": 3}})
	require.NoError(t, err)
	require.Equal(t, createOnlyCondition, aws.ToString(db.lastPutInput.ConditionExpression))
	require.Equal(t, &types.AttributeValueMemberN{Value: "3"}, db.lastPutInput.Item["n"])
}

func TestCreate_MissingKeys(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	require.Error(t, s.Create(context.Background(), domain.Record{RowKey: "r1"}))
	require.Nil(t, db.lastPutInput)
}

func TestSubmitTransaction_MapsOps(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)

	err := s.SubmitTransaction(context.Background(), []Action{
		{Op: OpInsert, Record: domain.Record{PartitionKey: "p1", RowKey: "1", Payload: map[string]any{"memo": "coffee"}}},
		{Op: OpUpsert, Record: domain.Record{PartitionKey: "p1", RowKey: "2"}},
		{Op: OpDelete, Record: domain.Record{PartitionKey: "p1", RowKey: "3"}},
	})
	require.NoError(t, err)

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)
	require.Equal(t, createOnlyCondition, aws.ToString(items[0].Put.ConditionExpression))
	require.Nil(t, items[1].Put.ConditionExpression)
	require.NotNil(t, items[2].Delete)
	require.Equal(t, keyItem("p1", "3"), items[2].Delete.Key)
}

func TestSubmitTransaction_TooManyActions(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	actions := make([]Action, MaxBatchSize+1)
	for i := range actions {
		actions[i] = Action{Op: OpUpsert, Record: domain.Record{PartitionKey: "p", RowKey: "r"}}
	}
	require.Error(t, s.SubmitTransaction(context.Background(), actions))
	require.Nil(t, db.lastTxInput)
}

func TestSubmitTransaction_Error(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("TransactionCanceledException")}
	s := mustNewStore(t, db)
	err := s.SubmitTransaction(context.Background(), []Action{{Op: OpUpsert, Record: domain.Record{PartitionKey: "p", RowKey: "r"}}})
	require.ErrorContains(t, err, "TransactionCanceledException")
}

func TestRecordItem_RejectsReservedAndUnsupported(t *testing.T) {
	_, err := recordItem(domain.Record{PartitionKey: "p", RowKey: "r", Payload: map[string]any{"PK": "x"}})
	require.ErrorContains(t, err, "reserved")

	_, err = recordItem(domain.Record{PartitionKey: "p", RowKey: "r", Payload: map[string]any{"bad": []int{1}}})
	require.ErrorContains(t, err, "unsupported")
}

func TestDynamoStore_PayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	w, err := NewBatchWriter(s, zerolog.Nop())
	require.NoError(t, err)

	in := domain.Record{PartitionKey: "p", RowKey: "r", Payload: richPayload()}
	require.NoError(t, w.InsertBatch(ctx, []domain.Record{in}))

	written := db.lastTxInput.TransactItems[0].Put.Item
	require.IsType(t, &types.AttributeValueMemberM{}, written["meta"])
	require.IsType(t, &types.AttributeValueMemberL{}, written["tags"])

	db.queryPages = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{written}}}
	out, err := ListAll(ctx, s, Filter{PartitionKey: "p"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, in.Payload, out[0].Payload)
}

func TestList_QueryDescendingWithLimit(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeItem("p1", "3", "c"), makeItem("p1", "2", "b")},
			LastEvaluatedKey: keyItem("p1", "2"),
		},
		{Items: []map[string]types.AttributeValue{makeItem("p1", "1", "a")}},
	}}
	s := mustNewStore(t, db)

	records, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "3", records[0].RowKey)

	// The cap is reached on the first page, so no further page is requested.
	require.Len(t, db.queryInputs, 1)
	require.False(t, aws.ToBool(db.queryInputs[0].ScanIndexForward))
	require.Equal(t, int32(2), aws.ToInt32(db.queryInputs[0].Limit))
}

func TestList_QueryDefaultsAscendingUnlimited(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	_, err := ListAll(context.Background(), s, Filter{PartitionKey: "p1"})
	require.NoError(t, err)
	require.True(t, aws.ToBool(db.queryInputs[0].ScanIndexForward))
	require.Nil(t, db.queryInputs[0].Limit)
}
