package repository

import (
	"context"
	"iter"

	"expense-agent/internal/domain"
)

// Op is the kind of write applied to a record inside a transaction.
type Op string

const (
	OpInsert Op = "insert"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

func (o Op) valid() bool {
	return o == OpInsert || o == OpUpsert || o == OpDelete
}

// Action is one operation of an atomic transaction.
type Action struct {
	Op     Op
	Record domain.Record
}

// Filter selects records by exact partition and/or row key. The zero value
// matches everything in ascending key order.
type Filter struct {
	PartitionKey string
	RowKey       string

	// Descending returns rows in reverse row key order. Only meaningful with
	// a PartitionKey on DynamoDB, where a Scan has no order.
	Descending bool
	// Limit caps the number of records returned; zero means no cap.
	Limit int
}

func (f Filter) Match(r domain.Record) bool {
	if f.PartitionKey != "" && r.PartitionKey != f.PartitionKey {
		return false
	}
	if f.RowKey != "" && r.RowKey != f.RowKey {
		return false
	}
	return true
}

// TableStore is the backing store consumed by the batch writer and the
// record tables. SubmitTransaction must be all-or-nothing and accept at most
// MaxBatchSize actions.
type TableStore interface {
	CreateTable(ctx context.Context) error
	List(ctx context.Context, f Filter) iter.Seq2[domain.Record, error]
	Create(ctx context.Context, r domain.Record) error
	SubmitTransaction(ctx context.Context, actions []Action) error
}

type lister interface {
	List(ctx context.Context, f Filter) iter.Seq2[domain.Record, error]
}

// ListAll drains List into a slice.
func ListAll(ctx context.Context, store lister, f Filter) ([]domain.Record, error) {
	var out []domain.Record
	for r, err := range store.List(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Count returns the number of records matching f.
func Count(ctx context.Context, store lister, f Filter) (int, error) {
	n := 0
	for _, err := range store.List(ctx, f) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
