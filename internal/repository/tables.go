package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"expense-agent/internal/domain"
)

const rowKeyTimeLayout = "20060102T150405.000000000Z"

// MessagePartitionKey groups a user's message history by calendar year.
func MessagePartitionKey(userID int64, t time.Time) string {
	return fmt.Sprintf("%d-%d", t.UTC().Year(), userID)
}

// MessageRowKey sorts lexically in time order; the suffix keeps keys written
// in the same instant distinct.
func MessageRowKey(t time.Time) string {
	return t.UTC().Format(rowKeyTimeLayout) + "-" + uuid.NewString()[:8]
}

// ExpensePartitionKey groups a user's expenses by month.
func ExpensePartitionKey(userID int64, t time.Time) string {
	return fmt.Sprintf("%d-%s", userID, t.UTC().Format("2006-01"))
}

// MessageLog persists conversation turns in the message table.
type MessageLog struct {
	store  TableStore
	writer *BatchWriter
	now    func() time.Time
}

func NewMessageLog(store TableStore, writer *BatchWriter) (*MessageLog, error) {
	if store == nil || writer == nil {
		return nil, errors.New("repository: message log needs a store and a batch writer")
	}
	return &MessageLog{store: store, writer: writer, now: time.Now}, nil
}

// Recent returns up to limit of the newest turns of the current year,
// oldest first. Only those rows are read from the store.
func (l *MessageLog) Recent(ctx context.Context, userID int64, limit int) ([]domain.Turn, error) {
	records, err := ListAll(ctx, l.store, Filter{
		PartitionKey: MessagePartitionKey(userID, l.now()),
		Descending:   true,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Recent: %w", err)
	}
	slices.Reverse(records)

	turns := make([]domain.Turn, 0, len(records))
	for _, r := range records {
		kind, _ := r.Payload["kind"].(string)
		content, _ := r.Payload["content"].(string)
		if content == "" {
			continue
		}
		turns = append(turns, domain.Turn{Kind: domain.TurnKind(kind), Content: content})
	}
	return turns, nil
}

// Append stores turns in order as one insert batch.
func (l *MessageLog) Append(ctx context.Context, userID int64, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	now := l.now().UTC()
	records := make([]domain.Record, 0, len(turns))
	for i, t := range turns {
		at := now.Add(time.Duration(i))
		records = append(records, domain.Record{
			PartitionKey: MessagePartitionKey(userID, now),
			RowKey:       MessageRowKey(at),
			Payload: map[string]any{
				"userId":    userID,
				"kind":      string(t.Kind),
				"content":   t.Content,
				"createdAt": at.Format(time.RFC3339Nano),
			},
		})
	}
	if err := l.writer.InsertBatch(ctx, records); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ExpenseTable persists expenses with per-partition sequence row keys.
type ExpenseTable struct {
	store  TableStore
	writer *BatchWriter
}

func NewExpenseTable(store TableStore, writer *BatchWriter) (*ExpenseTable, error) {
	if store == nil || writer == nil {
		return nil, errors.New("repository: expense table needs a store and a batch writer")
	}
	return &ExpenseTable{store: store, writer: writer}, nil
}

// NextRowKey returns the next zero-padded sequence number in a partition.
// Two concurrent callers may get the same key; the create-only insert then
// rejects the second write.
func (t *ExpenseTable) NextRowKey(ctx context.Context, partitionKey string) (string, error) {
	n, err := Count(ctx, t.store, Filter{PartitionKey: partitionKey})
	if err != nil {
		return "", fmt.Errorf("repository: NextRowKey: %w", err)
	}
	return fmt.Sprintf("%06d", n+1), nil
}

func (t *ExpenseTable) SaveExpense(ctx context.Context, userID int64, e domain.Expense) (domain.Record, error) {
	pk := ExpensePartitionKey(userID, e.OccurredAt)
	rk, err := t.NextRowKey(ctx, pk)
	if err != nil {
		return domain.Record{}, err
	}
	r := domain.Record{
		PartitionKey: pk,
		RowKey:       rk,
		Payload: map[string]any{
			"userId":     userID,
			"memo":       e.Memo,
			"category":   e.Category,
			"amount":     e.Amount.String(),
			"occurredAt": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := t.writer.InsertBatch(ctx, []domain.Record{r}); err != nil {
		return domain.Record{}, fmt.Errorf("repository: SaveExpense: %w", err)
	}
	return r, nil
}
