package notion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

type fakePages struct {
	lastReq *notionapi.PageCreateRequest
	page    *notionapi.Page
	err     error
}

func (f *fakePages) Create(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.lastReq = req
	return f.page, f.err
}

func coffee() domain.Expense {
	return domain.Expense{
		Memo:       "coffee",
		Category:   "Food",
		Amount:     decimal.RequireFromString("50.25"),
		OccurredAt: time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
	}
}

func TestNewExpenseSink_Validation(t *testing.T) {
	_, err := NewExpenseSink(nil, "db")
	require.Error(t, err)
	_, err = NewExpenseSink(&fakePages{}, " ")
	require.Error(t, err)
	_, err = NewClientSink("", "db")
	require.Error(t, err)
}

func TestCreate_Properties(t *testing.T) {
	pages := &fakePages{page: &notionapi.Page{ID: "page-1"}}
	s, err := NewExpenseSink(pages, "db-123")
	require.NoError(t, err)

	id, err := s.Create(context.Background(), coffee())
	require.NoError(t, err)
	require.Equal(t, "page-1", id)

	req := pages.lastReq
	require.Equal(t, notionapi.DatabaseID("db-123"), req.Parent.DatabaseID)
	require.Equal(t, notionapi.ParentTypeDatabaseID, req.Parent.Type)

	title := req.Properties[PropMemo].(notionapi.TitleProperty)
	require.Equal(t, "coffee", title.Title[0].Text.Content)
	category := req.Properties[PropCategory].(notionapi.RichTextProperty)
	require.Equal(t, "Food", category.RichText[0].Text.Content)
	amount := req.Properties[PropAmount].(notionapi.NumberProperty)
	require.Equal(t, 50.25, amount.Number)
	date := req.Properties[PropDate].(notionapi.DateProperty)
	require.True(t, time.Time(*date.Date.Start).Equal(coffee().OccurredAt))
}

func TestCreate_Error(t *testing.T) {
	s, err := NewExpenseSink(&fakePages{err: errors.New("validation_error")}, "db")
	require.NoError(t, err)
	_, err = s.Create(context.Background(), coffee())
	require.ErrorContains(t, err, "validation_error")
}
