package notion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"

	"expense-agent/internal/domain"
)

// Property names of the expense database.
const (
	PropMemo     = "Memo"
	PropCategory = "Category"
	PropDate     = "Date"
	PropAmount   = "Amount"
)

// pageCreator is satisfied by notionapi.Client.Page.
type pageCreator interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ExpenseSink appends expenses as pages of a Notion database.
type ExpenseSink struct {
	pages      pageCreator
	databaseID notionapi.DatabaseID
}

func NewExpenseSink(pages pageCreator, databaseID string) (*ExpenseSink, error) {
	if pages == nil {
		return nil, errors.New("notion: page service must not be nil")
	}
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return nil, errors.New("notion: database id must not be empty")
	}
	return &ExpenseSink{pages: pages, databaseID: notionapi.DatabaseID(databaseID)}, nil
}

// NewClientSink builds the sink on top of the Notion REST client.
func NewClientSink(token, databaseID string) (*ExpenseSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("notion: token must not be empty")
	}
	return NewExpenseSink(notionapi.NewClient(notionapi.Token(token)).Page, databaseID)
}

// Create writes e and returns the new page id.
func (s *ExpenseSink) Create(ctx context.Context, e domain.Expense) (string, error) {
	page, err := s.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: s.databaseID,
		},
		Properties: expenseProperties(e),
	})
	if err != nil {
		return "", fmt.Errorf("notion: create page: %w", err)
	}
	if page == nil {
		return "", errors.New("notion: create page returned no page")
	}
	return page.ID.String(), nil
}

func expenseProperties(e domain.Expense) notionapi.Properties {
	amount, _ := e.Amount.Float64()
	date := notionapi.Date(e.OccurredAt.UTC())
	return notionapi.Properties{
		PropMemo: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: e.Memo}}},
		},
		PropCategory: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: e.Category}}},
		},
		PropDate: notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &date},
		},
		PropAmount: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: amount,
		},
	}
}
