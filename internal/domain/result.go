package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification is the kind of turn the model decided it was looking at.
type Classification string

const (
	ClassificationDefault       Classification = "Default"
	ClassificationExpenseRecord Classification = "ExpenseRecord"
)

// StructuredResult is the typed outcome of one model request. Optional
// fields are left at their zero value when the model omitted them; a zero
// OccurredAt means the timestamp was missing or could not be parsed.
type StructuredResult struct {
	Classification Classification
	Message        string
	OccurredAt     time.Time
	RawTimestamp   string
	Amount         decimal.NullDecimal
	Category       string
	Memo           string
}

// Expense returns the expense carried by the result and whether every field
// needed to record it is present.
func (r StructuredResult) Expense() (Expense, bool) {
	if r.Classification != ClassificationExpenseRecord {
		return Expense{}, false
	}
	if r.Memo == "" || r.Category == "" || !r.Amount.Valid || r.OccurredAt.IsZero() {
		return Expense{}, false
	}
	return Expense{
		Memo:       r.Memo,
		Category:   r.Category,
		Amount:     r.Amount.Decimal,
		OccurredAt: r.OccurredAt,
	}, true
}

// Expense is a single finance-tracking entry.
type Expense struct {
	Memo       string
	Category   string
	Amount     decimal.Decimal
	OccurredAt time.Time
}
