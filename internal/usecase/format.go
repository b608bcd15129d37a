package usecase

import (
	"fmt"
	"strings"
	"time"

	"expense-agent/internal/domain"
	"expense-agent/internal/roles"
)

const (
	msgNotUnderstood      = "ไม่เข้าใจข้อความที่ส่งมา"
	msgSomethingWentWrong = "ขออภัย เกิดข้อผิดพลาด ลองใหม่อีกครั้งนะ"
	expenseDateLayout     = "January 02, 2006 15:04"
)

// DefaultDisplayLocation is used when no zone is configured (Asia/Bangkok, UTC+7).
var DefaultDisplayLocation = time.FixedZone("Asia/Bangkok", 7*60*60)

// Formatter renders results as text for the chat transport.
type Formatter struct {
	loc *time.Location
}

func NewFormatter(loc *time.Location) Formatter {
	if loc == nil {
		loc = DefaultDisplayLocation
	}
	return Formatter{loc: loc}
}

// NotUnderstood is the fixed reply for results that cannot be used.
func NotUnderstood() string { return msgNotUnderstood }

// SomethingWentWrong is the generic reply for failed turns.
func SomethingWentWrong() string { return msgSomethingWentWrong }

// Expense renders an expense confirmation. Anything short of a complete
// expense record renders as NotUnderstood.
func (f Formatter) Expense(res *domain.StructuredResult) string {
	if res == nil {
		return msgNotUnderstood
	}
	e, ok := res.Expense()
	if !ok {
		return msgNotUnderstood
	}
	return fmt.Sprintf("บันทึกค่าใช้จ่าย: Note %s, %s บาท ประเภท: %s วันที่: %s",
		e.Memo, e.Amount.String(), e.Category, e.OccurredAt.In(f.location()).Format(expenseDateLayout))
}

// Reply returns the chat messages to deliver for a result.
func (f Formatter) Reply(res domain.StructuredResult, mode ChatMode) []string {
	if res.Classification == domain.ClassificationExpenseRecord {
		return []string{f.Expense(&res)}
	}
	if strings.TrimSpace(res.Message) == "" {
		return []string{msgNotUnderstood}
	}
	return SplitReply(mode, res.Message)
}

// SplitReply splits on the persona's sentence marker in natural mode and
// strips the markers otherwise.
func SplitReply(mode ChatMode, text string) []string {
	if mode != ModeNatural {
		joined := strings.TrimSpace(strings.ReplaceAll(text, roles.SentenceEnd, ""))
		if joined == "" {
			return []string{msgNotUnderstood}
		}
		return []string{joined}
	}
	parts := strings.Split(text, roles.SentenceEnd)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{msgNotUnderstood}
	}
	return out
}

func (f Formatter) location() *time.Location {
	if f.loc == nil {
		return DefaultDisplayLocation
	}
	return f.loc
}
