package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"expense-agent/internal/domain"
)

const responseSchemaName = "expense"

// ResponsePayload is the structured output the model is asked to produce.
// Only agent is required by the schema; everything else may be omitted.
type ResponsePayload struct {
	Agent       string   `json:"agent" jsonschema:"enum=Default,enum=ExpenseRecord" validate:"omitempty,oneof=Default ExpenseRecord"`
	Message     *string  `json:"message,omitempty" jsonschema:"description=Reply shown to the user"`
	DateTimeUTC *string  `json:"dateTimeUtc,omitempty" jsonschema:"description=When the expense happened as an ISO-8601 UTC timestamp"`
	Amount      *float64 `json:"amount,omitempty" jsonschema:"description=Amount spent"`
	Category    *string  `json:"category,omitempty"`
	Memo        *string  `json:"memo,omitempty" jsonschema:"description=Short note describing the expense"`
}

// ResponseSchema is the contract between the orchestrator and the model. It
// is immutable after construction and safe for concurrent use.
type ResponseSchema struct {
	name     string
	document json.RawMessage
	validate *validator.Validate
}

// NewResponseSchema reflects the JSON Schema for ResponsePayload.
func NewResponseSchema() (*ResponseSchema, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(&ResponsePayload{})
	s.Version = ""
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("usecase: marshal response schema: %w", err)
	}
	return &ResponseSchema{
		name:     responseSchemaName,
		document: doc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (s *ResponseSchema) Name() string { return s.name }

// Document returns the JSON Schema sent with every request.
func (s *ResponseSchema) Document() json.RawMessage {
	return append(json.RawMessage(nil), s.document...)
}

// Parse decodes and validates a raw structured payload. A nil or empty
// payload yields (nil, nil): the model answered without structured output.
func (s *ResponseSchema) Parse(raw json.RawMessage) (*ResponsePayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var out ResponsePayload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("usecase: decode structured payload: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("usecase: decode structured payload: multiple JSON values")
		}
		return nil, fmt.Errorf("usecase: decode structured payload trailing data: %w", err)
	}
	if err := s.validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("usecase: validate structured payload: %w", err)
	}
	return &out, nil
}

// PromptHint describes the recognized classifications for the model.
func (s *ResponseSchema) PromptHint() domain.RoleMessage {
	return domain.RoleMessage{
		Speaker: domain.SpeakerSystem,
		Content: strings.Join([]string{
			"Output Contract:",
			"Return JSON only. Set agent to one of:",
			fmt.Sprintf("- %s: conversational small talk. Put your reply in message.", domain.ClassificationDefault),
			fmt.Sprintf("- %s: the user is tracking money they spent. Fill memo, amount (number), category and dateTimeUtc (ISO-8601, UTC) and put a short confirmation in message.", domain.ClassificationExpenseRecord),
			"Leave out any field you cannot determine.",
		}, "\n"),
	}
}
