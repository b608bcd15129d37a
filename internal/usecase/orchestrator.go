package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"expense-agent/internal/domain"
	"expense-agent/internal/metrics"
	"expense-agent/internal/roles"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultImageModel   = "gpt-4o"
	defaultModelTimeout = 20 * time.Second
)

// ChatMode only changes how replies are formatted for the user.
type ChatMode string

const (
	ModeDefault ChatMode = "default"
	ModeNatural ChatMode = "natural"
)

// ModelTransport sends one request to the language model and returns its
// structured payload, or nil when the model produced none.
type ModelTransport interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (json.RawMessage, error)
}

type OrchestratorConfig struct {
	Persona              roles.PersonaKey
	Model                string
	ImageModel           string
	PreviousMessageLimit int
	Timeout              time.Duration
}

// Orchestrator builds bounded requests from the role catalog and prior
// turns, calls the model and maps its output to a StructuredResult. It holds
// no per-request state.
type Orchestrator struct {
	roles      *roles.Library
	llm        ModelTransport
	schema     *ResponseSchema
	window     ContextWindow
	persona    roles.PersonaKey
	model      string
	imageModel string
	timeout    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewOrchestrator(lib *roles.Library, llm ModelTransport, schema *ResponseSchema, cfg OrchestratorConfig, log zerolog.Logger) (*Orchestrator, error) {
	if lib == nil {
		return nil, errors.New("usecase: role library must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: model transport must not be nil")
	}
	if schema == nil {
		return nil, errors.New("usecase: response schema must not be nil")
	}
	if _, err := lib.Persona(cfg.Persona); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.ImageModel) == "" {
		cfg.ImageModel = defaultImageModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultModelTimeout
	}
	return &Orchestrator{
		roles:      lib,
		llm:        llm,
		schema:     schema,
		window:     NewContextWindow(cfg.PreviousMessageLimit),
		persona:    cfg.Persona,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		timeout:    cfg.Timeout,
		now:        time.Now,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Chat sends newTurns, preceded by the first N prior turns, to the text model.
func (o *Orchestrator) Chat(ctx context.Context, roleKey roles.SystemRoleKey, mode ChatMode, newTurns []string, prior []domain.Turn) (domain.StructuredResult, error) {
	if len(newTurns) == 0 {
		return domain.StructuredResult{}, newError(ErrorInvalidInput, "empty_turns", nil)
	}
	messages, err := o.buildMessages(roleKey, newTurns, prior)
	if err != nil {
		return domain.StructuredResult{}, err
	}
	o.log.Debug().Str("role", string(roleKey)).Str("mode", string(mode)).Int("messages", len(messages)).Msg("chat request assembled")
	return o.complete(ctx, o.model, messages)
}

// ChatWithImage is Chat with exactly one image appended as the final user
// message. It uses the image-capable model.
func (o *Orchestrator) ChatWithImage(ctx context.Context, roleKey roles.SystemRoleKey, newTurns []string, imageURL string, prior []domain.Turn) (domain.StructuredResult, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return domain.StructuredResult{}, newError(ErrorInvalidInput, "empty_image", nil)
	}
	messages, err := o.buildMessages(roleKey, newTurns, prior)
	if err != nil {
		return domain.StructuredResult{}, err
	}
	messages = append(messages, domain.RoleMessage{Speaker: domain.SpeakerUser, ImageURL: imageURL})
	return o.complete(ctx, o.imageModel, messages)
}

// buildMessages orders a request as: system role layers, persona layers,
// schema hint, current date marker, windowed prior turns, new turns.
func (o *Orchestrator) buildMessages(roleKey roles.SystemRoleKey, newTurns []string, prior []domain.Turn) ([]domain.RoleMessage, error) {
	system, err := o.roles.System(roleKey)
	if err != nil {
		return nil, newError(ErrorInvalidInput, "unknown_role", err)
	}
	persona, err := o.roles.Persona(o.persona)
	if err != nil {
		return nil, newError(ErrorInternal, "unknown_persona", err)
	}
	history := o.window.Messages(prior)

	messages := make([]domain.RoleMessage, 0, len(system)+len(persona)+len(history)+len(newTurns)+3)
	messages = append(messages, system...)
	messages = append(messages, persona...)
	messages = append(messages, o.schema.PromptHint())
	messages = append(messages, domain.RoleMessage{
		Speaker: domain.SpeakerSystem,
		Content: "Current Date (UTC): " + o.now().UTC().Format(time.RFC3339),
	})
	messages = append(messages, history...)
	for _, t := range newTurns {
		messages = append(messages, domain.RoleMessage{Speaker: domain.SpeakerUser, Content: t})
	}
	return messages, nil
}

func (o *Orchestrator) complete(ctx context.Context, model string, messages []domain.RoleMessage) (domain.StructuredResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	raw, err := o.llm.Complete(callCtx, domain.CompletionRequest{
		Model:      model,
		Messages:   messages,
		SchemaName: o.schema.Name(),
		Schema:     o.schema.Document(),
	})
	if err != nil {
		metrics.ObserveModelRequest(model, "error", time.Since(start))
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.StructuredResult{}, newError(ErrorModelUnavailable, "model_timeout", err)
		}
		return domain.StructuredResult{}, newError(ErrorModelUnavailable, "model_request_failed", err)
	}

	o.log.Info().Str("model", model).Bytes("payload", raw).Msg("structured payload received")

	payload, err := o.schema.Parse(raw)
	if err != nil {
		metrics.ObserveModelRequest(model, "malformed", time.Since(start))
		return domain.StructuredResult{}, newError(ErrorMalformedResponse, "schema_validation_failed", err)
	}
	metrics.ObserveModelRequest(model, "ok", time.Since(start))
	return toResult(payload), nil
}

func toResult(p *ResponsePayload) domain.StructuredResult {
	res := domain.StructuredResult{Classification: domain.ClassificationDefault}
	if p == nil {
		return res
	}
	if p.Agent != "" {
		res.Classification = domain.Classification(p.Agent)
	}
	res.Message = deref(p.Message)
	res.Category = strings.TrimSpace(deref(p.Category))
	res.Memo = strings.TrimSpace(deref(p.Memo))
	if p.Amount != nil {
		res.Amount = decimal.NewNullDecimal(decimal.NewFromFloat(*p.Amount))
	}
	if p.DateTimeUTC != nil {
		res.RawTimestamp = *p.DateTimeUTC
		res.OccurredAt = parseTimestamp(*p.DateTimeUTC)
	}
	return res
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp returns the zero time when raw is not an ISO-8601-like
// timestamp. Values without a zone are taken as UTC.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
