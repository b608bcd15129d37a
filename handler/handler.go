package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"expense-agent/internal/domain"
	"expense-agent/internal/integrations/telegram"
	"expense-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Outcome of processing one update.
const (
	OutcomeIgnored = "ignored"
	OutcomeReplied = "replied"
	OutcomeFailed  = "failed"
)

type conversation interface {
	Handle(ctx context.Context, in domain.Inbound) ([]string, error)
}

type messenger interface {
	Inbound(ctx context.Context, u tgbotapi.Update) (domain.Inbound, bool, error)
	Send(ctx context.Context, chatID int64, texts ...string) error
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves Telegram webhook calls delivered through API Gateway.
type Handler struct {
	conv      conversation
	messenger messenger
	log       zerolog.Logger
}

func NewHandler(conv conversation, m messenger, log zerolog.Logger) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if m == nil {
		return nil, errors.New("handler: messenger must not be nil")
	}
	return &Handler{conv: conv, messenger: m, log: log.With().Str("component", "handler").Logger()}, nil
}

// Handle answers 200 for every decodable update, including failed ones, so
// Telegram does not redeliver it.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With().Str("correlation_id", correlationID).Logger()

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			log.Warn().Err(err).Msg("invalid base64 body")
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, correlationID), nil
		}
		body = decoded
	}

	update, err := telegram.ParseUpdate(body)
	if err != nil {
		log.Warn().Err(err).Msg("invalid update body")
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, correlationID), nil
	}

	outcome := h.Process(log.WithContext(ctx), update)
	return jsonResponse(http.StatusOK, statusResponse{Status: outcome}, correlationID), nil
}

// Process runs one update through the conversation and delivers the replies.
// Failures are answered with a generic apology.
func (h *Handler) Process(ctx context.Context, update tgbotapi.Update) string {
	log := h.logger(ctx).With().Int("update_id", update.UpdateID).Logger()

	in, ok, err := h.messenger.Inbound(ctx, update)
	if !ok {
		log.Debug().Msg("update ignored")
		return OutcomeIgnored
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to read inbound message")
		h.apologize(ctx, log, in.ChatID, update)
		return OutcomeFailed
	}

	replies, err := h.conv.Handle(ctx, in)
	if err != nil {
		ev := log.Error().Err(err)
		var ue *usecase.Error
		if errors.As(err, &ue) {
			ev = ev.Str("code", string(ue.Code)).Str("reason", ue.Reason).Bool("upstream", ue.Upstream())
		}
		ev.Msg("conversation failed")
		h.apologize(ctx, log, in.ChatID, update)
		return OutcomeFailed
	}

	if err := h.messenger.Send(ctx, in.ChatID, replies...); err != nil {
		log.Error().Err(err).Msg("failed to deliver replies")
		return OutcomeFailed
	}
	log.Info().Int("replies", len(replies)).Msg("turn completed")
	return OutcomeReplied
}

func (h *Handler) apologize(ctx context.Context, log zerolog.Logger, chatID int64, update tgbotapi.Update) {
	if chatID == 0 && update.Message != nil && update.Message.Chat != nil {
		chatID = update.Message.Chat.ID
	}
	if chatID == 0 {
		return
	}
	if err := h.messenger.Send(ctx, chatID, usecase.SomethingWentWrong()); err != nil {
		log.Error().Err(err).Msg("failed to deliver apology")
	}
}

func (h *Handler) logger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return h.log
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
