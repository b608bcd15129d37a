package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
	"expense-agent/internal/usecase"
)

type stubConversation struct {
	out []string
	err error
	in  domain.Inbound
}

func (s *stubConversation) Handle(_ context.Context, in domain.Inbound) ([]string, error) {
	s.in = in
	return s.out, s.err
}

type stubMessenger struct {
	inboundErr error
	sent       []string
	sentTo     int64
	sendErr    error
}

func (s *stubMessenger) Inbound(_ context.Context, u tgbotapi.Update) (domain.Inbound, bool, error) {
	if u.Message == nil || u.Message.From == nil {
		return domain.Inbound{}, false, nil
	}
	in := domain.Inbound{ChatID: u.Message.Chat.ID, UserID: u.Message.From.ID, Text: u.Message.Text}
	if s.inboundErr != nil {
		return domain.Inbound{}, true, s.inboundErr
	}
	return in, true, nil
}

func (s *stubMessenger) Send(_ context.Context, chatID int64, texts ...string) error {
	s.sentTo = chatID
	s.sent = append(s.sent, texts...)
	return s.sendErr
}

const textUpdate = `{"update_id":7,"message":{"message_id":1,"from":{"id":42},"chat":{"id":99},"text":"coffee 50"}}`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, conv *stubConversation, m *stubMessenger) *Handler {
	t.Helper()
	h, err := NewHandler(conv, m, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubMessenger{}, zerolog.Nop())
	require.Error(t, err)
	_, err = NewHandler(&stubConversation{}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	conv := &stubConversation{out: []string{"hi", "how are you"}}
	m := &stubMessenger{}
	h := newTestHandler(t, conv, m)

	resp, err := h.Handle(context.Background(), makeEvent(textUpdate))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.Inbound{ChatID: 99, UserID: 42, Text: "coffee 50"}, conv.in)
	require.Equal(t, []string{"hi", "how are you"}, m.sent)
	require.Equal(t, int64(99), m.sentTo)

	out := parseBody[statusResponse](t, resp.Body)
	require.Equal(t, OutcomeReplied, out.Status)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_Base64Body(t *testing.T) {
	conv := &stubConversation{out: []string{"ok"}}
	h := newTestHandler(t, conv, &stubMessenger{})

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(textUpdate)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "coffee 50", conv.in.Text)
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubConversation{}, &stubMessenger{})

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_IgnoresNonMessageUpdates(t *testing.T) {
	conv := &stubConversation{}
	m := &stubMessenger{}
	h := newTestHandler(t, conv, m)

	resp, err := h.Handle(context.Background(), makeEvent(`{"update_id":8}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, OutcomeIgnored, parseBody[statusResponse](t, resp.Body).Status)
	require.Empty(t, m.sent)
}

func TestHandle_ErrorsReplyWithApology(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}},
		{name: "model unavailable", err: &usecase.Error{Code: usecase.ErrorModelUnavailable, Reason: "model_timeout"}},
		{name: "malformed", err: &usecase.Error{Code: usecase.ErrorMalformedResponse, Reason: "schema_validation_failed"}},
		{name: "batch", err: &usecase.Error{Code: usecase.ErrorBatchSubmission, Reason: "expense_write_failed"}},
		{name: "unexpected", err: errors.New("boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &stubMessenger{}
			h := newTestHandler(t, &stubConversation{err: tc.err}, m)

			resp, err := h.Handle(context.Background(), makeEvent(textUpdate))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, OutcomeFailed, parseBody[statusResponse](t, resp.Body).Status)
			require.Equal(t, []string{usecase.SomethingWentWrong()}, m.sent)
			require.Equal(t, int64(99), m.sentTo)
		})
	}
}

func TestHandle_InboundErrorFallsBackToUpdateChat(t *testing.T) {
	m := &stubMessenger{inboundErr: errors.New("download failed")}
	conv := &stubConversation{}
	h := newTestHandler(t, conv, m)

	resp, err := h.Handle(context.Background(), makeEvent(textUpdate))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, parseBody[statusResponse](t, resp.Body).Status)
	require.Equal(t, int64(99), m.sentTo)
	require.Equal(t, []string{usecase.SomethingWentWrong()}, m.sent)
	require.Zero(t, conv.in.UserID)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubConversation{out: []string{"ok"}}, &stubMessenger{})

	event := makeEvent(textUpdate)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
