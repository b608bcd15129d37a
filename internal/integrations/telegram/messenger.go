package telegram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"expense-agent/internal/domain"
)

// maxPhotoBytes keeps an inlined photo small enough to be stored with the
// message history.
const maxPhotoBytes = 256 << 10

// botAPI is the subset of *tgbotapi.BotAPI used here.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Messenger converts Telegram updates to inbound messages and delivers
// replies.
type Messenger struct {
	api        botAPI
	httpClient *http.Client
	log        zerolog.Logger
}

func NewMessenger(api botAPI, httpClient *http.Client, log zerolog.Logger) (*Messenger, error) {
	if api == nil {
		return nil, errors.New("telegram: bot api must not be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Messenger{
		api:        api,
		httpClient: httpClient,
		log:        log.With().Str("component", "telegram").Logger(),
	}, nil
}

// ParseUpdate decodes a webhook body.
func ParseUpdate(body []byte) (tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return tgbotapi.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	return u, nil
}

// Inbound extracts the message carried by u. ok is false for updates that
// are not user messages.
func (m *Messenger) Inbound(ctx context.Context, u tgbotapi.Update) (domain.Inbound, bool, error) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return domain.Inbound{}, false, nil
	}

	in := domain.Inbound{
		ChatID: msg.Chat.ID,
		UserID: msg.From.ID,
		Text:   msg.Text,
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}
	if len(msg.Photo) > 0 {
		url, err := m.photoDataURL(ctx, pickPhoto(msg.Photo))
		if err != nil {
			return domain.Inbound{}, true, err
		}
		in.ImageURL = url
	}
	return in, true, nil
}

// Send delivers texts in order as separate messages.
func (m *Messenger) Send(_ context.Context, chatID int64, texts ...string) error {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, err := m.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// pickPhoto returns the largest size within maxPhotoBytes, or the smallest
// size when all of them are larger. Telegram lists sizes smallest first.
func pickPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > 0 && p.FileSize <= maxPhotoBytes {
			best = p
		}
	}
	return best
}

func (m *Messenger) photoDataURL(ctx context.Context, photo tgbotapi.PhotoSize) (string, error) {
	url, err := m.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		return "", fmt.Errorf("telegram: resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("telegram: create file request: %w", err)
	}
	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telegram: download file: unexpected status %d", res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("telegram: read file: %w", err)
	}

	mimeType := res.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Poll long-polls api and calls handle for every update until ctx ends.
func Poll(ctx context.Context, api *tgbotapi.BotAPI, handle func(context.Context, tgbotapi.Update)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			handle(ctx, update)
		}
	}
}
