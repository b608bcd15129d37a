package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"expense-agent/internal/domain"
	"expense-agent/internal/repository"
	"expense-agent/internal/roles"
)

const defaultHistoryLimit = 10

type Chatter interface {
	Chat(ctx context.Context, roleKey roles.SystemRoleKey, mode ChatMode, newTurns []string, prior []domain.Turn) (domain.StructuredResult, error)
	ChatWithImage(ctx context.Context, roleKey roles.SystemRoleKey, newTurns []string, imageURL string, prior []domain.Turn) (domain.StructuredResult, error)
}

// History stores the turns that are replayed to the model on later requests.
type History interface {
	Recent(ctx context.Context, userID int64, limit int) ([]domain.Turn, error)
	Append(ctx context.Context, userID int64, turns ...domain.Turn) error
}

type ExpenseStore interface {
	SaveExpense(ctx context.Context, userID int64, e domain.Expense) (domain.Record, error)
}

// ExpenseSink is the secondary destination for expenses. Its failures are
// logged and never fail a turn.
type ExpenseSink interface {
	Create(ctx context.Context, e domain.Expense) (string, error)
}

type ConversationConfig struct {
	Role         roles.SystemRoleKey
	Mode         ChatMode
	HistoryLimit int
}

// ConversationService handles one inbound chat message end to end.
type ConversationService struct {
	chat      Chatter
	history   History
	expenses  ExpenseStore
	sink      ExpenseSink
	formatter Formatter
	role      roles.SystemRoleKey
	mode      ChatMode
	limit     int
	log       zerolog.Logger
}

func NewConversationService(chat Chatter, history History, expenses ExpenseStore, sink ExpenseSink, formatter Formatter, cfg ConversationConfig, log zerolog.Logger) (*ConversationService, error) {
	if chat == nil {
		return nil, errors.New("usecase: chatter must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history must not be nil")
	}
	if expenses == nil {
		return nil, errors.New("usecase: expense store must not be nil")
	}
	if cfg.Role == "" {
		cfg.Role = roles.SystemExpense
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeNatural
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &ConversationService{
		chat:      chat,
		history:   history,
		expenses:  expenses,
		sink:      sink,
		formatter: formatter,
		role:      cfg.Role,
		mode:      cfg.Mode,
		limit:     cfg.HistoryLimit,
		log:       log.With().Str("component", "conversation").Logger(),
	}, nil
}

// Handle returns the replies for one inbound message.
func (s *ConversationService) Handle(ctx context.Context, in domain.Inbound) ([]string, error) {
	text := strings.TrimSpace(in.Text)
	imageURL := strings.TrimSpace(in.ImageURL)
	if text == "" && imageURL == "" {
		return nil, newError(ErrorInvalidInput, "empty_message", nil)
	}
	log := s.log.With().Int64("user_id", in.UserID).Int64("chat_id", in.ChatID).Logger()

	prior, err := s.history.Recent(ctx, in.UserID, s.limit)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable, continuing without it")
		prior = nil
	}

	var newTurns []string
	if text != "" {
		newTurns = append(newTurns, text)
	}

	var res domain.StructuredResult
	if imageURL != "" {
		res, err = s.chat.ChatWithImage(ctx, s.role, newTurns, imageURL, prior)
	} else {
		res, err = s.chat.Chat(ctx, s.role, s.mode, newTurns, prior)
	}
	if err != nil {
		return nil, err
	}

	replies := s.formatter.Reply(res, s.mode)

	if expense, ok := res.Expense(); ok {
		rec, err := s.expenses.SaveExpense(ctx, in.UserID, expense)
		if err != nil {
			if errors.Is(err, repository.ErrBatchSubmission) {
				return nil, newError(ErrorBatchSubmission, "expense_write_failed", err)
			}
			return nil, newError(ErrorInternal, "expense_key_failed", err)
		}
		log.Info().Str("partition_key", rec.PartitionKey).Str("row_key", rec.RowKey).Msg("expense recorded")
		s.forward(ctx, log, expense)
	}

	turns := make([]domain.Turn, 0, 2)
	if imageURL != "" {
		turns = append(turns, domain.Turn{Kind: domain.TurnImage, Content: imageURL})
	}
	turns = append(turns, domain.Turn{Kind: domain.TurnText, Content: strings.Join(replies, " ")})
	if err := s.history.Append(ctx, in.UserID, turns...); err != nil {
		log.Error().Err(err).Msg("failed to store conversation turns")
	}

	return replies, nil
}

func (s *ConversationService) forward(ctx context.Context, log zerolog.Logger, e domain.Expense) {
	if s.sink == nil {
		return
	}
	id, err := s.sink.Create(ctx, e)
	if err != nil {
		log.Error().Err(err).Msg("expense sink rejected record")
		return
	}
	log.Info().Str("sink_id", id).Msg("expense forwarded to sink")
}
