// Package app wires configuration, storage, integrations and the use cases
// into a ready-to-serve handler. Every binary builds on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"expense-agent/handler"
	"expense-agent/internal/config"
	"expense-agent/internal/integrations/notion"
	"expense-agent/internal/integrations/openai"
	"expense-agent/internal/integrations/paramstore"
	"expense-agent/internal/integrations/telegram"
	"expense-agent/internal/repository"
	"expense-agent/internal/roles"
	"expense-agent/internal/usecase"
)

// App is the assembled service.
type App struct {
	Handler *handler.Handler
	Bot     *tgbotapi.BotAPI
	backend *Backend
}

// New loads AWS configuration and builds the service. Tables are created if
// they do not exist yet.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}

	backend, err := OpenBackend(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	a := &App{backend: backend}
	if err := a.build(ctx, cfg, ps, log); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, ps paramstore.Getter, log zerolog.Logger) error {
	messageStore, err := a.backend.Table(cfg.MessageTable)
	if err != nil {
		return err
	}
	expenseStore, err := a.backend.Table(cfg.ExpenseTable)
	if err != nil {
		return err
	}
	for _, s := range []repository.TableStore{messageStore, expenseStore} {
		if err := s.CreateTable(ctx); err != nil {
			return err
		}
	}

	messageWriter, err := repository.NewBatchWriter(messageStore, log)
	if err != nil {
		return err
	}
	expenseWriter, err := repository.NewBatchWriter(expenseStore, log)
	if err != nil {
		return err
	}
	history, err := repository.NewMessageLog(messageStore, messageWriter)
	if err != nil {
		return err
	}
	expenses, err := repository.NewExpenseTable(expenseStore, expenseWriter)
	if err != nil {
		return err
	}

	lib, err := loadRoles(cfg.RolesFile)
	if err != nil {
		return err
	}
	schema, err := usecase.NewResponseSchema()
	if err != nil {
		return err
	}

	var opts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.NewClient(ps, cfg.ParamPrefix, opts...)
	if err != nil {
		return fmt.Errorf("create OpenAI client: %w", err)
	}

	orchestrator, err := usecase.NewOrchestrator(lib, llm, schema, usecase.OrchestratorConfig{
		Persona:              roles.PersonaKey(cfg.Persona),
		Model:                cfg.TextModel,
		ImageModel:           cfg.ImageModel,
		PreviousMessageLimit: cfg.PreviousMessageLimit,
		Timeout:              cfg.ModelTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	var sink usecase.ExpenseSink
	if cfg.NotionDatabaseID != "" {
		token, err := paramstore.Token(ctx, ps, cfg.NotionTokenParameter())
		if err != nil {
			return fmt.Errorf("resolve Notion token: %w", err)
		}
		s, err := notion.NewClientSink(token, cfg.NotionDatabaseID)
		if err != nil {
			return err
		}
		sink = s
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	conv, err := usecase.NewConversationService(orchestrator, history, expenses, sink, usecase.NewFormatter(loc), usecase.ConversationConfig{
		Role:         roles.SystemRoleKey(cfg.DefaultRole),
		Mode:         usecase.ChatMode(cfg.ChatMode),
		HistoryLimit: cfg.HistoryLimit,
	}, log)
	if err != nil {
		return fmt.Errorf("create conversation service: %w", err)
	}

	token := cfg.TelegramToken
	if token == "" {
		token, err = paramstore.Token(ctx, ps, cfg.TelegramTokenParameter())
		if err != nil {
			return fmt.Errorf("resolve Telegram token: %w", err)
		}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("create Telegram bot: %w", err)
	}
	messenger, err := telegram.NewMessenger(bot, nil, log)
	if err != nil {
		return err
	}

	h, err := handler.NewHandler(conv, messenger, log)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	a.Handler = h
	a.Bot = bot
	return nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	return a.backend.Close()
}

func loadRoles(path string) (*roles.Library, error) {
	if path == "" {
		return roles.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roles file: %w", err)
	}
	defer f.Close()
	lib, err := roles.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load roles file %s: %w", path, err)
	}
	return lib, nil
}

// Backend hands out table stores on the configured storage.
type Backend struct {
	dynamo *awsdynamodb.Client
	db     *sql.DB
}

// OpenBackend connects to DynamoDB or opens the local SQLite file depending
// on STORE_BACKEND.
func OpenBackend(cfg *config.Config, awsCfg aws.Config) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{db: db}, nil
	case config.BackendDynamoDB, "":
		return &Backend{dynamo: awsdynamodb.NewFromConfig(awsCfg)}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (b *Backend) Table(name string) (repository.TableStore, error) {
	if b.db != nil {
		return repository.NewSQLiteStore(b.db, name)
	}
	return repository.NewDynamoStore(b.dynamo, name)
}

func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
