package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config holds the environment driven configuration shared by every binary.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"expense-agent"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb" validate:"oneof=dynamodb sqlite"`
	MessageTable string `env:"MESSAGE_TABLE" envDefault:"Message" validate:"required"`
	ExpenseTable string `env:"EXPENSE_TABLE" envDefault:"Expense" validate:"required"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"data/expense-agent.db"`

	ParamPrefix   string `env:"PARAM_PREFIX" envDefault:"/expense-agent" validate:"required"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	TelegramToken string `env:"TELEGRAM_TOKEN"`

	TextModel            string        `env:"TEXT_MODEL" envDefault:"gpt-4o-mini"`
	ImageModel           string        `env:"IMAGE_MODEL" envDefault:"gpt-4o"`
	PreviousMessageLimit int           `env:"PREVIOUS_MESSAGE_LIMIT" envDefault:"10" validate:"gte=0"`
	HistoryLimit         int           `env:"HISTORY_LIMIT" envDefault:"10" validate:"gte=0"`
	ModelTimeout         time.Duration `env:"MODEL_TIMEOUT" envDefault:"20s"`

	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Asia/Bangkok"`
	DefaultRole     string `env:"DEFAULT_ROLE" envDefault:"expense"`
	ChatMode        string `env:"CHAT_MODE" envDefault:"natural" validate:"oneof=default natural"`
	Persona         string `env:"PERSONA" envDefault:"Riko"`
	RolesFile       string `env:"ROLES_FILE"`

	NotionDatabaseID string `env:"NOTION_DATABASE_ID"`
	MetricsAddr      string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.StoreBackend == BackendSQLite && strings.TrimSpace(cfg.SQLitePath) == "" {
		return nil, fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND is sqlite")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 20 * time.Second
	}
	return cfg, nil
}

// Location resolves DisplayTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("load DISPLAY_TIMEZONE %q: %w", c.DisplayTimezone, err)
	}
	return loc, nil
}

// TelegramTokenParameter is the SSM name read when TELEGRAM_TOKEN is unset.
func (c *Config) TelegramTokenParameter() string {
	return strings.TrimRight(c.ParamPrefix, "/") + "/telegram-token"
}

// NotionTokenParameter is the SSM name of the Notion integration token.
func (c *Config) NotionTokenParameter() string {
	return strings.TrimRight(c.ParamPrefix, "/") + "/notion-token"
}

// LoadEnvFiles overlays local .env files onto the process environment.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
