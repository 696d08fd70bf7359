// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root application configuration. Values can be set via a YAML
// config file or environment variables prefixed with BOT_
// (e.g. BOT_MESSENGER_CHANNEL_SECRET).
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Messenger  MessengerConfig  `mapstructure:"messenger"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

// DatabaseConfig controls the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// MessengerConfig holds the chat platform credentials and endpoints.
// SkipSignature disables webhook signature verification and must only be
// set in test environments.
type MessengerConfig struct {
	APIBaseURL    string        `mapstructure:"api_base_url" validate:"required,url"`
	ChannelSecret string        `mapstructure:"channel_secret" validate:"required_unless=SkipSignature true"`
	ChannelToken  string        `mapstructure:"channel_token" validate:"required"`
	SkipSignature bool          `mapstructure:"skip_signature"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=1m"`
}

// GeminiConfig holds the generative AI backend settings. Models is the
// ordered rotation list; the first entry is the primary model.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key" validate:"required"`
	Models      []string      `mapstructure:"models" validate:"required,min=1,dive,required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"required,min=1,max=10"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=10m"`
}

// TranslatorConfig controls the translation orchestrator.
type TranslatorConfig struct {
	ResultsBaseURL  string `mapstructure:"results_base_url" validate:"required,url"`
	ContextMessages int    `mapstructure:"context_messages" validate:"required,min=1,max=20"`
}

// QueueConfig tunes the event queue consumer and its retry policy.
type QueueConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"required,min=100ms"`
	BatchSize     int           `mapstructure:"batch_size" validate:"required,min=1,max=100"`
	Workers       int           `mapstructure:"workers" validate:"required,min=1,max=64"`
	MaxDeliveries int           `mapstructure:"max_deliveries" validate:"required,min=1,max=50"`
	LeaseTimeout  time.Duration `mapstructure:"lease_timeout" validate:"required,min=1s"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig configures a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from the given YAML file (if present), the
// environment, and built-in defaults, then validates the result. A missing
// config file is not an error; missing required values are.
func LoadConfig(path string) (*Config, error) {
	// .env files are a local development convenience only.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// With an explicit config file path viper reports a missing file as a
		// plain fs error rather than ConfigFileNotFoundError.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
