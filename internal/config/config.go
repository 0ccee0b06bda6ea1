// Package config loads runtime settings from an optional .env file and
// TASKD_-prefixed environment variables. File keys carry no prefix
// (DB_PATH=...), environment variables do (TASKD_DB_PATH=...).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sandeepkv93/tasksync/internal/model"
)

const EnvPrefix = "TASKD"

type Config struct {
	DBPath     string `mapstructure:"db_path"`
	UserID     string `mapstructure:"user_id"`
	Phone      string `mapstructure:"phone"`
	Email      string `mapstructure:"email"`
	ChatID     string `mapstructure:"chat_id"`
	PushToken  string `mapstructure:"push_token"`
	Subscribed bool   `mapstructure:"subscribed"`

	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	CatchUpWindow   time.Duration `mapstructure:"catch_up_window"`
	ResyncAt        string        `mapstructure:"resync_at"`
	SchedulerBuffer int           `mapstructure:"scheduler_buffer"`

	LogFile    string `mapstructure:"log_file"`
	LogLevel   string `mapstructure:"log_level"`
	LogConsole bool   `mapstructure:"log_console"`

	DesktopNotifications bool `mapstructure:"desktop_notifications"`

	FirebaseProject     string `mapstructure:"firebase_project"`
	FirebaseCredentials string `mapstructure:"firebase_credentials"`

	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFrom       string `mapstructure:"twilio_from"`

	SMTPHost        string `mapstructure:"smtp_host"`
	SMTPPort        int    `mapstructure:"smtp_port"`
	SMTPUsername    string `mapstructure:"smtp_username"`
	SMTPPassword    string `mapstructure:"smtp_password"`
	SMTPFrom        string `mapstructure:"smtp_from"`
	SMTPFromName    string `mapstructure:"smtp_from_name"`
	SMTPImplicitTLS bool   `mapstructure:"smtp_implicit_tls"`

	SlackToken    string `mapstructure:"slack_token"`
	TelegramToken string `mapstructure:"telegram_token"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	LLMEndpoint string `mapstructure:"llm_endpoint"`
	LLMAPIKey   string `mapstructure:"llm_api_key"`
	LLMModel    string `mapstructure:"llm_model"`
}

var defaults = map[string]any{
	"db_path":               "tasksync.db",
	"user_id":               "local",
	"phone":                 "",
	"email":                 "",
	"chat_id":               "",
	"push_token":            "",
	"subscribed":            false,
	"sync_interval":         "1m",
	"catch_up_window":       "24h",
	"resync_at":             "03:00",
	"scheduler_buffer":      64,
	"log_file":              "logs/tasksync.log",
	"log_level":             "info",
	"log_console":           false,
	"desktop_notifications": false,
	"firebase_project":      "",
	"firebase_credentials":  "",
	"twilio_account_sid":    "",
	"twilio_auth_token":     "",
	"twilio_from":           "",
	"smtp_host":             "",
	"smtp_port":             587,
	"smtp_username":         "",
	"smtp_password":         "",
	"smtp_from":             "",
	"smtp_from_name":        "tasksync",
	"smtp_implicit_tls":     false,
	"slack_token":           "",
	"telegram_token":        "",
	"redis_addr":            "",
	"redis_password":        "",
	"redis_db":              0,
	"llm_endpoint":          "",
	"llm_api_key":           "",
	"llm_model":             "",
}

// Load reads dir/.env when present, then the environment.
func Load(dir string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read %s/.env: %w", dir, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", model.ErrValidation)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("%w: sync_interval must be at least 1s", model.ErrValidation)
	}
	if c.CatchUpWindow < 0 {
		return fmt.Errorf("%w: catch_up_window must not be negative", model.ErrValidation)
	}
	if c.SchedulerBuffer <= 0 {
		return fmt.Errorf("%w: scheduler_buffer must be positive", model.ErrValidation)
	}
	return nil
}

// Session builds the explicit user context handed to components.
func (c Config) Session() model.Session {
	return model.Session{
		UserID:     c.UserID,
		Phone:      c.Phone,
		Email:      c.Email,
		ChatID:     c.ChatID,
		PushToken:  c.PushToken,
		Subscribed: c.Subscribed,
	}
}
