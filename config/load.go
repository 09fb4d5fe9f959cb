package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional .env file, an optional JSON config file and
// the environment. Environment variables win over file values, which win over defaults.
// An empty path looks for config.json in the working directory.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}

	cfg := DefaultConfig()
	v := viper.New()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		slog.Warn("config file not found, using environment only", slog.String("path", path))
	}

	if err := v.UnmarshalKey("projects", &cfg.Topics); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}

	cfg.APIToken = v.GetString("API_TOKEN")
	cfg.ChatID = v.GetString("CHAT_ID")
	cfg.TelegramAPIURL = v.GetString("TELEGRAM_API_URL")
	cfg.BaseURL = v.GetString("BASE_URL")
	cfg.UserAgent = v.GetString("USER_AGENT")
	cfg.Timeout = v.GetDuration("TIMEOUT")
	cfg.MaxRetries = v.GetInt("MAX_RETRIES")
	cfg.RetryBackoff = v.GetDuration("RETRY_BACKOFF")
	cfg.RetryBackoffMax = v.GetDuration("RETRY_BACKOFF_MAX")
	cfg.DataDir = v.GetString("DATA_DIR")
	cfg.DebugDir = v.GetString("DEBUG_DIR")
	cfg.PushFlagFile = v.GetString("PUSH_FLAG")
	cfg.MessageDelay = v.GetDuration("MESSAGE_DELAY")

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("TELEGRAM_API_URL", cfg.TelegramAPIURL)
	v.SetDefault("BASE_URL", cfg.BaseURL)
	v.SetDefault("USER_AGENT", cfg.UserAgent)
	v.SetDefault("TIMEOUT", cfg.Timeout)
	v.SetDefault("MAX_RETRIES", cfg.MaxRetries)
	v.SetDefault("RETRY_BACKOFF", cfg.RetryBackoff)
	v.SetDefault("RETRY_BACKOFF_MAX", cfg.RetryBackoffMax)
	v.SetDefault("DATA_DIR", cfg.DataDir)
	v.SetDefault("DEBUG_DIR", cfg.DebugDir)
	v.SetDefault("PUSH_FLAG", cfg.PushFlagFile)
	v.SetDefault("MESSAGE_DELAY", cfg.MessageDelay)
}
