package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-watch-listings/store"
)

// Topic is a single listing page being watched.
type Topic struct {
	Name     string `mapstructure:"topic"`
	URL      string `mapstructure:"url"`
	Disabled bool   `mapstructure:"disabled"`
	ChatID   string `mapstructure:"chatId"`
}

// Enabled reports whether the topic should be scraped.
func (t Topic) Enabled() bool {
	return !t.Disabled && strings.TrimSpace(t.URL) != ""
}

// Config holds watcher configuration. It is read once at startup and passed down.
type Config struct {
	Topics []Topic

	APIToken       string
	ChatID         string
	TelegramAPIURL string

	BaseURL         string
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	DataDir      string
	DebugDir     string
	PushFlagFile string
	MessageDelay time.Duration

	Schedule    string
	MetricsAddr string
	Verbose     bool
	DryRun      bool
}

// DefaultConfig returns defaults for the yad2 market target.
func DefaultConfig() *Config {
	return &Config{
		TelegramAPIURL:  "https://api.telegram.org",
		BaseURL:         "https://market.yad2.co.il",
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		Timeout:         30 * time.Second,
		MaxRetries:      0,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		DataDir:         "data",
		DebugDir:        ".",
		PushFlagFile:    "push_me",
		MessageDelay:    time.Second,
	}
}

// EnabledTopics returns the topics that have a URL and are not disabled, in order.
func (c *Config) EnabledTopics() []Topic {
	out := make([]Topic, 0, len(c.Topics))
	for _, t := range c.Topics {
		if t.Enabled() {
			out = append(out, t)
		}
	}
	return out
}

// Destination returns the chat a topic reports to.
func (c *Config) Destination(t Topic) string {
	if t.ChatID != "" {
		return t.ChatID
	}
	return c.ChatID
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a scheme and host")
	}

	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one topic must be configured")
	}
	seen := make(map[string]struct{}, len(c.Topics))
	files := make(map[string]string, len(c.Topics))
	for i, t := range c.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("topic %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("topic %q is configured twice", name)
		}
		seen[name] = struct{}{}
		file := store.SafeName(name)
		if other, clash := files[file]; clash {
			return fmt.Errorf("topics %q and %q share the state file name %q", other, name, file)
		}
		files[file] = name
		if t.Enabled() {
			if _, err := url.ParseRequestURI(t.URL); err != nil {
				return fmt.Errorf("topic %q has an invalid url: %w", name, err)
			}
			if !c.DryRun && c.Destination(t) == "" {
				return fmt.Errorf("topic %q has no chat id", name)
			}
		}
	}

	if !c.DryRun && c.APIToken == "" {
		return fmt.Errorf("api token cannot be empty")
	}
	if c.TelegramAPIURL == "" {
		return fmt.Errorf("telegram api URL cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MessageDelay < 0 {
		return fmt.Errorf("message delay cannot be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}

	return nil
}
