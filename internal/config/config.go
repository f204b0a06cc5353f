// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultAPIEndpoint   = "https://api.safew.org/bot%s/%s"
	DefaultProjectURL    = "https://tyw29.cc/"
	DefaultDatabasePath  = "./data/bot.db"
	DefaultSchedule      = "@every 10m"
	DefaultPostSelector  = `div.message.break-all[isfirst="1"]`
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"
	DefaultMaxPushPerRun = 5
	DefaultMaxImages     = 10
	DefaultSendDelay     = 5 * time.Second
)

// DefaultModerationMarkers are page phrases shown while a post awaits approval.
var DefaultModerationMarkers = []string{"审核中", "正在审核", "等待审核", "待审核"}

// Config holds the application configuration.
type Config struct {
	BotToken          string
	ChatID            string
	FeedURL           string
	APIEndpoint       string
	ProjectURL        string
	DatabasePath      string
	LogLevel          string
	Schedule          string
	MaxPushPerRun     int
	MaxImages         int
	SendDelay         time.Duration
	UserAgent         string
	PostSelector      string
	ModerationMarkers []string
	ParseMode         string
	EnableCommands    bool
	AllowedUsers      []int64
}

// Load reads configuration from environment variables. Values from a .env
// file in the working directory are applied first without overriding
// variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if !strings.Contains(token, ":") {
		return nil, fmt.Errorf("BOT_TOKEN has invalid format")
	}

	chatID := strings.TrimSpace(os.Getenv("CHAT_ID"))
	if chatID == "" {
		return nil, fmt.Errorf("CHAT_ID is required")
	}

	feedURL := strings.TrimSpace(os.Getenv("RSS_FEED_URL"))
	if feedURL == "" {
		return nil, fmt.Errorf("RSS_FEED_URL is required")
	}

	cfg := &Config{
		BotToken:          token,
		ChatID:            chatID,
		FeedURL:           feedURL,
		APIEndpoint:       envOr("API_ENDPOINT", DefaultAPIEndpoint),
		ProjectURL:        envOr("PROJECT_URL", DefaultProjectURL),
		DatabasePath:      envOr("DATABASE_PATH", DefaultDatabasePath),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		Schedule:          envOr("SCHEDULE", DefaultSchedule),
		MaxPushPerRun:     DefaultMaxPushPerRun,
		MaxImages:         DefaultMaxImages,
		SendDelay:         DefaultSendDelay,
		UserAgent:         envOr("USER_AGENT", DefaultUserAgent),
		PostSelector:      envOr("POST_SELECTOR", DefaultPostSelector),
		ModerationMarkers: DefaultModerationMarkers,
		ParseMode:         "Markdown",
	}

	if !strings.Contains(cfg.APIEndpoint, "%s") {
		return nil, fmt.Errorf("API_ENDPOINT must contain %%s placeholders for token and method")
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE %q: %w", cfg.Schedule, err)
	}

	if raw := os.Getenv("MAX_PUSH_PER_RUN"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_PUSH_PER_RUN %q: must be a positive integer", raw)
		}
		cfg.MaxPushPerRun = n
	}

	if raw := os.Getenv("MAX_IMAGES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > DefaultMaxImages {
			return nil, fmt.Errorf("invalid MAX_IMAGES %q: must be between 1 and %d", raw, DefaultMaxImages)
		}
		cfg.MaxImages = n
	}

	if raw := os.Getenv("SEND_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid SEND_DELAY %q", raw)
		}
		cfg.SendDelay = d
	}

	if raw, ok := os.LookupEnv("PARSE_MODE"); ok {
		switch raw {
		case "", "Markdown", "MarkdownV2", "HTML":
			cfg.ParseMode = raw
		default:
			return nil, fmt.Errorf("invalid PARSE_MODE %q: use Markdown, MarkdownV2, HTML or empty", raw)
		}
	}

	if raw := os.Getenv("MODERATION_MARKERS"); raw != "" {
		cfg.ModerationMarkers = splitList(raw)
	}

	if raw := os.Getenv("ENABLE_COMMANDS"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_COMMANDS %q: %w", raw, err)
		}
		cfg.EnableCommands = v
	}

	for _, s := range splitList(os.Getenv("ALLOWED_USERS")) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
	}
	if cfg.EnableCommands && len(cfg.AllowedUsers) == 0 {
		return nil, fmt.Errorf("ENABLE_COMMANDS requires ALLOWED_USERS")
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
