package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	BotToken     string
	AdminChatID  int64
	Verification VerificationConfig
	Database     DatabaseConfig
	Messages     Messages
}

// VerificationConfig holds the knobs of the admission gate.
type VerificationConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	MaxTimeouts   int
	SweepInterval time.Duration
	Question      string
	Indicators    []string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// Messages holds the chat-facing templates. Placeholders in braces are
// substituted at render time.
type Messages struct {
	Welcome     string
	Success     string
	Retry       string
	BotDetected string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	ttl, err := getEnvDuration("VERIFY_TTL", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getEnvInt("VERIFY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	maxTimeouts, err := getEnvInt("VERIFY_MAX_TIMEOUTS", 3)
	if err != nil {
		return nil, err
	}
	adminChatID, err := getEnvInt64("ADMIN_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BotToken:    os.Getenv("BOT_TOKEN"),
		AdminChatID: adminChatID,
		Verification: VerificationConfig{
			TTL:           ttl,
			MaxAttempts:   maxAttempts,
			MaxTimeouts:   maxTimeouts,
			SweepInterval: sweepInterval,
			Question:      getEnv("CHALLENGE_QUESTION", "How much is {a} + {b}? Reply with just the number."),
			Indicators:    getEnvList("SUSPECT_NAME_PATTERNS"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "gatekeeper"),
			User:     getEnv("DB_USER", "gatekeeper"),
			Password: os.Getenv("DB_PASSWORD"),
		},
		Messages: Messages{
			Welcome: getEnv("WELCOME_MESSAGE",
				"Welcome, {user}! To join the conversation, prove you are human.\n\n{question}\n\nYou have a few minutes before the challenge expires."),
			Success: getEnv("SUCCESS_MESSAGE",
				"Verification passed. Welcome aboard, {user}!"),
			Retry: getEnv("RETRY_MESSAGE",
				"Wrong answer, {user}. You have {left} more attempt(s).\n\n{question}"),
			BotDetected: getEnv("BOT_DETECTED_MESSAGE",
				"Removed {user} (@{username}): automated accounts are not allowed here."),
		},
	}

	// Validate required fields
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Verification.TTL <= 0 {
		return nil, fmt.Errorf("VERIFY_TTL must be positive")
	}
	if cfg.Verification.MaxAttempts < 1 {
		return nil, fmt.Errorf("VERIFY_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// DSN returns PostgreSQL connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}

// RenderWelcome renders the challenge delivery message.
func (m Messages) RenderWelcome(user, question string) string {
	return strings.NewReplacer("{user}", user, "{question}", question).Replace(m.Welcome)
}

// RenderSuccess renders the verification-passed message.
func (m Messages) RenderSuccess(user string) string {
	return strings.NewReplacer("{user}", user).Replace(m.Success)
}

// RenderRetry renders the wrong-answer message.
func (m Messages) RenderRetry(user, question string, attemptsLeft int) string {
	return strings.NewReplacer(
		"{user}", user,
		"{question}", question,
		"{left}", strconv.Itoa(attemptsLeft),
	).Replace(m.Retry)
}

// RenderBotDetected renders the public bot-removed announcement.
func (m Messages) RenderBotDetected(user, username string) string {
	if username == "" {
		username = "no_username"
	}
	return strings.NewReplacer("{user}", user, "{username}", username).Replace(m.BotDetected)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 90s or 2m: %w", key, err)
	}
	return parsed, nil
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}
