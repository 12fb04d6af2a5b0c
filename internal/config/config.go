// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds everything the console needs at startup.
type Config struct {
	APIKey    string
	Provider  string
	Model     string
	AIBaseURL string
	OllamaURL string
	AITimeout time.Duration
	BotName   string

	Port        string
	DataDir     string
	ScheduleDir string
	PublicDir   string
	WhatsAppDB  string

	ScheduleInterval time.Duration
	ScheduleTZ       string

	SessionSecret string
	SessionTTL    time.Duration

	SendRate  float64
	SendBurst int

	LogLevel string
}

// Load reads .env (if present) and the environment. It never fails on a
// missing .env; call Validate before using the result.
func Load(envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)

	provider := strings.ToLower(getEnv("AI_PROVIDER", ProviderOpenAI))
	defaultModel := "gpt-4o-mini"
	if provider == ProviderOllama {
		defaultModel = "llama3:latest"
	}

	return &Config{
		APIKey:    getEnv("GPT_API_KEY", ""),
		Provider:  provider,
		Model:     getEnv("AI_MODEL", defaultModel),
		AIBaseURL: getEnv("AI_BASE_URL", ""),
		OllamaURL: getEnv("OLLAMA_URL", "http://localhost:11434/api/chat"),
		AITimeout: getDuration("AI_TIMEOUT", 30*time.Second),
		BotName:   getEnv("BOT_NAME", "SalvoRadaBot"),

		Port:        getEnv("PORT", "3000"),
		DataDir:     getEnv("DATA_DIR", "dados"),
		ScheduleDir: getEnv("SCHEDULE_DIR", "mensagens_agendadas"),
		PublicDir:   getEnv("PUBLIC_DIR", "public"),
		WhatsAppDB:  getEnv("WA_DB", "file:whatsapp.db?_foreign_keys=on"),

		ScheduleInterval: getDuration("SCHEDULE_INTERVAL", 30*time.Second),
		ScheduleTZ:       getEnv("SCHEDULE_TZ", "America/Sao_Paulo"),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getDuration("SESSION_TTL", 7*24*time.Hour),

		SendRate:  getFloat("SEND_RATE", 1),
		SendBurst: getInt("SEND_BURST", 3),

		LogLevel: strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
	}
}

// ErrMissingAPIKey is returned by Validate when the selected AI provider
// needs a key and none was configured.
var ErrMissingAPIKey = errors.New("GPT_API_KEY is required")

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.APIKey == "" {
			return ErrMissingAPIKey
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.Provider)
	}
	if c.ScheduleInterval <= 0 {
		return fmt.Errorf("SCHEDULE_INTERVAL must be positive, got %s", c.ScheduleInterval)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if _, err := time.LoadLocation(c.ScheduleTZ); err != nil {
		return fmt.Errorf("unknown SCHEDULE_TZ %q: %w", c.ScheduleTZ, err)
	}
	return nil
}

// Location resolves ScheduleTZ. Scheduled wall-clock times are read in this
// zone. An unknown zone name, which Validate rejects, falls back to a fixed
// UTC-3 for the offline commands.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.ScheduleTZ); err == nil {
		return loc
	}
	return time.FixedZone("UTC-3", -3*60*60)
}

// Path joins name onto the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return -1
}

func getFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
