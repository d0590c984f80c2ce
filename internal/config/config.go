package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration sourced from the environment.
type Config struct {
	AppEnv   string
	LogLevel string

	HTTPListenAddr   string
	MetricsNamespace string

	DatabaseURL string
	DBSchema    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	AnthropicAPIKey string
	GroqAPIKey      string
	PrimaryProvider string
	ProviderTimeout time.Duration
	SystemPrompt    string

	CopperPriceURL    string
	AluminiumPriceURL string
	PriceFreshness    time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string
	TelegramBotToken  string
	AdminTelegramID   string

	ContextMessages int
	StockTimeout    time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where safe and failing on missing required values.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "quotebot"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBSchema:          getEnv("DB_SCHEMA", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		PrimaryProvider:   getEnv("PRIMARY_LLM", "anthropic"),
		SystemPrompt:      getEnv("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
		CopperPriceURL:    os.Getenv("COPPER_PRICE_URL"),
		AluminiumPriceURL: os.Getenv("ALUMINIUM_PRICE_URL"),
		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/wa-store.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminTelegramID:   os.Getenv("ADMIN_TELEGRAM_ID"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getEnvDuration("LLM_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.PriceFreshness, err = getEnvDuration("PRICE_FRESHNESS", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ContextMessages, err = getEnvInt("CONTEXT_MESSAGES", 10); err != nil {
		return nil, err
	}
	if cfg.StockTimeout, err = getEnvDuration("STOCK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AnthropicAPIKey == "" && cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("at least one of ANTHROPIC_API_KEY or GROQ_API_KEY is required")
	}
	switch cfg.PrimaryProvider {
	case "anthropic", "groq":
	default:
		return nil, fmt.Errorf("PRIMARY_LLM must be either anthropic or groq, got %q", cfg.PrimaryProvider)
	}

	return cfg, nil
}

const defaultSystemPrompt = "You are a query understanding agent for an electrical cable trading business. " +
	"Users ask about quotations, item prices, stock availability and metal prices. " +
	"Always answer by calling exactly one of the provided tools with arguments matching its schema. " +
	"Do not reply with free text."

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
