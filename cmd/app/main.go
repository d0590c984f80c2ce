package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quote-bot/internal/cache"
	"quote-bot/internal/config"
	"quote-bot/internal/convo"
	"quote-bot/internal/httpserver"
	"quote-bot/internal/ledger"
	"quote-bot/internal/llm"
	"quote-bot/internal/logging"
	"quote-bot/internal/metalprice"
	"quote-bot/internal/metrics"
	"quote-bot/internal/repo"
	"quote-bot/internal/stock"
	"quote-bot/internal/telegram"
	"quote-bot/internal/wa"
	"quote-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting quote-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DBSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	rates, err := ledger.LoadRates(ctx, repository)
	if err != nil {
		return fmt.Errorf("load cost rates: %w", err)
	}

	priceSource := metalprice.NewHTTPSource(cfg.CopperPriceURL, cfg.AluminiumPriceURL, 0)
	priceCache := metalprice.New(priceSource, cfg.PriceFreshness, redisClient, metricRegistry, logger)

	resolver, err := buildResolver(cfg, logger, metricRegistry)
	if err != nil {
		return err
	}

	stockBridge := stock.New(cfg.StockTimeout, logger, metricRegistry)

	engine := convo.NewEngine(convo.Config{
		Repo:            repository,
		Resolver:        resolver,
		Prices:          priceCache,
		Stock:           stockBridge,
		Rates:           rates,
		ContextMessages: cfg.ContextMessages,
	}, logger, metricRegistry)

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()
	waClient.SetHandler(engine)

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	if cfg.TelegramBotToken != "" {
		bot := telegram.New(telegram.Config{
			Token:   cfg.TelegramBotToken,
			AdminID: cfg.AdminTelegramID,
		}, repository, engine, logger)
		go func() {
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram bot stopped", "error", err)
				stop()
			}
		}()
	} else {
		logger.Info("telegram bot disabled, no token configured")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, httpserver.Dependencies{
		Store:  repository,
		Prices: priceCache,
		Stock:  stockBridge,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// buildResolver orders the configured providers so PRIMARY_LLM is tried
// first; the other becomes the failover. A single configured provider
// runs without a failover.
func buildResolver(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*llm.Resolver, error) {
	var anthropic, groq llm.Provider
	if cfg.AnthropicAPIKey != "" {
		anthropic = llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Timeout: cfg.ProviderTimeout,
		}, logger)
	}
	if cfg.GroqAPIKey != "" {
		groq = llm.NewGroq(llm.GroqConfig{
			APIKey:  cfg.GroqAPIKey,
			Timeout: cfg.ProviderTimeout,
		}, logger)
	}

	primary, secondary := anthropic, groq
	if cfg.PrimaryProvider == "groq" {
		primary, secondary = groq, anthropic
	}
	if primary == nil {
		primary, secondary = secondary, nil
	}
	if primary == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}
	return llm.NewResolver(primary, secondary, cfg.SystemPrompt, logger, m), nil
}
