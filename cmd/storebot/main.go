// Package main запускает бота-витрину и HTTP-сервер администратора.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iwrumi/corebotstore/internal/access"
	"github.com/iwrumi/corebotstore/internal/bot"
	"github.com/iwrumi/corebotstore/internal/broadcast"
	"github.com/iwrumi/corebotstore/internal/config"
	"github.com/iwrumi/corebotstore/internal/handler"
	"github.com/iwrumi/corebotstore/internal/middleware"
	"github.com/iwrumi/corebotstore/internal/notify"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/seed"
	"github.com/iwrumi/corebotstore/internal/service"
	"github.com/iwrumi/corebotstore/internal/wizard"
)

func main() {
	// .env не перекрывает уже заданные переменные окружения
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	var seedFile *seed.File
	if cfg.SeedFile != "" {
		f, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		seedFile = f
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization error: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		_ = repo.Close()
		return fmt.Errorf("telegram initialization error: %w", err)
	}
	sugar.Infow("authorized on telegram", "bot", api.Self.UserName)

	policy := access.NewPolicy(cfg.AdminIDs)
	if len(cfg.AdminIDs) == 0 {
		sugar.Warn("ADMIN_IDS is empty, admin commands are disabled")
	}

	notifier := notify.NewTelegram(api, policy, logger, cfg.CurrencySymbol)
	svc := service.NewService(repo, seedFile.Registry(), notifier, logger, cfg.ServiceOptions())
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := seed.Apply(ctx, svc, seedFile, logger); err != nil {
		return err
	}

	auth := middleware.NewAdminAuth(cfg.AdminTokenSecret, cfg.AdminTokenTTL, policy)
	broadcaster := broadcast.New(svc, api, logger, cfg.BroadcastConcurrency, cfg.BroadcastDelay)

	b := bot.New(api, svc, policy, logger, bot.Options{
		Currency:    cfg.CurrencySymbol,
		Broadcaster: broadcaster,
		Tokens:      auth,
		Wizards:     wizard.NewManager(wizard.DefaultIdleTimeout),
		Desk:        seedFile.Desk(),
	})
	defer b.Wait()

	opts := handler.Options{Broadcaster: broadcaster}
	var updates tgbotapi.UpdatesChannel
	if cfg.WebhookURL != "" {
		if err := setWebhook(api, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			return err
		}
		opts.Updates = b
		opts.WebhookSecret = cfg.WebhookSecret
		sugar.Infow("webhook registered", "url", cfg.WebhookURL)
	} else {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates = api.GetUpdatesChan(u)
		sugar.Info("long polling started")
	}

	h := handler.NewHandler(svc, logger, auth, opts)
	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая отмена просроченных заявок на пополнение
	svc.StartDepositExpiry(ctx)

	g.Go(func() error {
		return b.Run(ctx, updates)
	})

	g.Go(func() error {
		sugar.Infow("starting storebot server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down...")

		if updates != nil {
			api.StopReceivingUpdates()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func openRepository(cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	driver := cfg.StorageDriver
	if driver == "" {
		driver = config.DriverGorm
		if repository.DetectDialect(cfg.DatabaseURI) == repository.DialectPostgres {
			driver = config.DriverPgx
		}
	}

	if driver == config.DriverPgx {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	repo, err := repository.OpenGorm(cfg.DatabaseURI, repository.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func setWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}
