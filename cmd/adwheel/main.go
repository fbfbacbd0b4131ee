// Package main запускает HTTP-сервер сервиса adwheel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adwheel/adwheel-backend/internal/auth"
	"github.com/adwheel/adwheel-backend/internal/config"
	"github.com/adwheel/adwheel-backend/internal/handler"
	"github.com/adwheel/adwheel-backend/internal/quota"
	"github.com/adwheel/adwheel-backend/internal/repository"
	"github.com/adwheel/adwheel-backend/internal/service"
	"github.com/adwheel/adwheel-backend/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	guard := token.NewGuard(repo, cfg.Rewards.TokenTTL)
	policy := quota.NewPolicy(repo, quota.Limits{
		DailyMaxAds:       cfg.Rewards.DailyMaxAds,
		DailyMaxSpins:     cfg.Rewards.DailyMaxSpins,
		MinActionInterval: cfg.Rewards.MinActionInterval,
	}, logger)

	svc := service.NewService(repo, guard, policy, cfg.Rewards)
	defer svc.Close()

	authenticator := auth.NewAuthenticator(cfg.BotToken, cfg.Rewards.SessionMaxAge)
	h := handler.NewHandler(svc, authenticator, logger, cfg.Rewards.TokenTTL)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой чистки просроченных токенов действий
	g.Go(func() error {
		svc.StartTokenCleanup(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting adwheel server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
