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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/livesearch-bot/internal/config"
	"github.com/kitbuilder587/livesearch-bot/internal/metrics"
	"github.com/kitbuilder587/livesearch-bot/internal/service"
	"github.com/kitbuilder587/livesearch-bot/internal/session"
	"github.com/kitbuilder587/livesearch-bot/internal/telegram"
	"github.com/kitbuilder587/livesearch-bot/internal/xai"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bot stopped with error", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New(nil)

	store := session.NewWithContext(ctx, session.Config{
		TTL:             cfg.Session.TTL,
		DefaultEndpoint: cfg.XAI.Endpoint,
		DefaultModel:    cfg.XAI.DefaultModel(),
	})
	defer store.Stop()
	m.TrackActiveSessions(store.Len)

	client := xai.New(xai.Config{Timeout: cfg.XAI.Timeout}, logger.Named("xai"))

	searchSvc := service.NewSearchService(service.SearchServiceDeps{
		Store:     store,
		Transport: client,
		Logger:    logger.Named("search"),
		Metrics:   m,
	})

	bot, err := telegram.New(telegram.BotConfig{
		Token:           cfg.Telegram.Token,
		Debug:           cfg.Telegram.Debug,
		DefaultEndpoint: cfg.XAI.Endpoint,
		Models:          cfg.XAI.Models,
	}, searchSvc, logger.Named("telegram"), m)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting",
		zap.String("endpoint", cfg.XAI.Endpoint),
		zap.Strings("models", cfg.XAI.Models),
		zap.Duration("xai_timeout", cfg.XAI.Timeout),
		zap.Duration("session_ttl", cfg.Session.TTL),
		zap.String("metrics_addr", cfg.Metrics.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := bot.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
