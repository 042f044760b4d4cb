package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/books-gateway/internal/auth"
	"github.com/alexjbarnes/books-gateway/internal/books"
	"github.com/alexjbarnes/books-gateway/internal/config"
	"github.com/alexjbarnes/books-gateway/internal/logging"
	"github.com/alexjbarnes/books-gateway/internal/server"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("books-gateway starting",
		slog.String("version", Version),
		slog.String("qb_environment", cfg.QBEnvironment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := auth.NewStore()
	defer store.Stop()

	oauth := auth.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	flow := auth.NewFlow(oauth, store, logger)
	guardian := auth.NewGuardian(oauth, store, logger)

	invoices := books.NewClient(books.APIBase(cfg.QBEnvironment), guardian, nil)

	mux := server.NewMux(server.MuxConfig{
		Store:    store,
		Flow:     flow,
		Invoices: invoices,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			slog.String("addr", cfg.ListenAddr()),
			slog.String("api_base", books.APIBase(cfg.QBEnvironment)),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
