package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/app"
	"github.com/vovakirdan/wirerelay/internal/config"
)

var serveFlags config.Config

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&serveFlags.Redis.Addr, "redis-addr", "", "Redis address")
	f.IntVar(&serveFlags.Redis.DB, "redis-db", 0, "Redis database")
	f.DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.DurationVar(&serveFlags.ReaderIdleTimeout, "reader-idle-timeout", 0, "retire a channel reader after this long without connections")
	f.IntVar(&serveFlags.RateLimitPerMinute, "rate-limit", 0, "inbound frames per connection per minute")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(serveFlags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyZeroFlags(&cfg, cmd.Flags().Changed)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTimeout := 2 * cfg.Redis.DialTimeout
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	application, err := app.New(startCtx, &cfg, logger)
	cancel()
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting wirerelay")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// applyZeroFlags copies flags whose zero value is meaningful. UpdateFrom
// skips zero values, so an explicit --redis-db 0 would otherwise be lost.
func applyZeroFlags(cfg *config.Config, changed func(name string) bool) {
	if changed("redis-db") {
		cfg.Redis.DB = serveFlags.Redis.DB
	}
	if changed("reader-idle-timeout") {
		cfg.ReaderIdleTimeout = serveFlags.ReaderIdleTimeout
	}
	if changed("rate-limit") {
		cfg.RateLimitPerMinute = serveFlags.RateLimitPerMinute
	}
}
