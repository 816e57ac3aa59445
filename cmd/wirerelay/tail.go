package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/bus"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/presence"
	"github.com/vovakirdan/wirerelay/internal/tail"
)

var (
	tailFollow    bool
	tailRedisAddr string
)

var tailCmd = &cobra.Command{
	Use:   "tail <channel>",
	Short: "Print a channel's recent broadcasts and follow new ones",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", true, "keep streaming new broadcasts")
	tailCmd.Flags().StringVar(&tailRedisAddr, "redis-addr", "", "Redis address")
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.Config{Redis: config.RedisConfig{Addr: tailRedisAddr}})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.Open(ctx, bus.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return tail.New(b, presence.New(b.Commands()), cmd.OutOrStdout()).Run(ctx, args[0], tailFollow)
}
