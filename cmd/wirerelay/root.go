package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/config"
	applog "github.com/vovakirdan/wirerelay/internal/log"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "wirerelay",
	Short: "Realtime channel relay over a Redis backplane",
	Long: `wirerelay relays JSON messages between WebSocket clients joined to the
same channel. Redis pub/sub carries every broadcast, so several relay
processes can serve the same channels.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./wirerelay.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, tailCmd, versionCmd)
}

// loadConfig resolves configuration and builds the logger it asks for.
func loadConfig(overrides config.Config) (config.Config, *zerolog.Logger, error) {
	bootstrap := applog.New("info", "console")

	cfg, path, err := config.Load(bootstrap, cfgPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	if logLevel != "" {
		overrides.LogLevel = logLevel
	}
	cfg.UpdateFrom(overrides)

	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}
