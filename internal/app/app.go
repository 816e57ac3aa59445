package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/bus"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/presence"
	transporthttp "github.com/vovakirdan/wirerelay/internal/transport/http"
)

// App owns the bus connections, the hub and the HTTP server, and drives
// startup and ordered shutdown.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	bus             *bus.Bus
	log             *zerolog.Logger
}

// New opens both bus connections and wires the relay.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	b, err := bus.Open(ctx, bus.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	hub := core.NewHub(b, presence.New(b.Commands()), core.Options{
		HistorySize: cfg.HistorySize,
		SendBuffer:  cfg.SendBuffer,
		IdleTimeout: cfg.ReaderIdleTimeout,
	}, logger)

	return &App{
		server:          transporthttp.NewServer(hub, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		bus:             b,
		log:             logger,
	}, nil
}

// Run listens on the configured address and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)

	a.log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.shutdownHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Upgraded sockets are hijacked, so this only stops new requests.
		err := a.server.Shutdown(shutdownCtx)

		if hubErr := a.hub.Shutdown(shutdownCtx); hubErr != nil {
			err = errors.Join(err, hubErr)
		}
		a.cleanup()

		if err != nil {
			return err
		}
		return <-serverErr
	}
}

func (a *App) shutdownHub() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.hub.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("hub shutdown")
	}
}

// cleanup closes the bus connections. It must run after the hub stopped.
func (a *App) cleanup() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
}
