package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/bus"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/presence"
)

type testRelay struct {
	ts  *httptest.Server
	hub *core.Hub
	bus *bus.Bus
	mr  *miniredis.Miniredis
}

// startTestRelay runs the relay routes against an in-process Redis.
func startTestRelay(t *testing.T, mutate func(*config.Config)) *testRelay {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.Nop()
	mr := miniredis.RunT(t)

	b, err := bus.Open(context.Background(), bus.Options{Addr: mr.Addr(), DialTimeout: time.Second}, &disabledLogger)
	if err != nil {
		t.Fatalf("open bus: %v", err)
	}

	hub := core.NewHub(b, presence.New(b.Commands()), core.Options{
		HistorySize: cfg.HistorySize,
		SendBuffer:  cfg.SendBuffer,
		IdleTimeout: cfg.ReaderIdleTimeout,
	}, &disabledLogger)

	server := NewServer(hub, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
		_ = b.Close()
	})

	return &testRelay{ts: ts, hub: hub, bus: b, mr: mr}
}

func (r *testRelay) wsURL(participant, channel string) string {
	return strings.Replace(r.ts.URL, "http", "ws", 1) + "/realtime/" + participant + "/" + channel + "/"
}
