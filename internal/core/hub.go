package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirerelay/internal/bus"
)

// ShutdownReason is sent with the normal-closure frame on shutdown.
const ShutdownReason = "Server shutdown"

// Broker is the slice of the bus the hub publishes and subscribes through.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	AppendCapped(ctx context.Context, key string, payload []byte, limit int64) error
	Subscribe(ctx context.Context, topic string) (bus.Subscription, error)
}

// Presence records channel membership.
type Presence interface {
	RecordJoin(ctx context.Context, channel, participant string) ([]string, error)
	RecordLeave(ctx context.Context, channel, participant string) ([]string, error)
}

// Options tunes the hub.
type Options struct {
	// HistorySize caps the per-channel history list.
	HistorySize int64
	// SendBuffer is the outbound queue size of each waiter.
	SendBuffer int
	// IdleTimeout retires a channel's reader after the channel has been
	// empty this long. Zero keeps readers for the hub's lifetime.
	IdleTimeout time.Duration
	// Now overrides the clock used for message timestamps.
	Now func() time.Time
}

// Hub is the channel registry. It owns every channel, every reader
// goroutine and tracks open sessions for shutdown.
type Hub struct {
	broker   Broker
	presence Presence
	opts     Options
	log      *zerolog.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool

	// taskMu guards readers.Go against a concurrent Wait.
	taskMu      sync.Mutex
	tasksClosed bool
	readers     errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc

	sessions sync.WaitGroup
	spawned  atomic.Int64
	live     atomic.Int64
}

// NewHub creates a hub over the given bus and presence tracker.
func NewHub(broker Broker, presence Presence, opts Options, logger *zerolog.Logger) *Hub {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 25
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		broker:   broker,
		presence: presence,
		opts:     opts,
		log:      logger,
		channels: make(map[string]*Channel),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Join adds w to the named channel, creating the channel if needed. It
// reports whether w is the channel's first waiter.
func (h *Hub) Join(name string, w *Waiter) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, ErrHubClosed
	}

	ch, ok := h.channels[name]
	if !ok {
		ch = NewChannel(name)
		h.channels[name] = ch
	}
	ch.stopIdle()
	return ch.AddWaiter(w), nil
}

// Leave removes w from the named channel.
func (h *Hub) Leave(name string, w *Waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[name]
	if !ok || !ch.RemoveWaiter(w) {
		return
	}

	if ch.Empty() && h.opts.IdleTimeout > 0 && !h.closed {
		ch.startIdle(h.opts.IdleTimeout, func() { h.retire(name, ch) })
	}
}

// EnsureReader starts the channel's bus reader unless one is already live.
// It reports whether a reader was spawned.
func (h *Hub) EnsureReader(ctx context.Context, name string) (bool, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, ErrHubClosed
	}
	ch, ok := h.channels[name]
	if !ok {
		ch = NewChannel(name)
		h.channels[name] = ch
	}
	h.mu.Unlock()

	ch.readerMu.Lock()
	defer ch.readerMu.Unlock()

	if ch.reader != nil {
		return false, nil
	}

	sub, err := h.broker.Subscribe(ctx, bus.Topic(name))
	if err != nil {
		return false, busError("subscribe", err)
	}

	rctx, cancel := context.WithCancel(h.ctx)
	r := newReader(ch, sub, cancel, h.log)

	h.taskMu.Lock()
	defer h.taskMu.Unlock()
	if h.tasksClosed {
		cancel()
		_ = sub.Close()
		return false, ErrHubClosed
	}

	ch.reader = r
	h.spawned.Add(1)
	h.live.Add(1)
	h.readers.Go(func() error {
		defer h.live.Add(-1)
		err := r.run(rctx)
		h.detach(ch, r)
		if err != nil {
			// The next EnsureReader on this channel subscribes again.
			h.log.Error().Err(err).Str("channel", name).Msg("reader failed, subscription released")
		}
		return nil
	})

	h.log.Info().Str("channel", name).Msg("open new channel")
	return true, nil
}

// detach clears the reader slot if r still occupies it.
func (h *Hub) detach(ch *Channel, r *reader) {
	ch.readerMu.Lock()
	defer ch.readerMu.Unlock()
	if ch.reader == r {
		ch.reader = nil
	}
}

// retire stops the reader of an idle channel and forgets the channel.
func (h *Hub) retire(name string, ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.channels[name] != ch || !ch.Empty() {
		return
	}
	delete(h.channels, name)
	ch.stopReader()

	h.log.Info().Str("channel", name).Msg("retired idle channel")
}

// Publish sends payload to the channel's topic and appends it to the
// channel's history.
func (h *Hub) Publish(ctx context.Context, name string, payload []byte) error {
	if err := h.broker.Publish(ctx, bus.Topic(name), payload); err != nil {
		return busError("publish", err)
	}
	if err := h.broker.AppendCapped(ctx, bus.HistoryKey(name), payload, h.opts.HistorySize); err != nil {
		return busError("append history", err)
	}
	return nil
}

func (h *Hub) publishSnapshot(ctx context.Context, name string, members []string) error {
	payload, err := EncodeSnapshot(members)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return h.Publish(ctx, name, payload)
}

// Channel returns the named channel, if known.
func (h *Hub) Channel(name string) (*Channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[name]
	return ch, ok
}

// ChannelCount returns the number of known channels.
func (h *Hub) ChannelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// LiveReaders returns the number of running reader goroutines.
func (h *Hub) LiveReaders() int64 {
	return h.live.Load()
}

// SpawnedReaders returns how many readers were started over the hub's life.
func (h *Hub) SpawnedReaders() int64 {
	return h.spawned.Load()
}

// Shutdown closes every waiter socket, waits for the sessions to finish
// their exit path, then cancels and awaits every reader. The bus must stay
// open until Shutdown returns.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	channels := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	closing := 0
	for _, ch := range channels {
		ch.stopIdle()
		for _, w := range ch.Waiters() {
			closing++
			go w.Close(ShutdownReason)
		}
	}
	h.log.Info().Int("channels", len(channels)).Int("connections", closing).Msg("closing connections")

	var err error
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("await sessions: %w", ctx.Err())
		h.log.Warn().Err(err).Msg("sessions still running at shutdown")
	}

	h.taskMu.Lock()
	h.tasksClosed = true
	h.taskMu.Unlock()

	h.cancel()
	_ = h.readers.Wait()
	h.log.Info().Msg("readers stopped")

	return err
}
