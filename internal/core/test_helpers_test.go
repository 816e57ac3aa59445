package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/bus"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

// fakeBroker is an in-memory bus with per-topic ordered delivery.
type fakeBroker struct {
	mu         sync.Mutex
	subs       map[string]map[*fakeSub]struct{}
	history    map[string][][]byte
	published  int
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:    make(map[string]map[*fakeSub]struct{}),
		history: make(map[string][][]byte),
	}
}

func (b *fakeBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published++
	for s := range b.subs[topic] {
		s.msgs <- payload
	}
	return nil
}

func (b *fakeBroker) AppendCapped(_ context.Context, key string, payload []byte, limit int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.history[key], payload)
	if int64(len(list)) > limit {
		list = list[int64(len(list))-limit:]
	}
	b.history[key] = list
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, topic string) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSub{
		broker: b,
		topic:  topic,
		msgs:   make(chan []byte, 1024),
		failed: make(chan error, 1),
		closed: make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*fakeSub]struct{})
	}
	b.subs[topic][s] = struct{}{}
	return s, nil
}

func (b *fakeBroker) subscriptions(topic string) []*fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*fakeSub, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		out = append(out, s)
	}
	return out
}

func (b *fakeBroker) historyOf(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.history[bus.HistoryKey(channel)]...)
}

func (b *fakeBroker) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

type fakeSub struct {
	broker    *fakeBroker
	topic     string
	msgs      chan []byte
	failed    chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case err := <-s.failed:
		return nil, err
	case <-s.closed:
		return nil, bus.ErrClosed
	}
}

func (s *fakeSub) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.broker.mu.Lock()
		delete(s.broker.subs[s.topic], s)
		s.broker.mu.Unlock()
	})
	return nil
}

func (s *fakeSub) fail(err error) {
	s.failed <- err
}

// fakePresence mirrors the sorted-set tracker in memory.
type fakePresence struct {
	mu    sync.Mutex
	rank  map[string]int
	ranks map[string]map[string]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		rank:  make(map[string]int),
		ranks: make(map[string]map[string]int),
	}
}

func (p *fakePresence) RecordJoin(_ context.Context, channel, participant string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rank[channel]++
	if p.ranks[channel] == nil {
		p.ranks[channel] = make(map[string]int)
	}
	p.ranks[channel][participant] = p.rank[channel]
	return p.membersLocked(channel), nil
}

func (p *fakePresence) RecordLeave(_ context.Context, channel, participant string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ranks[channel], participant)
	return p.membersLocked(channel), nil
}

func (p *fakePresence) members(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.membersLocked(channel)
}

func (p *fakePresence) membersLocked(channel string) []string {
	out := make([]string, 0, len(p.ranks[channel]))
	for id := range p.ranks[channel] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return p.ranks[channel][out[i]] < p.ranks[channel][out[j]]
	})
	return out
}

func newTestHub(t *testing.T, opts Options) (*Hub, *fakeBroker, *fakePresence) {
	t.Helper()

	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	logger := zerolog.Nop()
	broker := newFakeBroker()
	presence := newFakePresence()
	hub := NewHub(broker, presence, opts, &logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return hub, broker, presence
}

// testConn stands in for a socket: closing it ends the session the way a
// transport read loop would.
type testConn struct {
	session *Session
	reasons chan string
}

func openSession(t *testing.T, hub *Hub, participant, channel string) *testConn {
	t.Helper()

	tc := &testConn{reasons: make(chan string, 1)}
	sess, err := hub.NewSession(participant, channel, func(reason string) {
		tc.reasons <- reason
		go tc.session.Close(context.Background(), reason)
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	tc.session = sess

	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("open session %s/%s: %v", participant, channel, err)
	}
	return tc
}

func (tc *testConn) waiter() *Waiter {
	return tc.session.Waiter()
}

func mustFrame(t *testing.T, w *Waiter) map[string]any {
	t.Helper()

	select {
	case payload := <-w.Outbound():
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("frame is not a json object: %q", payload)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("expected frame for %s not received", w.Participant)
		return nil
	}
}

func mustNoFrame(t *testing.T, w *Waiter) {
	t.Helper()

	select {
	case payload := <-w.Outbound():
		t.Fatalf("unexpected frame for %s: %s", w.Participant, payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func mustSnapshot(t *testing.T, w *Waiter, want ...string) {
	t.Helper()

	frame := mustFrame(t, w)
	raw, ok := frame["uuids"].([]any)
	if !ok {
		t.Fatalf("expected membership snapshot, got %v", frame)
	}
	got := make([]string, 0, len(raw))
	for _, v := range raw {
		got = append(got, v.(string))
	}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

var errBusDown = errors.New("connection reset")

func asBusError(err error, target **BusError) bool {
	return errors.As(err, target)
}
