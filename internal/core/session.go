package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// SessionState is the lifecycle stage of a connection.
type SessionState int32

const (
	// StateConnecting is the state before the session joined its channel.
	StateConnecting SessionState = iota
	// StateOpen accepts inbound frames.
	StateOpen
	// StateClosing runs the exit path.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session drives one connection through join, relay and leave.
type Session struct {
	hub    *Hub
	waiter *Waiter
	log    zerolog.Logger

	state     atomic.Int32
	joined    bool
	closeOnce sync.Once
}

// NewSession registers a session for participant on channel. closeFn is
// invoked exactly once to close the socket.
func (h *Hub) NewSession(participant, channel string, closeFn CloseFunc) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.sessions.Add(1)

	w := NewWaiter(participant, channel, h.opts.SendBuffer, closeFn)
	return &Session{
		hub:    h,
		waiter: w,
		log: h.log.With().
			Str("uuid", participant).
			Str("channel", channel).
			Str("conn_id", w.ID).
			Logger(),
	}, nil
}

// Waiter returns the connection's waiter.
func (s *Session) Waiter() *Waiter {
	return s.waiter
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Logger returns the session's contextual logger.
func (s *Session) Logger() *zerolog.Logger {
	return &s.log
}

// Open joins the channel, makes sure the channel has a reader, records
// presence and broadcasts the membership snapshot.
func (s *Session) Open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return ErrSessionClosed
	}

	name := s.waiter.Channel
	isNew, err := s.hub.Join(name, s.waiter)
	if err != nil {
		return err
	}
	s.joined = true
	s.log.Info().Bool("new", isNew).Msg("handle")

	if _, err := s.hub.EnsureReader(ctx, name); err != nil {
		return err
	}

	members, err := s.hub.presence.RecordJoin(ctx, name, s.waiter.Participant)
	if err != nil {
		return busError("presence join", err)
	}
	return s.hub.publishSnapshot(ctx, name, members)
}

// HandleText relays one inbound text frame. A *ProtocolError means only
// this frame was rejected.
func (s *Session) HandleText(ctx context.Context, data []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	env.Stamp(s.waiter.Participant, s.hub.opts.Now())

	payload, err := env.Encode()
	if err != nil {
		return protocolError(ReasonMalformedJSON, err)
	}

	// Re-subscribes if the channel's reader died on a bus error.
	if _, err := s.hub.EnsureReader(ctx, s.waiter.Channel); err != nil {
		return err
	}
	return s.hub.Publish(ctx, s.waiter.Channel, payload)
}

// Close runs the exit path once: leave the channel, close the socket,
// record the leave and broadcast the remaining membership.
func (s *Session) Close(ctx context.Context, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		defer func() {
			s.state.Store(int32(StateClosed))
			s.hub.sessions.Done()
		}()

		name := s.waiter.Channel
		if s.joined {
			s.hub.Leave(name, s.waiter)
		}
		s.waiter.Close(reason)

		if !s.joined {
			return
		}

		members, err := s.hub.presence.RecordLeave(ctx, name, s.waiter.Participant)
		if err != nil {
			s.log.Error().Err(busError("presence leave", err)).Msg("exit path")
			return
		}
		if err := s.hub.publishSnapshot(ctx, name, members); err != nil {
			s.log.Error().Err(err).Msg("exit path")
			return
		}
		s.log.Info().Msg("left channel")
	})
}
