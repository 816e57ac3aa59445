package core

import (
	"sync"

	"github.com/google/uuid"
)

// CloseFunc closes the underlying socket with a normal-closure status.
type CloseFunc func(reason string)

// Waiter is one connection registered to receive a channel's broadcasts.
type Waiter struct {
	ID          string
	Participant string
	Channel     string

	outbound  chan []byte
	done      chan struct{}
	closeFn   CloseFunc
	closeOnce sync.Once
}

// NewWaiter constructs a waiter with an outbound queue of the given size.
func NewWaiter(participant, channel string, buffer int, closeFn CloseFunc) *Waiter {
	if buffer <= 0 {
		buffer = 1
	}
	return &Waiter{
		ID:          uuid.NewString(),
		Participant: participant,
		Channel:     channel,
		outbound:    make(chan []byte, buffer),
		done:        make(chan struct{}),
		closeFn:     closeFn,
	}
}

// Outbound yields frames queued for the socket.
func (w *Waiter) Outbound() <-chan []byte {
	return w.outbound
}

// Done is closed once the waiter has been closed.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Closed reports whether Close has been called.
func (w *Waiter) Closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Deliver queues payload without blocking. It reports false when the
// waiter is closed or its queue is full.
func (w *Waiter) Deliver(payload []byte) bool {
	select {
	case <-w.done:
		return false
	default:
	}

	select {
	case w.outbound <- payload:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

// Close closes the socket exactly once.
func (w *Waiter) Close(reason string) {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.closeFn != nil {
			w.closeFn(reason)
		}
	})
}
