package core

import (
	"sync"
	"time"
)

// Channel groups the waiters subscribed to the same name.
type Channel struct {
	Name string

	mu      sync.RWMutex
	waiters map[*Waiter]struct{}

	// readerMu serializes reader creation and retirement.
	readerMu sync.Mutex
	reader   *reader

	idleMu    sync.Mutex
	idleTimer *time.Timer
}

// NewChannel constructs a channel with no waiters.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		waiters: make(map[*Waiter]struct{}),
	}
}

// AddWaiter inserts a waiter. It reports whether the channel was empty before.
func (c *Channel) AddWaiter(w *Waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasEmpty := len(c.waiters) == 0
	c.waiters[w] = struct{}{}
	return wasEmpty
}

// RemoveWaiter deletes a waiter. Returns true if removed.
func (c *Channel) RemoveWaiter(w *Waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.waiters[w]; !exists {
		return false
	}
	delete(c.waiters, w)
	return true
}

// Waiters returns a snapshot of the current waiter set.
func (c *Channel) Waiters() []*Waiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Waiter, 0, len(c.waiters))
	for w := range c.waiters {
		out = append(out, w)
	}
	return out
}

// Len returns the number of waiters.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waiters)
}

// Empty returns true if no waiters are in the channel.
func (c *Channel) Empty() bool {
	return c.Len() == 0
}

// Broadcast queues payload on every waiter in a snapshot of the set and
// returns how many open waiters dropped it for a full queue.
func (c *Channel) Broadcast(payload []byte) (dropped int) {
	for _, w := range c.Waiters() {
		if !w.Deliver(payload) && !w.Closed() {
			dropped++
		}
	}
	return dropped
}

// HasReader reports whether a live reader is attached.
func (c *Channel) HasReader() bool {
	c.readerMu.Lock()
	defer c.readerMu.Unlock()
	return c.reader != nil
}

// startIdle arms the retirement timer, replacing any previous one.
func (c *Channel) startIdle(d time.Duration, fn func()) {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(d, fn)
}

func (c *Channel) stopIdle() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// stopReader detaches and stops the live reader, if any.
func (c *Channel) stopReader() {
	c.readerMu.Lock()
	r := c.reader
	c.reader = nil
	c.readerMu.Unlock()

	if r != nil {
		r.stop()
	}
}
