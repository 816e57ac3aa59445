// Package presence keeps per-channel membership in Redis sorted sets.
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/wirerelay/internal/bus"
)

// Tracker records joins and leaves and reads back the ordered membership.
type Tracker struct {
	rdb redis.Cmdable
}

// New builds a tracker over the bus command connection.
func New(rdb redis.Cmdable) *Tracker {
	return &Tracker{rdb: rdb}
}

// RecordJoin adds participant at the next join rank and returns the
// membership ordered by rank.
func (t *Tracker) RecordJoin(ctx context.Context, channel, participant string) ([]string, error) {
	rank, err := t.rdb.Incr(ctx, bus.RankKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("next rank: %w", err)
	}

	// An id that is already present is moved to the new rank.
	if err := t.rdb.ZAdd(ctx, bus.PresenceKey(channel), redis.Z{
		Score:  float64(rank),
		Member: participant,
	}).Err(); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	return t.Members(ctx, channel)
}

// RecordLeave removes participant and returns the remaining membership.
func (t *Tracker) RecordLeave(ctx context.Context, channel, participant string) ([]string, error) {
	if err := t.rdb.ZRem(ctx, bus.PresenceKey(channel), participant).Err(); err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}
	return t.Members(ctx, channel)
}

// Members returns the current membership ordered by join rank.
func (t *Tracker) Members(ctx context.Context, channel string) ([]string, error) {
	members, err := t.rdb.ZRange(ctx, bus.PresenceKey(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}
