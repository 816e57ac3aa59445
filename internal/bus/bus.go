// Package bus wraps the Redis backplane used by the relay.
//
// Two clients are held: one for commands and one reserved for
// subscriptions, since a connection in subscribed state cannot issue
// regular commands.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by a subscription that was closed locally.
var ErrClosed = errors.New("bus: subscription closed")

// Options configures the Redis connections.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Bus holds the command and subscription connections.
type Bus struct {
	cmd *redis.Client
	sub *redis.Client
	log *zerolog.Logger
}

// Subscription delivers payloads published on a single topic.
type Subscription interface {
	// Next blocks until a payload arrives or the subscription fails.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Open connects both clients and verifies them with PING.
func Open(ctx context.Context, opts Options, logger *zerolog.Logger) (*Bus, error) {
	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: opts.DialTimeout,
		})
	}

	b := &Bus{
		cmd: newClient(),
		sub: newClient(),
		log: logger,
	}

	if err := b.cmd.Ping(ctx).Err(); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ping command connection: %w", err)
	}
	if err := b.sub.Ping(ctx).Err(); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ping subscription connection: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("bus connected")
	return b, nil
}

// Commands exposes the command connection for data-structure helpers.
func (b *Bus) Commands() redis.Cmdable {
	return b.cmd
}

// Publish sends payload to every subscriber of topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.cmd.Publish(ctx, topic, payload).Err()
}

// AppendCapped pushes payload to the tail of the list at key and trims it
// to the newest limit entries.
func (b *Bus) AppendCapped(ctx context.Context, key string, payload []byte, limit int64) error {
	_, err := b.cmd.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -limit, -1)
		return nil
	})
	return err
}

// History returns the list at key, oldest first.
func (b *Bus) History(ctx context.Context, key string) ([]string, error) {
	return b.cmd.LRange(ctx, key, 0, -1).Result()
}

// Subscribe opens a subscription on topic. It returns once Redis has
// confirmed the subscription, so messages published afterwards are seen.
func (b *Bus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.sub.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &redisSubscription{ps: ps, topic: topic}, nil
}

// Close releases both connections.
func (b *Bus) Close() error {
	err := errors.Join(b.sub.Close(), b.cmd.Close())
	if err != nil {
		b.log.Warn().Err(err).Msg("bus close")
		return err
	}
	b.log.Info().Msg("bus closed")
	return nil
}

type redisSubscription struct {
	ps    *redis.PubSub
	topic string
}

func (s *redisSubscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
