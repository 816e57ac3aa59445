package core

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/bus"
)

// reader pulls payloads for one channel from the bus and fans them out to
// the channel's waiters. All local delivery for a channel goes through its
// reader, so waiters observe the bus order.
type reader struct {
	channel *Channel
	sub     bus.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	log     zerolog.Logger
}

func newReader(ch *Channel, sub bus.Subscription, cancel context.CancelFunc, logger *zerolog.Logger) *reader {
	return &reader{
		channel: ch,
		sub:     sub,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logger.With().Str("channel", ch.Name).Logger(),
	}
}

// run blocks until ctx is cancelled or the subscription fails. The
// subscription is released on every path.
func (r *reader) run(ctx context.Context) error {
	defer close(r.done)
	defer func() {
		if err := r.sub.Close(); err != nil {
			r.log.Warn().Err(err).Msg("release subscription")
		}
	}()

	// Next does not observe ctx while blocked on the socket.
	stop := context.AfterFunc(ctx, func() { _ = r.sub.Close() })
	defer stop()

	r.log.Info().Msg("reader started")
	for {
		payload, err := r.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info().Msg("reader stopped")
				return nil
			}
			return busError("receive", err)
		}

		if !json.Valid(payload) {
			r.log.Warn().Int("bytes", len(payload)).Msg("dropping malformed bus payload")
			continue
		}

		if dropped := r.channel.Broadcast(payload); dropped > 0 {
			r.log.Warn().Int("dropped", dropped).Msg("slow waiters missed a frame")
		} else {
			r.log.Debug().Int("bytes", len(payload)).Msg("fan out")
		}
	}
}

// stop cancels the reader and waits for it to exit.
func (r *reader) stop() {
	r.cancel()
	<-r.done
}
