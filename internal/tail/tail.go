// Package tail prints a channel's history ring and follows new broadcasts.
// It is the external consumer of the history log; the relay never reads it.
package tail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vovakirdan/wirerelay/internal/bus"
)

// Source is the part of the bus the tailer reads from.
type Source interface {
	History(ctx context.Context, key string) ([]string, error)
	Subscribe(ctx context.Context, topic string) (bus.Subscription, error)
}

// Members lists current presence for a channel.
type Members interface {
	Members(ctx context.Context, channel string) ([]string, error)
}

// Tailer writes one JSON payload per line to out.
type Tailer struct {
	src     Source
	members Members
	out     io.Writer
}

// New builds a tailer.
func New(src Source, members Members, out io.Writer) *Tailer {
	return &Tailer{src: src, members: members, out: out}
}

// Run prints the membership and history of channel. With follow set it then
// streams new payloads until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context, channel string, follow bool) error {
	var sub bus.Subscription
	if follow {
		// Subscribe before reading history so nothing falls in between.
		s, err := t.src.Subscribe(ctx, bus.Topic(channel))
		if err != nil {
			return err
		}
		sub = s
		defer sub.Close()
	}

	members, err := t.members.Members(ctx, channel)
	if err != nil {
		return err
	}
	header, err := json.Marshal(struct {
		Channel string   `json:"channel"`
		Members []string `json:"members"`
	}{Channel: channel, Members: members})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.out, "# %s\n", header); err != nil {
		return err
	}

	history, err := t.src.History(ctx, bus.HistoryKey(channel))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	for _, entry := range history {
		if _, err := fmt.Fprintln(t.out, entry); err != nil {
			return err
		}
	}

	if sub == nil {
		return nil
	}

	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("follow %s: %w", channel, err)
		}
		if _, err := fmt.Fprintf(t.out, "%s\n", payload); err != nil {
			return err
		}
	}
}
