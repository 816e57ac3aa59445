package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run joins a channel, sends one message and waits for the relay to echo it
// back with attribution.
func run() error {
	base := flag.String("addr", "ws://localhost:9999", "relay base address")
	user := flag.String("user", "tester", "participant id")
	channel := flag.String("channel", "general", "channel name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := fmt.Sprintf("%s/realtime/%s/%s/", strings.TrimRight(*base, "/"), *user, *channel)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, map[string]string{"text": *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if uuids, ok := frame["uuids"]; ok {
			fmt.Printf("Membership: %v\n", uuids)
			continue
		}
		if frame["uuid"] == *user && frame["text"] == *text {
			fmt.Printf("Relayed: text=%q uuid=%v time=%v\n", *text, frame["uuid"], frame["time"])
			return nil
		}
		fmt.Printf("Other frame: %v\n", frame)
	}
}
