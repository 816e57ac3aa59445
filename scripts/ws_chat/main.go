package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:9999", "relay base address")
	user := flag.String("user", "cli-user", "participant id")
	channel := flag.String("channel", "general", "channel to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	url := fmt.Sprintf("%s/realtime/%s/%s/", strings.TrimRight(*base, "/"), *user, *channel)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s\n", url, *user)
	fmt.Println("Type a JSON object or plain text and press Enter. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				var ce websocket.CloseError
				if errors.As(err, &ce) && ce.Reason != "" {
					fmt.Printf("connection closed: %s\n", ce.Reason)
				}
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if uuids, ok := frame["uuids"]; ok {
			fmt.Printf("* online: %v\n", uuids)
			continue
		}

		from, _ := frame["uuid"].(string)
		at, _ := frame["time"].(string)
		delete(frame, "uuid")
		delete(frame, "time")
		if text, ok := frame["text"].(string); ok && len(frame) == 1 {
			fmt.Printf("[%s] %s: %s\n", at, from, text)
			continue
		}
		body, _ := json.Marshal(frame)
		fmt.Printf("[%s] %s: %s\n", at, from, body)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			payload := []byte(text)
			if !strings.HasPrefix(text, "{") {
				var err error
				if payload, err = json.Marshal(map[string]string{"text": text}); err != nil {
					log.Printf("marshal msg: %v", err)
					return
				}
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
