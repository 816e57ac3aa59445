package tail

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirerelay/internal/bus"
	"github.com/vovakirdan/wirerelay/internal/presence"
)

func openBus(t *testing.T) (*bus.Bus, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	logger := zerolog.Nop()
	b, err := bus.Open(context.Background(), bus.Options{Addr: mr.Addr(), DialTimeout: time.Second}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestRunPrintsMembersAndHistory(t *testing.T) {
	b, mr := openBus(t)
	ctx := context.Background()

	tracker := presence.New(b.Commands())
	_, err := tracker.RecordJoin(ctx, "room1", "u1")
	require.NoError(t, err)

	_, err = mr.RPush(bus.HistoryKey("room1"), `{"uuids":["u1"]}`, `{"hello":"x","uuid":"u1"}`)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, New(b, tracker, &out).Run(ctx, "room1", false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		`# {"channel":"room1","members":["u1"]}`,
		`{"uuids":["u1"]}`,
		`{"hello":"x","uuid":"u1"}`,
	}, lines)
}

func TestRunFollowsUntilCancelled(t *testing.T) {
	b, _ := openBus(t)
	tracker := presence.New(b.Commands())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- New(b, tracker, pw).Run(runCtx, "room1", true)
		pw.Close()
	}()

	scanner := bufio.NewScanner(pr)
	require.True(t, scanner.Scan())
	require.Equal(t, `# {"channel":"room1","members":[]}`, scanner.Text())

	require.NoError(t, b.Publish(ctx, bus.Topic("room1"), []byte(`{"live":1}`)))
	require.True(t, scanner.Scan())
	require.Equal(t, `{"live":1}`, scanner.Text())

	stop()
	go func() {
		for scanner.Scan() {
		}
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("tail did not stop")
	}
}
