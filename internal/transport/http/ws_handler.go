package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
)

// exitTimeout bounds the leave path once the socket is gone.
const exitTimeout = 5 * time.Second

// WSHandler upgrades realtime requests and drives a core.Session per socket.
type WSHandler struct {
	hub          *core.Hub
	log          *zerolog.Logger
	readLimit    int64
	writeTimeout time.Duration
	rateLimit    int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:          hub,
		log:          logger,
		readLimit:    cfg.MaxMessageBytes,
		writeTimeout: cfg.WriteTimeout,
		rateLimit:    cfg.RateLimitPerMinute,
	}
}

// ServeHTTP serves GET /realtime/{uuid}/{channel}/.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	participant := r.PathValue("uuid")
	channel := r.PathValue("channel")
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("uuid", participant).Str("channel", channel).Msg("ws accept error")
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	sess, err := h.hub.NewSession(participant, channel, func(reason string) {
		if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
			h.log.Debug().Err(err).Str("uuid", participant).Str("channel", channel).Msg("ws close")
		}
	})
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, core.ShutdownReason)
		return
	}
	log := sess.Logger()

	reason := "closing"
	defer func() {
		exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exitTimeout)
		defer cancel()
		sess.Close(exitCtx, reason)
	}()

	if err := sess.Open(ctx); err != nil {
		reason = openFailureReason(err)
		log.Warn().Err(err).Str("reason", reason).Msg("open session")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := h.writeLoop(ctx, conn, sess.Waiter()); err != nil {
			log.Warn().Err(err).Msg("write ws frame")
			cancel()
		}
	}()

	err = h.readLoop(ctx, conn, sess)
	cancel()
	<-writeDone

	switch status := websocket.CloseStatus(err); {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Debug().Int("status", int(status)).Msg("ws closed by peer")
	default:
		var be *core.BusError
		if errors.As(err, &be) {
			reason = "internal error"
			log.Error().Err(err).Msg("ws connection closed with bus error")
			return
		}
		log.Warn().Err(err).Msg("ws connection closed with error")
	}
}

// openFailureReason picks the close reason for a session that could not join.
func openFailureReason(err error) string {
	if errors.Is(err, core.ErrHubClosed) {
		return core.ShutdownReason
	}
	return "internal error"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session) error {
	log := sess.Logger()

	limiter := newRateLimiter(h.rateLimit)
	stop := make(chan struct{})
	defer close(stop)
	limiter.startReset(stop)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			log.Warn().Err(&core.ProtocolError{Reason: core.ReasonBinaryFrame}).Msg("dropping frame")
			continue
		}
		if !limiter.allow() {
			log.Warn().Err(&core.ProtocolError{Reason: core.ReasonRateLimited}).Msg("dropping frame")
			continue
		}

		log.Debug().Int("bytes", len(data)).Msg("inbound frame")
		if err := sess.HandleText(ctx, data); err != nil {
			if core.IsProtocolError(err) {
				log.Warn().Err(err).Msg("dropping frame")
				continue
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, w *core.Waiter) error {
	for {
		select {
		case payload := <-w.Outbound():
			wctx := ctx
			var cancel context.CancelFunc = func() {}
			if h.writeTimeout > 0 {
				wctx, cancel = context.WithTimeout(ctx, h.writeTimeout)
			}
			err := conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		case <-w.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
