package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/eventgate/internal/dispatcher"
	"github.com/adred-codev/eventgate/internal/registry"
)

// WS connection timing, grounded on ws/internal/shared/server.go's
// writeWait/pongWait/pingPeriod constants.
const (
	writeWait        = 5 * time.Second
	pongWait         = 30 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	sendQueueSize    = 256
	authReadDeadline = 10 * time.Second
)

// clientMessage is the wire shape of frames a client sends. The first
// frame on a connection must be type "auth"; every frame after that is
// type "message" and carries an arbitrary payload to be dispatched.
type clientMessage struct {
	Type     string         `json:"type"`
	Token    string         `json:"token,omitempty"`
	Subjects []string       `json:"subjects,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errAuthFrameRequired = errors.New("first frame must be type=auth")

// wsTransport upgrades HTTP connections to WebSocket and pumps frames
// through a dispatcher.Session, grounded on ws/internal/shared's
// handleWebSocket/readPump/writePump split (gobwas/ws + wsutil).
type wsTransport struct {
	dispatcher *dispatcher.Dispatcher
	logger     zerolog.Logger
}

func newWSTransport(d *dispatcher.Dispatcher, logger zerolog.Logger) *wsTransport {
	return &wsTransport{dispatcher: d, logger: logger}
}

func (t *wsTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		t.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sender := registry.NewChannelSender(sendQueueSize)
	traceparent := r.Header.Get("Traceparent")
	sess := t.dispatcher.NewSession(sender, traceparent)

	go t.writePump(conn, sender)
	t.readPump(conn, sess)
}

// readPump authenticates on the first frame, dispatches every frame after,
// and always closes the session on exit, mirroring the teacher's single
// defer-driven disconnect path (ws/internal/shared/pump_read.go).
func (t *wsTransport) readPump(conn net.Conn, sess *dispatcher.Session) {
	ctx := context.Background()
	defer sess.Close(ctx)
	defer conn.Close()

	if err := t.authenticate(ctx, conn, sess); err != nil {
		t.logger.Debug().Err(err).Str("connection_id", sess.ID()).Msg("session authentication failed")
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			var frame clientMessage
			if err := json.Unmarshal(msg, &frame); err != nil {
				t.writeError(conn, "BAD_REQUEST", "invalid json frame")
				continue
			}
			if err := sess.HandleMessage(ctx, frame.Payload); err != nil {
				t.logger.Debug().Err(err).Str("connection_id", sess.ID()).Msg("handle message failed")
				return
			}
		case ws.OpClose:
			return
		}
	}
}

// authenticate blocks for up to authReadDeadline waiting for the session's
// first frame, which must be {"type":"auth", ...}.
func (t *wsTransport) authenticate(ctx context.Context, conn net.Conn, sess *dispatcher.Session) error {
	conn.SetReadDeadline(time.Now().Add(authReadDeadline))

	msg, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		return err
	}

	var frame clientMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.writeError(conn, "BAD_REQUEST", "first frame must be valid json")
		return err
	}
	if frame.Type != "auth" {
		t.writeError(conn, "UNAUTHENTICATED", "first frame must be type=auth")
		return errAuthFrameRequired
	}
	return sess.Authenticate(ctx, frame.Token, frame.Subjects)
}

func (t *wsTransport) writeError(conn net.Conn, code, message string) {
	frame, err := json.Marshal(errorFrame{Type: "error", Code: code, Message: message})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = wsutil.WriteServerMessage(conn, ws.OpText, frame)
}

// writePump batches outbound frames off the session's send queue,
// reducing write syscalls on hot connections, grounded on
// ws/internal/shared/pump_write.go's bufio-batched writer.
func (t *wsTransport) writePump(conn net.Conn, sender *registry.ChannelSender) {
	writer := bufio.NewWriter(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	frames := sender.Frames()
	for {
		select {
		case <-sender.Closed():
			_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
			return
		case frame := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
				return
			}
			n := len(frames)
			for i := 0; i < n; i++ {
				if err := wsutil.WriteServerMessage(writer, ws.OpText, <-frames); err != nil {
					return
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
