package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"secumsg/internal/events"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// outFrame is the server side of events.Frame; the payload is encoded in the
// same pass as the envelope.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// conn is one authenticated realtime session. It implements presence.Conn.
type conn struct {
	id           string
	userID       string
	ws           *websocket.Conn
	writeTimeout time.Duration
	ctx          context.Context
	alive        atomic.Bool
}

func newConn(ctx context.Context, ws *websocket.Conn, userID string, writeTimeout time.Duration) *conn {
	c := &conn{
		id:           uuid.NewString(),
		userID:       userID,
		ws:           ws,
		writeTimeout: writeTimeout,
		ctx:          ctx,
	}
	c.alive.Store(true)
	return c
}

func (c *conn) ID() string  { return c.id }
func (c *conn) Alive() bool { return c.alive.Load() }

// Send writes one event frame. A failed write marks the connection dead so
// the registry drops it on the next lookup.
func (c *conn) Send(event string, payload any) error {
	if !c.Alive() {
		return errClosed
	}
	ctx := c.ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, c.ws, outFrame{Event: event, Data: payload}); err != nil {
		c.alive.Store(false)
		return err
	}
	return nil
}

func (c *conn) read(ctx context.Context) (events.Frame, error) {
	var f events.Frame
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return events.Frame{}, errBadFrame{err}
	}
	return f, nil
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.alive.Store(false)
	_ = c.ws.Close(code, reason)
}

var errClosed = errors.New("connection closed")

type errBadFrame struct{ err error }

func (e errBadFrame) Error() string { return "malformed frame: " + e.err.Error() }
func (e errBadFrame) Unwrap() error { return e.err }
