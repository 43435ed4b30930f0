package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"secumsg/internal/events"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const readLimit = 32 << 20

// Realtime is an open event channel to the relay.
type Realtime struct {
	ws *websocket.Conn
}

// Dial opens the realtime channel. The base URL may use http(s) or ws(s).
func (c *Client) Dial(ctx context.Context) (*Realtime, error) {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	// Dial bounds the handshake with ctx; a client-level timeout would also
	// cut the upgraded connection.
	hc := *c.http
	hc.Timeout = 0
	ws, _, err := websocket.Dial(ctx, u+"/v1/ws", &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + c.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("relayclient: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)
	return &Realtime{ws: ws}, nil
}

// Emit sends one client event.
func (r *Realtime) Emit(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, r.ws, events.Frame{Event: event, Data: raw})
}

// Next blocks for the next server event.
func (r *Realtime) Next(ctx context.Context) (events.Frame, error) {
	var f events.Frame
	if err := wsjson.Read(ctx, r.ws, &f); err != nil {
		return events.Frame{}, err
	}
	return f, nil
}

// Await reads until event arrives and decodes its payload into out, which
// may be nil. Other events are discarded.
func (r *Realtime) Await(ctx context.Context, event string, out any) error {
	for {
		f, err := r.Next(ctx)
		if err != nil {
			return err
		}
		if f.Event == events.Error && event != events.Error {
			var ep events.ErrorPayload
			_ = json.Unmarshal(f.Data, &ep)
			return fmt.Errorf("relayclient: %s rejected: %s: %s", ep.Event, ep.Code, ep.Message)
		}
		if f.Event != event {
			continue
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(f.Data, out)
	}
}

func (r *Realtime) Close() error {
	return r.ws.Close(websocket.StatusNormalClosure, "")
}
