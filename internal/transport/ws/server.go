// Package ws serves the realtime channel: one authenticated websocket per
// user carrying JSON event frames in both directions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/broadcast"
	"secumsg/internal/delivery"
	"secumsg/internal/domain"
	"secumsg/internal/events"
	"secumsg/internal/messaging"
	"secumsg/internal/observability/metrics"
	"secumsg/internal/presence"

	"github.com/coder/websocket"
)

const (
	defaultReadLimit    = 10 << 20
	defaultWriteTimeout = 10 * time.Second
)

type Deps struct {
	Verifier    authz.Verifier
	Registry    *presence.Registry
	Router      *delivery.Router
	Messages    *messaging.Manager
	Broadcaster *broadcast.Broadcaster

	ReadLimit      int64
	WriteTimeout   time.Duration
	OriginPatterns []string
}

type Server struct {
	d   Deps
	log *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.ReadLimit <= 0 {
		d.ReadLimit = defaultReadLimit
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = defaultWriteTimeout
	}
	return &Server{d: d, log: slog.Default()}
}

// ServeHTTP authenticates the upgrade request, registers the connection and
// runs its read loop until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	userID, err := s.d.Verifier.Verify(r.Context(), token)
	if err != nil {
		s.log.Warn("realtime auth failed", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err, "user_id", userID)
		return
	}
	wsConn.SetReadLimit(s.d.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ctx, wsConn, userID, s.d.WriteTimeout)
	if prev := s.d.Registry.Register(userID, c); prev != nil {
		if old, ok := prev.(*conn); ok {
			// The close handshake waits on the old peer; do not hold up this one.
			go old.close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}
	}
	metrics.RealtimeConnections.Set(float64(s.d.Registry.Online()))
	s.log.Info("client connected", "user_id", userID, "conn_id", c.ID())

	defer func() {
		c.close(websocket.StatusNormalClosure, "")
		s.d.Registry.Unregister(userID, c)
		metrics.RealtimeConnections.Set(float64(s.d.Registry.Online()))
		s.d.Broadcaster.Disconnected(userID)
		s.log.Info("client disconnected", "user_id", userID, "conn_id", c.ID())
	}()

	_ = c.Send(events.Connected, events.ConnectedPayload{UserID: userID, Message: "connected"})
	s.d.Broadcaster.Connected(ctx, userID)

	for {
		f, err := c.read(ctx)
		var bad errBadFrame
		switch {
		case errors.As(err, &bad):
			s.reject(c, "", fmt.Errorf("%w: %v", domain.ErrInvalidRequest, bad))
			continue
		case err != nil:
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Debug("client closed", "user_id", userID, "status", status)
			} else if ctx.Err() == nil {
				s.log.Info("realtime read ended", "user_id", userID, "error", err)
			}
			return
		}
		s.dispatch(ctx, c, f)
	}
}

func (s *Server) originPatterns() []string {
	out := make([]string, 0, len(s.d.OriginPatterns))
	for _, o := range s.d.OriginPatterns {
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (s *Server) dispatch(ctx context.Context, c *conn, f events.Frame) {
	var err error
	label := f.Event
	switch f.Event {
	case events.MessageSend:
		err = s.onSend(ctx, c, f.Data)
	case events.MessageDelivered:
		var req events.DeliveredAck
		if err = decode(f.Data, &req); err == nil {
			err = s.d.Messages.ConfirmDelivered(ctx, c.userID, req)
		}
	case events.MessageStatus:
		var req events.StatusChange
		if err = decode(f.Data, &req); err == nil {
			_, err = s.d.Messages.UpdateStatus(ctx, c.userID, req)
		}
	case events.MessageDelete:
		err = s.onDelete(ctx, c, f.Data)
	case events.Typing:
		err = s.onTyping(c, f.Data)
	case events.RequestUserStatus:
		var req events.UserStatusRequest
		if err = decode(f.Data, &req); err == nil {
			err = s.onUserStatus(c, req)
		}
	default:
		label = "unknown"
		err = fmt.Errorf("%w: unknown event %q", domain.ErrInvalidRequest, f.Event)
	}

	metrics.RealtimeEventsTotal.WithLabelValues(label, metrics.Result(err)).Inc()
	if err != nil {
		s.reject(c, f.Event, err)
	}
}

func (s *Server) onSend(ctx context.Context, c *conn, data json.RawMessage) error {
	var req events.SendMessage
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := s.d.Messages.Send(ctx, c.userID, req, func(ack events.SentAck) {
		_ = c.Send(events.MessageSent, ack)
	})
	return err
}

func (s *Server) onDelete(ctx context.Context, c *conn, data json.RawMessage) error {
	var req events.DeleteRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	switch req.DeleteFor {
	case events.DeleteForEveryone:
		return s.d.Messages.DeleteForEveryone(ctx, c.userID, req.MessageID)
	case events.DeleteForRecipient:
		return s.d.Messages.DeleteForRecipient(ctx, c.userID, req.MessageID)
	default:
		return fmt.Errorf("%w: deleteFor must be everyone or recipient", domain.ErrInvalidRequest)
	}
}

func (s *Server) onTyping(c *conn, data json.RawMessage) error {
	var req events.TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RecipientID == "" {
		return fmt.Errorf("%w: missing recipientId", domain.ErrInvalidRequest)
	}
	s.d.Router.Notify(req.RecipientID, events.Typing, events.TypingPayload{SenderID: c.userID, IsTyping: req.IsTyping})
	return nil
}

func (s *Server) onUserStatus(c *conn, req events.UserStatusRequest) error {
	if req.TargetUserID == "" {
		return fmt.Errorf("%w: missing targetUserId", domain.ErrInvalidRequest)
	}
	return c.Send(events.UserStatus, events.UserStatusPayload{
		UserID:   req.TargetUserID,
		IsOnline: s.d.Router.IsOnline(req.TargetUserID),
	})
}

// reject reports a failed client event. The connection stays open.
func (s *Server) reject(c *conn, event string, err error) {
	code := domain.Code(err)
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
		s.log.Error("realtime event failed", "event", event, "user_id", c.userID, "error", err)
	} else {
		s.log.Debug("realtime event rejected", "event", event, "user_id", c.userID, "code", code, "error", err)
	}
	_ = c.Send(events.Error, events.ErrorPayload{Event: event, Code: code, Message: msg})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}
