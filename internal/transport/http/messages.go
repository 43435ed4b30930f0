package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/dto"
	"secumsg/internal/events"
	"secumsg/internal/messaging"
	"secumsg/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type messagesHandler struct {
	mgr *messaging.Manager
}

// send is the HTTP fallback for message:send. A missing messageId is
// generated server side.
func (h *messagesHandler) send(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	userID := subject(r)

	var req dto.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	in := events.SendMessage{
		MessageID:          req.MessageID,
		RecipientID:        req.RecipientID,
		EncryptedType:      req.EncryptedType,
		EncryptedBody:      req.EncryptedBody,
		VisibilityDuration: req.VisibilityDuration,
	}
	if a := req.Attachment; a != nil {
		in.Attachment = &events.Attachment{Data: a.Data, Type: a.Type, Name: a.Name, MimeType: a.MimeType}
	}
	ack, err := h.mgr.Send(r.Context(), userID, in, nil)
	if err != nil {
		status := writeError(w, err)
		slog.Warn("message send failed", "error", err, "status", status, "sender_id", userID, "request_id", reqID)
		return
	}
	writeJSON(w, http.StatusCreated, dto.SendMessageResponse{MessageID: ack.MessageID, Delivered: ack.Delivered, Timestamp: ack.Timestamp})
}

func (h *messagesHandler) conversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		limit = n
	}
	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: before must be RFC 3339", domain.ErrInvalidRequest))
			return
		}
		t = t.UTC()
		before = &t
	}

	res, err := h.mgr.Conversation(r.Context(), subject(r), chi.URLParam(r, "peerId"), before, limit)
	if err != nil {
		writeError(w, err)
		slog.Warn("conversation fetch failed", "error", err, "user_id", subject(r), "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *messagesHandler) hideConversation(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.HideConversation(r.Context(), subject(r), chi.URLParam(r, "peerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *messagesHandler) stats(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.Stats(r.Context(), subject(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *messagesHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID := subject(r)
	messageID := chi.URLParam(r, "messageId")

	var req dto.DeleteMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var err error
	switch events.DeleteScope(req.DeleteFor) {
	case events.DeleteForEveryone:
		err = h.mgr.DeleteForEveryone(r.Context(), userID, messageID)
	case events.DeleteForRecipient:
		err = h.mgr.DeleteForRecipient(r.Context(), userID, messageID)
	default:
		err = fmt.Errorf("%w: deleteFor must be everyone or recipient", domain.ErrInvalidRequest)
	}
	if err != nil {
		status := writeError(w, err)
		slog.Warn("message delete failed", "error", err, "status", status, "message_id", messageID, "user_id", userID)
		return
	}
	writeJSON(w, http.StatusOK, events.Deleted{MessageID: messageID, DeletedFor: events.DeleteScope(req.DeleteFor)})
}

func (h *messagesHandler) status(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")

	var req dto.UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := h.mgr.UpdateStatus(r.Context(), subject(r), events.StatusChange{MessageID: messageID, Status: req.Status})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UpdateStatusResponse{MessageID: messageID, Status: string(status)})
}
