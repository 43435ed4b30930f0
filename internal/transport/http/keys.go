package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/dto"
	"secumsg/internal/keys"
	"secumsg/internal/observability/metrics"
	"secumsg/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
)

type keysHandler struct {
	svc *keys.Service
}

func (h *keysHandler) upload(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())
	userID := subject(r)

	var req dto.UploadBundleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		metrics.BundleUploadsTotal.WithLabelValues("failure").Inc()
		slog.Warn("bundle upload decode failed", "error", err, "user_id", userID, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := h.svc.Upload(r.Context(), userID, req)
	if err != nil {
		status := writeError(w, err)
		metrics.BundleUploadsTotal.WithLabelValues("failure").Inc()
		slog.Warn("bundle upload failed", "error", err, "status", status, "user_id", userID, "request_id", reqID, "trace_id", traceID)
		return
	}
	metrics.BundleUploadsTotal.WithLabelValues(string(res.Kind)).Inc()

	status := http.StatusOK
	if res.Kind == dto.UploadCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *keysHandler) bundle(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())
	target := chi.URLParam(r, "userId")

	res, err := h.svc.ConsumeOne(r.Context(), target)
	if err != nil {
		status := writeError(w, err)
		result := "failure"
		switch {
		case errors.Is(err, domain.ErrNotFound):
			result = "not_found"
		case errors.Is(err, domain.ErrExhausted):
			result = "exhausted"
		}
		metrics.PreKeyBundlesFetchedTotal.WithLabelValues(result).Inc()
		slog.Warn("prekey bundle fetch failed", "error", err, "status", status, "target_user_id", target, "requester_id", subject(r), "request_id", reqID, "trace_id", traceID)
		return
	}
	metrics.PreKeyBundlesFetchedTotal.WithLabelValues("success").Inc()
	slog.Info("prekey bundle fetched", "target_user_id", target, "requester_id", subject(r), "prekey_id", res.OneTimePreKey.KeyID, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusOK, res)
}

func (h *keysHandler) version(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Version(r.Context(), subject(r))
	if err != nil {
		writeError(w, err)
		slog.Warn("bundle version failed", "error", err, "user_id", subject(r), "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *keysHandler) remaining(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Remaining(r.Context(), subject(r))
	if err != nil {
		writeError(w, err)
		slog.Warn("remaining prekeys failed", "error", err, "user_id", subject(r), "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *keysHandler) rotate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())
	userID := subject(r)

	var req dto.RotateSignedPreKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		metrics.SignedPreKeysRotatedTotal.WithLabelValues("failure").Inc()
		slog.Warn("rotate signed prekey decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := h.svc.RotateSignedPreKey(r.Context(), userID, req)
	if err != nil {
		status := writeError(w, err)
		metrics.SignedPreKeysRotatedTotal.WithLabelValues("failure").Inc()
		slog.Warn("rotate signed prekey failed", "error", err, "status", status, "user_id", userID, "request_id", reqID, "trace_id", traceID)
		return
	}
	metrics.SignedPreKeysRotatedTotal.WithLabelValues("success").Inc()
	slog.Info("rotated signed prekey", "user_id", userID, "signed_prekey_id", res.SignedPreKey.KeyID, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusOK, res)
}

// cleanup drops used one-time prekeys. olderThan (a Go duration) overrides
// the configured retention.
func (h *keysHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	userID := subject(r)

	var (
		res dto.CleanupResponse
		err error
	)
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		d, perr := time.ParseDuration(raw)
		if perr != nil || d < 0 {
			writeError(w, fmt.Errorf("%w: invalid olderThan %q", domain.ErrInvalidRequest, raw))
			return
		}
		res, err = h.svc.CleanupUsed(r.Context(), userID, time.Now().UTC().Add(-d))
	} else {
		res, err = h.svc.CleanupRetention(r.Context(), userID)
	}
	if err != nil {
		writeError(w, err)
		slog.Warn("prekey cleanup failed", "error", err, "user_id", userID, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	metrics.PreKeysCleanedTotal.Add(float64(res.DeletedCount))
	slog.Info("prekeys cleaned", "user_id", userID, "deleted", res.DeletedCount, "remaining", res.RemainingCount)
	writeJSON(w, http.StatusOK, res)
}

func (h *keysHandler) deleteBundle(w http.ResponseWriter, r *http.Request) {
	userID := subject(r)
	res, err := h.svc.DeleteBundle(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		slog.Warn("bundle delete failed", "error", err, "user_id", userID, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	slog.Info("bundle deleted", "user_id", userID, "deleted", res.Deleted)
	writeJSON(w, http.StatusOK, res)
}
