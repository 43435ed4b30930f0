package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	obsmw "secumsg/internal/observability/middleware"
)

type subjectKey struct{}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func SubjectFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok && v != ""
}

// BearerToken reads the token from the Authorization header, falling back to
// the token query parameter used by browser realtime clients.
func BearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) > len("bearer ") && strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(raw[len("bearer "):])
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid bearer token and stores the
// subject in the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := obsmw.RequestIDFromContext(r.Context())
			traceID := obsmw.TraceIDFromContext(r.Context())

			tok := BearerToken(r)
			if tok == "" {
				unauthorized(w, "missing bearer token")
				slog.Warn("auth missing bearer", "path", r.URL.Path, "request_id", reqID, "trace_id", traceID)
				return
			}
			sub, err := v.Verify(r.Context(), tok)
			if err != nil {
				unauthorized(w, "invalid token")
				slog.Warn("auth invalid token", "error", err, "path", r.URL.Path, "request_id", reqID, "trace_id", traceID)
				return
			}
			slog.Debug("auth passed", "subject", sub, "request_id", reqID, "trace_id", traceID)
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": "unauthenticated", "error": msg})
}
