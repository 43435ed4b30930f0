package http

import (
	"net/http"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/keys"
	"secumsg/internal/messaging"
	"secumsg/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes   = 16 << 20
	requestTimeout = 30 * time.Second
)

type Deps struct {
	Keys     *keys.Service
	Messages *messaging.Manager
	Verifier authz.Verifier
	// Realtime serves the websocket channel; it authenticates on its own.
	Realtime http.Handler

	CORSOrigins        []string
	RateLimitPerMinute int
	// Metrics overrides the /metrics handler, mainly for tests.
	Metrics http.Handler
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.LogRequests)
	r.Use(middleware.WithMetrics)
	if d.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAll(d.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	if d.Realtime != nil {
		r.Handle("/ws", d.Realtime)
		r.Handle("/v1/ws", d.Realtime)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(chimw.Timeout(requestTimeout))
		pr.Use(authz.Middleware(d.Verifier))

		kh := &keysHandler{svc: d.Keys}
		pr.Route("/v1/keys", func(kr chi.Router) {
			kr.Post("/upload", kh.upload)
			kr.Get("/bundle/{userId}", kh.bundle)
			kr.Get("/version", kh.version)
			kr.Get("/remaining", kh.remaining)
			kr.Post("/rotate-signed-prekey", kh.rotate)
			kr.Delete("/cleanup-old", kh.cleanup)
			kr.Delete("/bundle", kh.deleteBundle)
		})

		mh := &messagesHandler{mgr: d.Messages}
		pr.Route("/v1/messages", func(mr chi.Router) {
			mr.Post("/send", mh.send)
			mr.Get("/conversation/{peerId}", mh.conversation)
			mr.Delete("/conversation/{peerId}", mh.hideConversation)
			mr.Get("/stats", mh.stats)
			mr.Delete("/{messageId}", mh.delete)
			mr.Patch("/{messageId}/status", mh.status)
		})
	})

	return r
}

func originsOrAll(in []string) []string {
	out := []string{}
	for _, o := range in {
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// subject returns the authenticated user; the auth middleware guarantees it.
func subject(r *http.Request) string {
	sub, _ := authz.SubjectFrom(r.Context())
	return sub
}
