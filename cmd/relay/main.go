package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/broadcast"
	"secumsg/internal/config"
	"secumsg/internal/contacts"
	"secumsg/internal/delivery"
	"secumsg/internal/jobs"
	"secumsg/internal/keys"
	"secumsg/internal/messaging"
	"secumsg/internal/observability/logging"
	"secumsg/internal/observability/metrics"
	"secumsg/internal/presence"
	"secumsg/internal/store"
	httptransport "secumsg/internal/transport/http"
	"secumsg/internal/transport/ws"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister("relay")

	db, err := store.Open(store.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		return err
	}
	st := store.New(db)
	if err := st.AutoMigrate(ctx); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	verifier, closeVerifier, err := buildVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	defer closeVerifier()

	registry := presence.NewRegistry()
	router := delivery.NewRouter(registry)
	mgr := messaging.NewManager(st, router, messaging.Options{
		DeleteForEveryoneWindow: cfg.DeleteForEveryoneWindow,
		DeletedRetention:        cfg.DeletedRetention,
		StoreTimeout:            cfg.StoreTimeout,
	})
	keySvc := keys.New(st, keys.Options{
		RefillThreshold:  cfg.PreKeyRefillThreshold,
		Retention:        cfg.PreKeyRetention,
		StrictValidation: cfg.StrictKeyValidation,
		StoreTimeout:     cfg.StoreTimeout,
	})
	graph := contacts.NewCached(contacts.NewStoreGraph(st), cfg.ContactCacheTTL)
	bc := broadcast.New(graph, router, mgr, cfg.PresenceDebounce)
	defer bc.Close()

	realtime := ws.NewServer(ws.Deps{
		Verifier:       verifier,
		Registry:       registry,
		Router:         router,
		Messages:       mgr,
		Broadcaster:    bc,
		ReadLimit:      cfg.WSReadLimit,
		WriteTimeout:   cfg.WSWriteTimeout,
		OriginPatterns: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httptransport.NewRouter(httptransport.Deps{
			Keys:               keySvc,
			Messages:           mgr,
			Verifier:           verifier,
			Realtime:           realtime,
			CORSOrigins:        cfg.CORSOrigins,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return jobs.Periodic{
			Name:     "expiry_sweep",
			Interval: cfg.ExpirySweepInterval,
			Run: func(ctx context.Context) error {
				if _, err := mgr.Sweep(ctx); err != nil {
					return err
				}
				_, err := mgr.Purge(ctx)
				return err
			},
		}.Loop(gctx)
	})
	g.Go(func() error {
		return jobs.Periodic{
			Name:       "prekey_gc",
			Interval:   cfg.PreKeyGCInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				n, err := keySvc.CollectGarbage(ctx)
				metrics.PreKeysCleanedTotal.Add(float64(n))
				return err
			},
		}.Loop(gctx)
	})

	g.Go(func() error {
		slog.Info("relay listening", "addr", srv.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildVerifier chains every configured token scheme. At least one must be
// set.
func buildVerifier(ctx context.Context, a config.AuthConfig) (authz.Verifier, func(), error) {
	if !a.Configured() {
		return nil, nil, errors.New("no token verifier configured: set AUTH_HS256_SECRET, AUTH_ED25519_PUBLIC_KEY or AUTH_JWKS_URL")
	}
	var (
		chain   authz.Chain
		closers []func()
	)
	if a.HS256Secret != "" {
		chain = append(chain, authz.NewHMACVerifier(a.HS256Secret, a.Issuer))
		slog.Info("token validation enabled", "scheme", "HS256")
	}
	if a.Ed25519PublicKey != "" {
		v, err := authz.NewEd25519Verifier(a.Ed25519PublicKey, a.Issuer)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, v)
		slog.Info("token validation enabled", "scheme", "EdDSA")
	}
	if a.JWKSURL != "" {
		v, err := authz.NewJWKSVerifier(ctx, a.JWKSURL, a.Issuer)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, v)
		closers = append(closers, v.Close)
		slog.Info("token validation enabled", "scheme", "JWKS", "url", a.JWKSURL)
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(chain) == 1 {
		return chain[0], closeAll, nil
	}
	return chain, closeAll, nil
}
