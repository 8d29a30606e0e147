package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/config"
	"github.com/deep2look/bot/internal/middleware"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/transport/telegram"
	"github.com/deep2look/bot/internal/util"
	"github.com/deep2look/bot/internal/version"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Config config.Config
	Store  Pinger
	// Sessions is optional; it is checked only when the session store is
	// remote.
	Sessions Pinger
	// Submit queues a decoded update for the worker.
	Submit func(transport.Event)
	Log    zerolog.Logger
}

const readyTimeout = 3 * time.Second

func NewRouter(d Deps) http.Handler {
	secret := util.WebhookSecret(d.Config.BotToken)
	webhook := telegram.WebhookHandler(d.Submit, d.Log)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(d.Log, d.Config.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(d.Config.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.Config.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		comps := map[string]any{}
		ok := probe(ctx, comps, "database", d.Store)
		if d.Sessions != nil {
			ok = probe(ctx, comps, "sessions", d.Sessions) && ok
		}
		ready := map[string]any{
			"checked_at": time.Now().UTC().Format(time.RFC3339),
			"components": comps,
		}
		if ok {
			ready["status"] = "ready"
			util.WriteJSON(w, http.StatusOK, ready)
			return
		}
		ready["status"] = "degraded"
		util.WriteJSON(w, http.StatusServiceUnavailable, ready)
	})

	r.Post("/telegram/{secret}", func(w http.ResponseWriter, r *http.Request) {
		got := chi.URLParam(r, "secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			util.WriteError(w, http.StatusNotFound, "not_found", "not found")
			return
		}
		webhook.ServeHTTP(w, r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "not_found", "not found")
	})
	return r
}

func probe(ctx context.Context, comps map[string]any, name string, p Pinger) bool {
	if p == nil {
		comps[name] = map[string]any{"ok": false, "error": "not configured"}
		return false
	}
	if err := p.Ping(ctx); err != nil {
		comps[name] = map[string]any{"ok": false, "error": err.Error()}
		return false
	}
	comps[name] = map[string]any{"ok": true}
	return true
}
