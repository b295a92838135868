// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doohworks/playmetry/internal/logging"
)

// Routes builds the operational HTTP router.
//
// Read-only status endpoints are open; the run and backfill triggers
// mutate report tables and require the shared operations token.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	if len(h.cfg.Security.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.cfg.Security.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if !h.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(h.cfg.Security.RateLimitReqs, h.cfg.Security.RateLimitWindow))
		}

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/watermarks", h.Watermarks)

			r.Group(func(r chi.Router) {
				r.Use(h.requireOpsToken)
				r.Post("/run", h.Run)
				r.Post("/backfill", h.Backfill)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requireOpsToken guards the trigger endpoints with the shared bearer
// token. An empty configured token disables the check; that is logged
// loudly at startup and meant for local development only.
func (h *Handler) requireOpsToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.cfg.Security.OpsToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
			subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid operations token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("HTTP request")
	})
}
