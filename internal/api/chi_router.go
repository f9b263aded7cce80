// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/binrelay/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil mw uses the default middleware config.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	// ========================
	// Health Endpoints
	// ========================
	r.Route("/api/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// ========================
	// IoT Endpoints
	// ========================
	r.Route("/api/iot", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		// Device ingestion runs at camera frame rate and has its own budget.
		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitCustom(RateLimitDevice))
			r.Post("/upload_frame", router.handler.UploadFrame)
			r.Post("/model_result", router.handler.ModelResult)
			r.Get("/stream/{deviceId}", router.handler.StreamFrames)
		})

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Post("/capture", router.handler.Capture)
			r.Post("/run-model", router.handler.RunModel)
			r.Get("/run-model", router.handler.RunModelHint)
			r.Get("/latest_model_result", router.handler.LatestModelResult)
			r.Get("/latest_frame", router.handler.LatestFrame)
			r.Get("/devices", router.handler.Devices)
		})
	})

	// ========================
	// Admin Endpoints
	// ========================
	r.Route("/api/admin/device-tokens", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitCustom(RateLimitAdmin))
		r.Use(APISecurityHeaders())
		r.Use(router.handler.RequireAdmin)
		r.Get("/", router.handler.ListDeviceTokens)
		r.Post("/", router.handler.AddDeviceToken)
		r.Delete("/{token}", router.handler.RemoveDeviceToken)
	})

	// ========================
	// Deposit Log
	// ========================
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Get("/api/events", router.handler.Events)
		r.Get("/api/stats", router.handler.Stats)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.With(router.chiMiddleware.RateLimitCustom(RateLimitWebSocket)).Get("/ws", router.handler.WebSocket)

	return r
}
