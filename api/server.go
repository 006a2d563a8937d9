/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/settings         Threshold configuration
  /api/upload           Spreadsheet ingest
  /api/students/*       Student views
  /api/metrics/*        Dashboard summaries
  /api/admin/*          Manual recompute and cycle triggers

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
		})

		r.Post("/upload", h.Upload)

		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Get("/{id}", h.GetStudent)
		})

		r.Get("/classes", h.ListClasses)
		r.Get("/subjects", h.ListSubjects)

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContact)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/risk-summary", h.RiskSummary)
			r.Get("/attendance-trend", h.AttendanceTrend)
			r.Get("/score-progression", h.ScoreProgression)
			r.Get("/subject-risk", h.SubjectRisk)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/recompute", h.Recompute)
			r.Post("/run-cycle", h.RunCycle)
		})
	})

	return r
}
