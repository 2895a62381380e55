package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veostudio/internal/http/handlers"
	"veostudio/internal/infra"
	"veostudio/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Logger),
		middleware.Metrics,
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         300,
		}),
	)

	r.Get("/", app.Index)
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/v1/generations", app.CreateGeneration)

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", app.GetSession)
		r.Get("/events", app.SessionEvents)
		r.Delete("/generation", app.AbandonGeneration)
	})

	r.Route("/v1/artifacts", func(r chi.Router) {
		r.Get("/{id}", app.GetArtifact)
		r.Head("/{id}", app.GetArtifact)
		r.Delete("/{id}", app.DeleteArtifact)
	})

	return r
}
