package httpapi

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"recordsync/internal/server/metrics"
	"recordsync/internal/server/service"
)

type Router struct {
	services        *service.Services
	logger          *log.Logger
	metrics         *metrics.Exporter
	maxRequestBytes int64
}

func NewRouter(services *service.Services, logger *log.Logger, exporter *metrics.Exporter, maxRequestBytes int64) http.Handler {
	if exporter == nil {
		exporter = metrics.NewExporter()
	}
	r := &Router{services: services, logger: logger, metrics: exporter, maxRequestBytes: maxRequestBytes}
	mux := chi.NewRouter()
	mux.Use(exporter.Middleware)

	mux.Get("/health", r.handleHealth)
	mux.Method(http.MethodGet, "/metrics", exporter.Handler())
	mux.Post("/api/v1/auth/register", r.handleRegister)
	mux.Post("/api/v1/auth/login", r.handleLogin)

	mux.Route("/rest/{model:[a-z0-9_-]+}", func(pr chi.Router) {
		pr.Use(r.authMiddleware)
		pr.Use(r.csrfMiddleware)
		pr.Get("/", r.handleList)
		pr.Post("/", r.handleCreate)
		pr.Get("/{pk}", r.handleGet)
		pr.Put("/{pk}", r.handleUpdate)
		pr.Patch("/{pk}", r.handleUpdate)
		pr.Delete("/{pk}", r.handleDelete)
	})

	return mux
}

func (r *Router) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
