package api

import (
	"net/http"

	"github.com/streamvault/backend/internal/auth"
	"github.com/streamvault/backend/internal/cache"
	"github.com/streamvault/backend/internal/db"
	"github.com/streamvault/backend/internal/extractor"
	"github.com/streamvault/backend/internal/health"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/metrics"
	"github.com/streamvault/backend/internal/queue"
	"github.com/streamvault/backend/internal/storage"
	"github.com/streamvault/backend/internal/websocket"
)

// RouterConfig holds every collaborator the API surface exposes. Storage,
// Snapshots, History, WS, Health, and Metrics are optional.
type RouterConfig struct {
	Scheduler   *queue.Scheduler
	Extractor   extractor.MediaExtractor
	Storage     *storage.Client
	Snapshots   *cache.Cache
	History     *db.JobRepository
	AuthService *auth.Service
	WS          *websocket.Handler
	Health      *health.Handler
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

type Router struct {
	mux          *http.ServeMux
	authService  *auth.Service
	jobHandlers  *JobHandlers
	infoHandlers *InfoHandlers
	authHandlers *AuthHandlers
}

// NewRouter wires the full route table.
func NewRouter(cfg *RouterConfig) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		authService:  cfg.AuthService,
		jobHandlers:  NewJobHandlers(cfg.Scheduler, cfg.Storage, cfg.Snapshots, cfg.History, cfg.Logger),
		infoHandlers: NewInfoHandlers(cfg.Extractor, cfg.Logger),
		authHandlers: NewAuthHandlers(cfg.AuthService),
	}
	r.setupRoutes(cfg)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes(cfg *RouterConfig) {
	if cfg.Health != nil {
		r.mux.HandleFunc("GET /health", cfg.Health.HealthHandler)
		r.mux.HandleFunc("GET /health/live", cfg.Health.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", cfg.Health.ReadinessHandler)
	}
	if cfg.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", cfg.Metrics.Handler())
	}

	// Token exchange (no auth required)
	r.mux.HandleFunc("POST /api/v1/auth/token", r.authHandlers.Token)

	// Job lifecycle
	r.mux.HandleFunc("POST /api/v1/jobs", r.withAuth(r.jobHandlers.SubmitJob))
	r.mux.HandleFunc("GET /api/v1/jobs", r.withAuth(r.jobHandlers.ListJobs))
	r.mux.HandleFunc("GET /api/v1/jobs/{job_id}", r.withAuth(r.jobHandlers.GetJob))
	r.mux.HandleFunc("DELETE /api/v1/jobs/{job_id}", r.withAuth(r.jobHandlers.CancelJob))
	r.mux.HandleFunc("GET /api/v1/jobs/{job_id}/artifact", r.withAuth(r.jobHandlers.GetArtifact))
	r.mux.HandleFunc("GET /api/v1/queue", r.withAuth(r.jobHandlers.QueueStatus))
	r.mux.HandleFunc("GET /api/v1/history", r.withAuth(r.jobHandlers.GetHistory))

	// Metadata lookups
	r.mux.HandleFunc("GET /api/v1/formats", r.withAuth(r.infoHandlers.GetFormats))
	r.mux.HandleFunc("GET /api/v1/playlist", r.withAuth(r.infoHandlers.GetPlaylist))
	r.mux.HandleFunc("POST /api/v1/validate", r.withAuth(r.infoHandlers.ValidateURL))

	// WebSocket does token auth itself via query parameter
	if cfg.WS != nil {
		r.mux.HandleFunc("GET /ws", cfg.WS.ServeWS)
	}
}

func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	middleware := auth.Middleware(r.authService)
	return func(w http.ResponseWriter, req *http.Request) {
		middleware(http.HandlerFunc(next)).ServeHTTP(w, req)
	}
}
