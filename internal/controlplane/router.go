// Package controlplane is the ambient HTTP admin surface: health,
// observable sync-state, an explicit sync-now trigger, destructive
// wipe/reset, and a live task-list stream over a websocket.
package controlplane

import (
	"net/http"
	"time"

	"github.com/erauner12/syncwatch/internal/maintenance"
	"github.com/erauner12/syncwatch/internal/outboxpump"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type Server struct {
	store       *store.Store
	core        *synccore.SyncCore
	pump        *outboxpump.Pump
	maintenance *maintenance.Scheduler
	router      chi.Router
}

func New(s *store.Store, core *synccore.SyncCore, pump *outboxpump.Pump, maint *maintenance.Scheduler, controlSecret string, devMode bool) *Server {
	srv := &Server{store: s, core: core, pump: pump, maintenance: maint}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/healthz", srv.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(controlSecret, devMode))
		r.Get("/v1/sync/state", srv.handleSyncState)
		r.Post("/v1/sync/now", srv.handleSyncNow)
		r.Post("/v1/sync/wipe", srv.handleWipe)
		r.Get("/v1/stream/tasks", srv.handleStreamTasks)
		r.Get("/v1/settings", srv.handleGetSettings)
		r.Put("/v1/settings", srv.handlePutSettings)
	})

	srv.router = r
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }
