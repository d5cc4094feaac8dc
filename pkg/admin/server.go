// Package admin implements the gateway's own control surface: live
// config inspection, Prometheus metrics, health/readiness probes, and a
// manual config-reload trigger.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/agentgateway/agentgateway/pkg/api/errors"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

const (
	middlewareTimeout = 60 * time.Second
)

// ReloadFunc forces an out-of-band reload of the local config source.
// Bound to (*config.LocalWatcher).Reload in normal operation; nil if no
// local source is configured.
type ReloadFunc func() error

// ReadyFunc reports whether the gateway has a usable config snapshot
// and (if configured) an established xDS session.
type ReadyFunc func() bool

// Server serves the admin HTTP surface described by §10 ambient ops
// tooling: /healthz, /readyz, /config, /stats, /metrics,
// /admin/reload, /ui.
type Server struct {
	store  *config.Store
	reload ReloadFunc
	ready  ReadyFunc
}

// NewServer builds a Server. reload and ready may be nil.
func NewServer(store *config.Store, reload ReloadFunc, ready ReadyFunc) *Server {
	return &Server{store: store, reload: reload, ready: ready}
}

// Router builds the chi router for this Server's endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Timeout(middlewareTimeout))

	r.Get("/healthz", s.getHealthz)
	r.Get("/readyz", s.getReadyz)
	r.Get("/config", apierrors.ErrorHandler(s.getConfig))
	r.Get("/stats", s.getStats)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admin/reload", apierrors.ErrorHandler(s.postReload))
	r.Get("/ui", s.getUI)

	return r
}

// getHealthz is a liveness probe: the process is up and serving.
func (*Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// getReadyz is a readiness probe: the gateway has a config snapshot to
// route against, and (if a ReadyFunc was wired) any external dependency
// it reports on — e.g. an xDS session — is also up.
func (s *Server) getReadyz(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Current()
	if snap == nil {
		http.Error(w, "no config snapshot", http.StatusServiceUnavailable)
		return
	}
	defer snap.Release()

	if s.ready != nil && !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getConfig dumps the currently active merged Document as JSON.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) error {
	snap := s.store.Current()
	defer snap.Release()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap.Merged); err != nil {
		return gwerrors.NewInternalError("encoding config snapshot", err)
	}
	return nil
}

type statsResponse struct {
	Generation uint64 `json:"generation"`
	Binds      int    `json:"binds"`
	Listeners  int    `json:"listeners"`
	Routes     int    `json:"routes"`
	Backends   int    `json:"backends"`
	Tools      int    `json:"tools"`
}

// getStats reports counts from the currently active snapshot, cheap
// enough to poll frequently without scraping the full /config body.
func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Current()
	defer snap.Release()

	stats := statsResponse{
		Generation: snap.Generation,
		Binds:      len(snap.Merged.Binds),
		Listeners:  len(snap.Merged.Listeners),
		Routes:     len(snap.Merged.Routes),
		Backends:   len(snap.Merged.Backends),
	}
	if snap.Registry != nil {
		stats.Tools = len(snap.Registry.Tools)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// postReload forces an immediate re-read of the local config source,
// bypassing the fsnotify debounce window.
func (s *Server) postReload(w http.ResponseWriter, _ *http.Request) error {
	if s.reload == nil {
		return gwerrors.NewInvalidRequestError("no local config source configured", nil)
	}
	if err := s.reload(); err != nil {
		return gwerrors.NewInternalError("reloading local config source", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

const uiPage = `<!DOCTYPE html>
<html>
<head><title>agentgateway admin</title></head>
<body>
<h1>agentgateway</h1>
<ul>
<li><a href="/config">/config</a> — active merged configuration</li>
<li><a href="/stats">/stats</a> — resource counts</li>
<li><a href="/metrics">/metrics</a> — Prometheus metrics</li>
<li><a href="/readyz">/readyz</a> — readiness probe</li>
</ul>
</body>
</html>`

func (*Server) getUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(uiPage))
}
