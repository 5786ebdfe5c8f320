package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/braingenix/bglog/internal/engine"
	"github.com/braingenix/bglog/internal/metrics"
	"github.com/braingenix/bglog/internal/pkg/security"
	"github.com/braingenix/bglog/internal/registry"
)

// Source is what the status server reports on.
type Source interface {
	metrics.Source
	NodeID() string
	Lifetime() engine.LifetimeStats
}

// Auth holds basic-auth credentials; the password is a bcrypt hash.
type Auth struct {
	User         string
	PasswordHash string
}

// StatusServer serves /metrics, /healthz and /stats. It is read-only.
type StatusServer struct {
	src      Source
	gatherer prometheus.Gatherer
	auth     *Auth
	logger   *slog.Logger
	started  time.Time
	srv      *http.Server
}

func NewStatusServer(src Source, gatherer prometheus.Gatherer, auth *Auth, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		src:      src,
		gatherer: gatherer,
		auth:     auth,
		logger:   logger,
		started:  time.Now(),
	}
}

// Handler returns the routes of the status server.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.AuthMiddleware(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	mux.Handle("/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	return mux
}

// Start runs the HTTP server until Shutdown.
func (s *StatusServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("status server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// AuthMiddleware requires basic auth when credentials are configured.
func (s *StatusServer) AuthMiddleware(next http.Handler) http.Handler {
	if s.auth == nil || s.auth.User == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.auth.User || !security.CheckPassword(s.auth.PasswordHash, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bglog"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status       string            `json:"status"`
	Sink         string            `json:"sink"`
	QueueDepth   int               `json:"queue_depth"`
	SpoolPending int               `json:"spool_pending"`
	Uptime       string            `json:"uptime"`
	Instance     registry.Instance `json:"instance"`
}

// handleHealth reports 503 while the central store is unreachable. Records
// are still written locally and spooled in that state.
func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.src.State()
	resp := healthResponse{
		Status:       "ok",
		Sink:         state.String(),
		QueueDepth:   s.src.QueueDepth(),
		SpoolPending: s.src.SpoolPending(),
		Uptime:       time.Since(s.started).Truncate(time.Second).String(),
		Instance:     registry.Describe(s.src.NodeID()),
	}
	code := http.StatusOK
	if state == engine.SinkDegraded {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *StatusServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Session  engine.Stats         `json:"session"`
		Lifetime engine.LifetimeStats `json:"lifetime"`
	}{s.src.Stats(), s.src.Lifetime()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
