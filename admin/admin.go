// Package admin serves the operator HTTP API: health, prometheus metrics and
// the lobby history.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cyberinferno/go-duel/history"
	"github.com/cyberinferno/go-duel/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// NewRouter builds the admin routes.
//
// Parameters:
//   - store: Lobby history; /lobbies answers 503 when nil
//   - gatherer: Registry exposed on /metrics
//   - log: Receives one entry per request
//
// Returns:
//   - The HTTP handler
func NewRouter(store history.Store, gatherer prometheus.Gatherer, log logger.Logger) http.Handler {
	h := &handlers{store: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/lobbies", func(r chi.Router) {
		r.Get("/", h.listLobbies)
		r.Get("/{id}", h.getLobby)
	})

	return r
}

type handlers struct {
	store history.Store
	log   logger.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) listLobbies(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("failed to list lobbies", logger.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) getLobby(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lobby id")
		return
	}

	rec, err := h.store.Get(r.Context(), uint32(id))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "lobby not found")
	case err != nil:
		h.log.Error("failed to get lobby", logger.Field{Key: "id", Value: id}, logger.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "history unavailable")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Debug("admin request",
				logger.Field{Key: "method", Value: r.Method},
				logger.Field{Key: "path", Value: r.URL.Path},
				logger.Field{Key: "status", Value: ww.Status()},
				logger.Field{Key: "duration", Value: time.Since(start).String()},
				logger.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())},
			)
		})
	}
}

// Server is the admin HTTP server.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer creates an admin server for handler on addr.
func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Serve accepts requests on ln until Shutdown is called. It returns nil after
// a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("admin server started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for active ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
