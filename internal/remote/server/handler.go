package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/remote"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64 // bytes, for JSON bodies
	MaxBlobSize       int64 // bytes, for blob and record uploads
	RequestsPerMinute int   // per client host, 0 disables the limit
	Workers           int   // concurrent engine calls, 0 means unbounded
	WebLocation       string
	InstanceID        uuid.UUID
	Defaults          blobstore.Config // merged into init and create configs
	SweepInterval     time.Duration
	SweepAge          time.Duration
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody: 64 * 1024 * 1024,  // 64MB
		MaxBlobSize:    512 * 1024 * 1024, // 512MB
		Workers:        64,
		SweepInterval:  10 * time.Minute,
		SweepAge:       time.Hour,
	}
}

// route is one entry of a static route table: the operation name, its HTTP
// method and the handler.
type route[S any] struct {
	name   string
	method string
	handle func(S, http.ResponseWriter, *http.Request)
}

// server holds what both server variants share.
type server struct {
	cfg     *ServerConfig
	logger  *slog.Logger
	metrics *metrics
	limiter *rateLimiter
	pool    *workerPool
	janitor *janitor
	mux     *http.ServeMux
}

func newServer(cfg *ServerConfig, logger *slog.Logger, ready func(*http.Request) error) *server {
	s := &server{
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(),
		limiter: newRateLimiter(cfg.RequestsPerMinute),
		pool:    newWorkerPool(cfg.Workers),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", handleHealthz)
	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", s.metrics.handler())
	return s
}

// mount registers a route table under the web location.
func mount[S any](s *server, target S, routes []route[S], check func(http.Handler) http.Handler) {
	prefix := strings.TrimRight(s.cfg.WebLocation, "/")
	for _, rt := range routes {
		handle := rt.handle
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(target, w, r)
		})
		// applyMiddleware reverses the list, so the first item runs outermost.
		// Execution order: metrics -> rate limit -> params check -> worker pool -> handler
		s.mux.Handle(rt.method+" "+prefix+"/"+rt.name,
			applyMiddleware(h, s.metrics.instrument(rt.name), s.limiter.middleware, check, s.pool.middleware))
	}
}

// handler applies the global middleware and returns the cleanup function.
func (s *server) handler() (http.Handler, func()) {
	handler := applyMiddleware(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		requestIDMiddleware,
	)

	cleanup := func() {
		s.limiter.Stop()
		s.janitor.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONGzip is writeJSON with gzip compression when the client accepts it.
func writeJSONGzip(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		writeJSON(w, status, v)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(status)
	gz := gzip.NewWriter(w)
	json.NewEncoder(gz).Encode(v)
	gz.Close()
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", blobstore.ErrValidation, err)
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: remote.CodeBadRequest, Message: message})
}

// writeError maps err to its wire code. Server-side failures are logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, remote.ErrorResponse{
			Error:   remote.CodeTooLarge,
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	code, status := remote.ErrorCode(err)
	if status >= 500 {
		reqID, _ := r.Context().Value(contextKeyRequestID).(string)
		logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err, "request_id", reqID)
	}
	writeJSON(w, status, remote.ErrorResponse{Error: code, Message: err.Error()})
}

func handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, remote.ErrorResponse{
		Error:   remote.CodeNotImplemented,
		Message: strings.TrimPrefix(r.URL.Path, "/") + " is not implemented",
	})
}
