// Package apihttp implements the HTTP surface of spec.md §6: the
// streaming handler plus ambient health/metrics endpoints, grounded on
// the teacher's server.go assembly (ServerOption functional options,
// otelhttp wrapping, the same middleware chain order) trimmed from the
// full torrent-management REST API to this core's single route.
package apihttp

import (
	"log/slog"
	"net/http"

	"torrentstream/internal/domain"
	domainports "torrentstream/internal/domain/ports"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// QueueHandleLookup is the queue's in-flight handle lookup, narrowed to
// what the streaming handler needs (spec.md §4.6 step 7).
type QueueHandleLookup interface {
	LiveHandle(id domain.ItemID) (*domain.TorrentHandle, bool)
}

type Server struct {
	logger     *slog.Logger
	root       string
	queue      QueueHandleLookup
	prober     domainports.MediaProbe
	transcoder domainports.Transcoder

	allowedOrigins []string
	handler        http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer builds the Server and its middleware-wrapped handler. root is
// the filesystem layout's configured download directory, queue resolves
// in-flight TorrentHandles for the live-source fast path, and
// prober/transcoder back the transcoding gate.
func NewServer(root string, queue QueueHandleLookup, prober domainports.MediaProbe, transcoder domainports.Transcoder, opts ...ServerOption) *Server {
	s := &Server{root: root, queue: queue, prober: prober, transcoder: transcoder}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /watch/{id}", s.handleWatch)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrent-engine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
