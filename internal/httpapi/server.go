// Package httpapi implements C7: the HTTP surface translating client
// requests through C2/C6/C4, dispatching to the upstream transport, and
// rendering the result through C3/C5. Routing follows the teacher's plain
// "METHOD /path" http.ServeMux pattern (net/http's Go 1.22+ method-matching
// patterns cover this module's handful of routes without pulling in a
// router framework).
package httpapi

import (
	"net/http"
	"time"

	"ccbridge/internal/config"
	"ccbridge/internal/observability"
	"ccbridge/internal/router"
	"ccbridge/internal/sigcache"
	"ccbridge/internal/upstream"
)

const maxBodyBytes = 32 << 20 // 32MiB, spec.md §6's body-size limit

// Server holds everything handlers need: the resolved config, the model
// router, the signature cache, and the upstream transport.
type Server struct {
	cfg      *config.Config
	router   *router.Router
	cache    *sigcache.Cache
	upstream *upstream.Client
	mux      *http.ServeMux
}

func NewServer(cfg *config.Config, rt *router.Router, cache *sigcache.Cache, up *upstream.Client) *Server {
	s := &Server{cfg: cfg, router: rt, cache: cache, upstream: up}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestLogging(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/messages", s.withAuth(s.handleAnthropicMessages))
	s.mux.HandleFunc("POST /v1/chat/completions", s.withAuth(s.handleOpenAIChatCompletions))
	s.mux.HandleFunc("GET /v1/models", s.withAuth(s.handleModels))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz additionally reports whether the upstream credentials look
// configured; it never calls the upstream (no external collaborator I/O
// on a liveness path).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CloudCodeBaseURL == "" || s.cfg.CloudCodeAPIKey == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready","reason":"upstream not configured"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// withRequestLogging wraps every request with a trace span and a single
// structured access-log line, mirroring the teacher's observability
// middleware idiom.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := observability.StartRequestSpan(r.Context(), r.URL.Path, "", "")
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		observability.LoggerWithTrace(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withAuth enforces the bearer check spec.md §6 describes for both POST
// routes (GET /v1/models also requires it; /healthz and /readyz do not).
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ProxyAPIKey == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.cfg.ProxyAPIKey {
			writeError(w, NewError(KindUnauthorized, "invalid or missing bearer token", nil))
			return
		}
		next(w, r)
	}
}
