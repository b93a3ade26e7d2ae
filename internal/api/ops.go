// Package api serves ari's operational HTTP endpoint: health and
// readiness probes plus the Prometheus metrics scrape target. The player
// surface itself lives on the WAMP bus, not here.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gieseladev/ari/internal/health"
	"github.com/gieseladev/ari/internal/log"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second

	// Probes are cheap but unauthenticated; cap per-client request rates.
	rateLimit       = 60
	rateLimitWindow = time.Minute
)

// Options configures the ops server.
type Options struct {
	Listen string
	Health *health.Manager
	Logger zerolog.Logger
}

// OpsServer is the operational HTTP endpoint.
type OpsServer struct {
	srv *http.Server
	log zerolog.Logger
}

// NewOpsServer builds the ops server and its router.
func NewOpsServer(opts Options) *OpsServer {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(httprate.Limit(rateLimit, rateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
	r.Use(requestLogger(opts.Logger))

	r.Get("/healthz", opts.Health.ServeHealth)
	r.Get("/readyz", opts.Health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// otelhttp sits outside the router; probe and scrape paths are not
	// worth tracing.
	handler := otelhttp.NewHandler(r, "ari-ops",
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)

	return &OpsServer{
		srv: &http.Server{
			Addr:              opts.Listen,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		log: opts.Logger,
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *OpsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	s.log.Info().
		Str("event", "ops.listening").
		Str("addr", s.srv.Addr).
		Msg("ops endpoint up")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// requestID stamps each request with chi's request id and mirrors it into
// the logging context.
func requestID(next http.Handler) http.Handler {
	return chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rid := chimw.GetReqID(r.Context()); rid != "" {
			r = r.WithContext(log.ContextWithRequestID(r.Context(), rid))
		}
		next.ServeHTTP(w, r)
	}))
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			reqLogger := log.WithContext(r.Context(), logger)
			reqLogger.Debug().
				Str("event", "ops.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}
