package httpsrv

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/telewake/relay-service/config"
)

// Server owns the process HTTP surface: one router carrying both the
// REST API and the stream upgrade endpoints. Handlers mount themselves
// through Router before the listener starts.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux
	srv    *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	return &Server{
		cfg:    cfg,
		logger: logger,
		router: r,
		srv: &http.Server{
			Handler: r,
			// No blanket read/write timeouts: long-polls hold the
			// connection up to 30s and streams hold it indefinitely.
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Router() chi.Router { return s.router }

// Start binds the listener and serves in the background. Binding
// errors surface immediately; serve errors after that only log.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.cfg.Addr())
	return nil
}

// Stop drains in-flight requests until ctx expires, then cuts the rest
// off. Hijacked stream connections are closed by the registry, not
// here.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return s.srv.Close()
	}
	return nil
}

// requestLogger emits one structured line per request, matching how
// the rest of the service logs.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
