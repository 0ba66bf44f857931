// Package httpapi exposes the krakefactory service over HTTP using echo.
package httpapi

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"krakefactory/internal/adapters/export"
	"krakefactory/internal/blob"
	"krakefactory/internal/logging"
	"krakefactory/pkg/domain"
)

// DefaultBodyLimit caps request bodies, including label uploads.
const DefaultBodyLimit = "10M"

// Service is the subset of core.Service the handlers call.
type Service interface {
	Ping(ctx context.Context) error
	SubmitTestRun(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error)
	ListSummaries(ctx context.Context) ([]domain.SummaryRow, error)
	GetBoardDetail(ctx context.Context, serial string) (domain.BoardDetail, error)
}

// Server owns the echo instance and its listener.
type Server struct {
	svc       Service
	exports   export.Scheduler
	blobs     blob.Store
	labels    *export.LabelRenderer
	logger    *slog.Logger
	metrics   http.Handler
	debugVars bool
	staticDir string
	bodyLimit string

	echo *echo.Echo

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithExports enables the async export endpoints.
func WithExports(sched export.Scheduler) Option {
	return func(s *Server) { s.exports = sched }
}

// WithBlobStore archives rendered labels into store.
func WithBlobStore(store blob.Store) Option {
	return func(s *Server) { s.blobs = store }
}

// WithLabelRenderer replaces the default 50x30 mm renderer.
func WithLabelRenderer(r *export.LabelRenderer) Option {
	return func(s *Server) {
		if r != nil {
			s.labels = r
		}
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithDebugVars mounts the expvar handler on /debug/vars.
func WithDebugVars() Option {
	return func(s *Server) { s.debugVars = true }
}

// WithStaticDir serves files from dir at the site root.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithBodyLimit sets the maximum request body size, e.g. "10M".
func WithBodyLimit(limit string) Option {
	return func(s *Server) {
		if limit != "" {
			s.bodyLimit = limit
		}
	}
}

// New builds the router. Nothing listens until Start.
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		labels:    export.NewLabelRenderer(0, 0),
		logger:    logging.Discard(),
		bodyLimit: DefaultBodyLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(s.bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				s.logger.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	}))

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/ping", s.ping)
	api.POST("/test-run", s.submitTestRun)
	api.GET("/test-runs", s.listTestRuns)
	api.GET("/test-runs.csv", s.exportCSV)
	api.GET("/test-runs.xlsx", s.exportXLSX)
	api.GET("/board/:serial", s.boardDetail)
	api.POST("/labels/qr-image-pdf", s.qrImageLabel)
	api.GET("/openapi.yaml", s.openAPI)

	if s.exports != nil {
		api.POST("/exports", s.createExport)
		api.GET("/exports/:id", s.getExport)
	}
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	if s.debugVars {
		s.echo.GET("/debug/vars", echo.WrapHandler(expvar.Handler()))
	}
	if s.staticDir != "" {
		s.echo.Static("/", s.staticDir)
	}
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.echo}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
