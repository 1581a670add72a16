// Package httpapi serves the control and status API.
//
// The API has no authentication. Bind it to localhost or put it behind a
// reverse proxy.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "multiposter/internal/runtime/supervisor"
	logx "multiposter/pkg/logx"
)

type Config struct {
	Addr           string
	Pprof          bool
	MaxUploadBytes int64
	DefaultDelay   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
}

// RouteWrapper decorates a handler with per-route instrumentation.
// *metrics.Collector's Middleware satisfies it.
type RouteWrapper func(route string, next http.Handler) http.Handler

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	wrap RouteWrapper

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
	sup *rtsup.Supervisor
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithRouteWrapper(w RouteWrapper) Option {
	return func(s *Service) { s.wrap = w }
}

func New(cfg Config, deps Deps, opts ...Option) *Service {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:21378"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	s := &Service{cfg: cfg, deps: deps}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.wrap == nil {
		s.wrap = func(_ string, next http.Handler) http.Handler { return next }
	}
	return s
}

// Handler builds the route table.
func (s *Service) Handler() http.Handler {
	h := &handlers{cfg: s.cfg, deps: s.deps, log: s.log}
	mux := http.NewServeMux()

	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, s.wrap(pattern, fn))
	}
	route("GET /api/status", h.status)
	route("GET /api/logs", h.logs)
	route("POST /api/start", h.start)
	route("POST /api/stop", h.stop)
	route("POST /api/lists/{name}", h.saveList)
	route("GET /api/lists/{name}", h.getList)
	route("POST /api/media", h.uploadMedia)
	route("GET /api/files", h.files)
	route("GET /api/publishes", h.publishes)
	route("GET /api/schedules", h.schedules)
	route("GET /uploads/{file}", h.upload)
	route("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return noSniff(mux)
}

func noSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves under a restart loop. It returns once the
// listener is bound, or with the bind error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("http api bound to a non-loopback address without auth", logx.String("addr", s.cfg.Addr))
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.srv, s.ln = srv, ln
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))

	first := true
	s.sup.GoRestart("http.serve", func(c context.Context) error {
		l := ln
		if !first {
			// The previous listener died with Serve; bind again.
			var err error
			if l, err = net.Listen("tcp", s.cfg.Addr); err != nil {
				return err
			}
		}
		first = false
		return s.serve(c, srv, l)
	}, rtsup.RestartPolicy{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second})

	s.log.Info("service started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

func (s *Service) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()
	err := srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr is the bound address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
