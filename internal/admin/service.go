package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tickwork/internal/history"
	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/task/scheduler"
	logx "tickwork/pkg/logx"
)

// ErrInsecureBind is returned by Start when a non-loopback address is
// configured without a token or allow_insecure.
var ErrInsecureBind = errors.New("admin refused to start: non-loopback addr requires token or allow_insecure")

// Config controls the admin HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxRestarts bounds how often a failing listener is retried before the
	// admin server gives up. Zero means defaultMaxRestarts.
	MaxRestarts int
}

const defaultMaxRestarts = 20

// Scheduler is the part of the scheduler the admin surface reads and mutates.
type Scheduler interface {
	State() scheduler.State
	Snapshot() scheduler.Snapshot
	Status(name string) (scheduler.TaskStatus, bool)
	Cancel(name string) bool
}

// Deps are the optional backends behind the routes. A nil History or Metrics
// disables the matching route; a nil Runtime drops goroutine counters from
// /healthz.
type Deps struct {
	Scheduler Scheduler
	History   history.Store
	Metrics   prometheus.Gatherer
	Runtime   func() rtsup.Counters
}

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr string
	sup  *rtsup.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log}
}

func (s *Service) maxRestarts() int {
	if s.cfg.MaxRestarts > 0 {
		return s.cfg.MaxRestarts
	}
	return defaultMaxRestarts
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8089"
}

// Addr reports the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start launches the server under a restart loop. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := s.cfg.addr()
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("admin refused to start", logx.String("addr", addr))
		return ErrInsecureBind
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("admin running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// admin is optional; never take the scheduler down with it.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithMaxRestarts(s.maxRestarts()),
	)
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.addr = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	select {
	case <-sup.Done():
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	s.log.Info("admin stopped")
	return err
}

func (s *Service) serveOnce(ctx context.Context) error {
	addr := s.cfg.addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("admin listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		// Stop does the real graceful shutdown.
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	listenAddr := ln.Addr().String()
	s.log.Info("admin started",
		logx.String("addr", listenAddr),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.String("hint", fmt.Sprintf("http://%s/tasks", listenAddr)),
	)

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.addr = ""
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
