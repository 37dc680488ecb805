// Package server exposes the studio over HTTP.
//
// Routes:
//
//	GET  /health                  liveness
//	GET  /api/styles              catalogue with the modes each style serves
//	POST /api/generate            run a generation (form or multipart)
//	GET  /api/history             recent runs, ?limit=&style=
//	GET  /api/history/stats       per-style aggregates
//	GET  /api/history/{run_id}    one run
//	GET  /ws                      progress stream, ?job= filters to one job
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sdstudio/core"
	"sdstudio/logging"
	"sdstudio/pipeline"
	"sdstudio/resultcache"
	"sdstudio/styles"
)

// Config holds listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogSkipPaths    []string
	Broadcaster     BroadcasterConfig

	// DefaultSeed is used when a request carries no seed field.
	DefaultSeed int64
}

// RandomSeed as a seed field asks for a fresh random seed.
const RandomSeed = -1

// DefaultConfig listens on :8080. WriteTimeout is generous because a
// generation response is written only when the run finishes.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogSkipPaths:    []string{"/health"},
		Broadcaster:     DefaultBroadcasterConfig(),
		DefaultSeed:     core.DefaultGenerationDefaults().Seed,
	}
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	gen     Generator
	styles  *styles.Registry
	history History
	cache   resultcache.Cache
	stats   PipelineStats
	hub     *Broadcaster
	work    WorkTracker
	log     *logging.Logger

	router     *mux.Router
	httpServer *http.Server
}

type Option func(*Server)

// WorkTracker gates generations. Begin returns false once the server is
// draining.
type WorkTracker interface {
	Begin() bool
	End()
}

type openTracker struct{}

func (openTracker) Begin() bool { return true }
func (openTracker) End()        {}

// WithTracker lets a shutdown coordinator refuse new generations and wait
// for running ones.
func WithTracker(t WorkTracker) Option {
	return func(s *Server) {
		if t != nil {
			s.work = t
		}
	}
}

// WithHistory enables the history routes.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithCache stores results so identical requests skip generation.
func WithCache(c resultcache.Cache) Option {
	return func(s *Server) {
		if c != nil {
			s.cache = c
		}
	}
}

// PipelineStats reports on the loaded pipelines. *pipeline.Registry
// implements it.
type PipelineStats interface {
	Keys() []pipeline.Key
	Builds() int64
	Evictions() int64
}

// WithPipelineStats adds pipeline counters to /health.
func WithPipelineStats(p PipelineStats) Option {
	return func(s *Server) { s.stats = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func New(cfg Config, gen Generator, st *styles.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		gen:    gen,
		styles: st,
		cache:  resultcache.Nop{},
		work:   openTracker{},
		log:    logging.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("server")
	s.hub = NewBroadcaster(cfg.Broadcaster, s.log.Named("ws"))

	s.router = mux.NewRouter()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/ws", s.hub)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/styles", s.handleStyles).Methods(http.MethodGet)
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/history/{run_id}", s.handleHistoryRun).Methods(http.MethodGet)
}

// Handler is the router wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.log, s.cfg.LogSkipPaths...)(s.router)
}

// Broadcaster exposes the progress hub.
func (s *Server) Broadcaster() *Broadcaster { return s.hub }

// Start runs the progress hub and serves until Shutdown. It returns nil
// after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for running ones to finish,
// bounded by Config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info("stopped")
	return nil
}
