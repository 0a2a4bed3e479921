package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8000"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"330s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleMessage(ctx context.Context, sessionID string, text string, mode string) (string, error)
}

type Server struct {
	cfg      Config
	turns    TurnHandler
	gatherer prometheus.Gatherer
	newID    func() string
}

type Option func(*Server)

// WithGatherer serves the given registry on /metrics instead of the default.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

func NewServer(cfg Config, turns TurnHandler, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		turns:    turns,
		gatherer: prometheus.DefaultGatherer,
		newID:    newSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight turns for up to
// the shutdown timeout. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
