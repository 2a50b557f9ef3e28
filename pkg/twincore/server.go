// Package twincore provides the HTTP server, runtime controls and response
// helpers of the reference backend.
package twincore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config holds the server settings. Latency, FailRate and Verbose can be
// changed while serving through Server.UpdateConfig.
type Config struct {
	Name     string
	Port     int
	Latency  time.Duration
	FailRate float64
	SeedFile string
	Verbose  bool

	mu sync.RWMutex
}

func (c *Config) latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Latency
}

func (c *Config) failRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FailRate
}

func (c *Config) verbose() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Verbose
}

// Server is a chi router behind the common middleware stack, plus the
// listener lifecycle.
type Server struct {
	Config   *Config
	Router   *chi.Mux
	Logger   *slog.Logger
	Controls *Controls
}

// New builds a Server. A nil logger writes JSON to stdout, at debug level
// when cfg.Verbose is set.
func New(cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		level := slog.LevelInfo
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	ctl := NewControls(cfg, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(ctl.CORS, ctl.Record, ctl.Delay, ctl.Chaos)

	return &Server{Config: cfg, Router: r, Logger: logger, Controls: ctl}
}

// GetConfig reports the current settings.
func (s *Server) GetConfig() map[string]any {
	s.Config.mu.RLock()
	defer s.Config.mu.RUnlock()
	return map[string]any{
		"name":      s.Config.Name,
		"port":      s.Config.Port,
		"latency":   s.Config.Latency.String(),
		"fail_rate": s.Config.FailRate,
		"verbose":   s.Config.Verbose,
	}
}

// UpdateConfig applies runtime changes. Nothing is applied unless every
// key is valid.
func (s *Server) UpdateConfig(updates map[string]any) error {
	var apply []func(*Config)
	for key, raw := range updates {
		set, err := parseSetting(key, raw)
		if err != nil {
			return err
		}
		apply = append(apply, set)
	}

	s.Config.mu.Lock()
	defer s.Config.mu.Unlock()
	for _, set := range apply {
		set(s.Config)
	}
	return nil
}

func parseSetting(key string, raw any) (func(*Config), error) {
	switch key {
	case "latency":
		str, ok := raw.(string)
		if !ok {
			return nil, errors.New("latency must be a duration string")
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return nil, fmt.Errorf("latency: %w", err)
		}
		if d < 0 {
			return nil, errors.New("latency must not be negative")
		}
		return func(c *Config) { c.Latency = d }, nil
	case "fail_rate":
		rate, ok := raw.(float64)
		if !ok || rate < 0 || rate > 1 {
			return nil, errors.New("fail_rate must be a number between 0 and 1")
		}
		return func(c *Config) { c.FailRate = rate }, nil
	case "verbose":
		on, ok := raw.(bool)
		if !ok {
			return nil, errors.New("verbose must be a boolean")
		}
		return func(c *Config) { c.Verbose = on }, nil
	case "name", "port", "seed_file":
		return nil, fmt.Errorf("%s is fixed at startup", key)
	}
	return nil, fmt.Errorf("unknown setting %q", key)
}

// Serve listens on the configured port until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.Logger.Info("serving", "name", s.Config.Name, "addr", ln.Addr().String())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down", "name", s.Config.Name)
	drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(drain)
}

// ServeHTTP lets a Server be mounted on an httptest server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
