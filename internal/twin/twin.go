// Package twin assembles the reference backend: the task API, its admin
// control plane and the shared server core.
package twin

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wondertwin-ai/apiconform/internal/twin/api"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/admin"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

// DefaultPort is the port the backend listens on when none is configured.
const DefaultPort = 8000

// Options configures a Backend.
type Options struct {
	Config   *twincore.Config
	Logger   *slog.Logger
	HashCost int           // bcrypt cost; zero means the bcrypt default
	TokenTTL time.Duration // zero means 30 minutes
	Secret   []byte        // token signing key; random when empty
}

// Backend is a fully wired reference backend.
type Backend struct {
	*twincore.Server
	Store  *store.MemoryStore
	Tokens *api.TokenManager
}

// New wires the API and admin routes onto a twincore server and loads the
// seed file if one is configured.
func New(opts Options) (*Backend, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &twincore.Config{}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Name == "" {
		cfg.Name = "apiconform-twin"
	}
	ttl := opts.TokenTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	secret := opts.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}

	srv := twincore.New(cfg, opts.Logger)
	memStore := store.New(nil, opts.HashCost)
	tokens := api.NewTokenManager(secret, ttl, memStore.Clock.Now)

	api.NewHandler(memStore, srv.Controls, tokens).Routes(srv.Router)
	admin.NewHandler(memStore, srv.Controls, memStore.Clock, srv).Routes(srv.Router)

	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		if err := memStore.SetSeed(data); err != nil {
			return nil, fmt.Errorf("failed to load seed data: %w", err)
		}
		srv.Logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	return &Backend{Server: srv, Store: memStore, Tokens: tokens}, nil
}
