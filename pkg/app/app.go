// Package app wires configuration into the stores and build pipeline shared
// by the API server and the CLI.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/vyvo/datasheets/backend/pkg/assets"
	"github.com/vyvo/datasheets/backend/pkg/build"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
	"github.com/vyvo/datasheets/backend/pkg/config"
	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/jobs"
	"github.com/vyvo/datasheets/backend/pkg/publish"
)

// App holds the wired components.
type App struct {
	Config       config.ServerConfig
	Store        catalog.Store
	Journal      jobs.Journal
	Resolver     *assets.Resolver
	Assembler    *dataset.Assembler
	Orchestrator *build.Orchestrator
	Service      *build.Service

	closers []func() error
}

// New opens the configured catalog store and journal and builds the
// compile pipeline on top of them.
func New(cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg}

	store, err := catalog.OpenSQLStore(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		rs, err := jobs.NewRedisStore(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open build journal: %w", err)
		}
		a.Journal = rs
		a.closers = append(a.closers, rs.Close)
	} else {
		a.Journal = jobs.NewMemStore()
	}

	var mirror build.Mirror
	if cfg.Mirror.Enabled() {
		m, err := publish.NewSFTPMirror(cfg.Mirror)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("configure mirror: %w", err)
		}
		mirror = m
	}

	a.wire(logger, mirror)
	return a, nil
}

// NewWithStore builds the pipeline over an existing store and journal.
func NewWithStore(cfg config.ServerConfig, store catalog.Store, journal jobs.Journal, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Store: store, Journal: journal}
	a.wire(logger, nil)
	return a
}

func (a *App) wire(logger *slog.Logger, mirror build.Mirror) {
	cfg := a.Config
	a.Resolver = assets.NewResolver(assets.RootsUnder(cfg.ProjectRoot, cfg.AssetRoots))
	a.Assembler = dataset.NewAssembler(a.Store, a.Store, a.Resolver)
	a.Orchestrator = build.NewOrchestrator(a.Assembler, a.Resolver, a.Journal, logger, build.Options{
		WorkspaceDir:    cfg.Path(cfg.WorkspaceDir),
		OutputDir:       cfg.Path(cfg.OutputDir),
		PublicURLPrefix: cfg.PublicURLPrefix,
		Compilers: map[string]string{
			build.DialectTypst: cfg.Compiler.TypstPath,
			build.DialectLatex: cfg.Compiler.LatexPath,
		},
		Timeout: cfg.Compiler.Timeout,
	})
	a.Service = build.NewService(a.Store, a.Orchestrator, mirror, logger)
}

// Close releases the store and journal connections.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// NewLogger returns a slog logger writing text or JSON to stderr.
func NewLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
