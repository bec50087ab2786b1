package maint

import (
	"context"
	"time"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module wires the maintenance engine into the master.
type Module struct {
	logger   *zap.Logger
	store    Store
	resolver *account.Resolver
	engine   *Engine
}

// New creates the maint module. Collaborators are injected up front; the
// registry supplies logger, config, and bus during Init.
func New(store Store, resolver *account.Resolver) *Module {
	return &Module{store: store, resolver: resolver}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "maint",
		Version:     "1.0.0",
		Description: "Maintenance windows and the expiry reaper",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	minGap := MinReaperGap
	errBackoff := 5 * time.Minute
	if deps.Config != nil {
		if d := deps.Config.GetDuration("min_reaper_gap"); d > 0 {
			minGap = d
		}
		if d := deps.Config.GetDuration("error_backoff"); d > 0 {
			errBackoff = d
		}
	}

	m.engine = NewEngine(m.store, deps.Bus, minGap, errBackoff, deps.Logger)
	m.logger.Info("maint module initialized",
		zap.Duration("min_reaper_gap", minGap),
		zap.Duration("error_backoff", errBackoff),
	)
	return nil
}

// Start arms the reaper against whatever windows are already stored.
func (m *Module) Start(_ context.Context) error {
	if m.store != nil {
		m.engine.Reaper().Poke()
	}
	m.logger.Info("maint module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.engine != nil {
		m.engine.Reaper().Stop()
	}
	m.logger.Info("maint module stopped")
	return nil
}

// Engine exposes the engine to sibling modules (the event router checks
// suppression through it).
func (m *Module) Engine() *Engine {
	return m.engine
}
