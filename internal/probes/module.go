package probes

import (
	"context"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module wires the probe model into the master: REST surface, kind
// registry, authorization, and the agent-probes manifest.
type Module struct {
	logger   *zap.Logger
	dir      Directory
	caches   *cache.Registry
	resolver *account.Resolver
	store    *Store
	kinds    *KindRegistry
	authz    *Authorizer
}

// New creates the probes module. Collaborators are injected up front; the
// registry supplies logger, config, and bus during Init.
func New(dir Directory, inventory ServerInventory, vms VMMetadata, caches *cache.Registry, resolver *account.Resolver, adminUUID string) *Module {
	return &Module{
		dir:      dir,
		caches:   caches,
		resolver: resolver,
		kinds:    NewKindRegistry(),
		authz:    NewAuthorizer(inventory, vms, adminUUID),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "probes",
		Version:     "1.0.0",
		Description: "Probe and probe-group model, authorization, and agent manifests",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.store = NewStore(m.dir, m.caches, deps.Bus, deps.Logger)
	m.logger.Info("probes module initialized", zap.Strings("kinds", m.kinds.Names()))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("probes module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("probes module stopped")
	return nil
}

// Store exposes the probe store to sibling modules (the event router
// resolves probes through it).
func (m *Module) Store() *Store {
	return m.store
}
