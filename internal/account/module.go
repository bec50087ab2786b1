package account

import (
	"context"
	"net/http"

	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module serves the user profile endpoint and owns the shared resolver.
type Module struct {
	resolver *Resolver
}

// NewModule creates the account module around an existing resolver.
func NewModule(resolver *Resolver) *Module {
	return &Module{resolver: resolver}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "account",
		Version:     "1.0.0",
		Description: "User resolution and the profile endpoint",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, _ plugin.Dependencies) error { return nil }
func (m *Module) Start(_ context.Context) error                       { return nil }
func (m *Module) Stop(_ context.Context) error                        { return nil }

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/pub/{user}", Handler: RequireUser(m.resolver, m.handleProfile)},
	}
}

// handleProfile returns the resolved user's public profile.
func (m *Module) handleProfile(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, FromContext(r.Context()))
}
