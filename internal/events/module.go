package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/maint"
	"github.com/amonhq/amon/internal/notify"
	"github.com/amonhq/amon/internal/probes"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Module wires the event router into the master. It resolves the probes
// and maint modules through the registry at Init, so it declares both as
// dependencies.
type Module struct {
	logger    *zap.Logger
	notifiers *notify.Registry
	resolver  *account.Resolver
	router    *Router
}

// New creates the events module.
func New(notifiers *notify.Registry, resolver *account.Resolver) *Module {
	return &Module{notifiers: notifiers, resolver: resolver}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "events",
		Version:      "1.0.0",
		Description:  "Event routing, maintenance suppression, and notification fan-out",
		Dependencies: []string{"probes", "maint"},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	var probeSrc ProbeSource
	var maintSrc MaintSource
	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("probes"); ok {
			if pm, ok := p.(*probes.Module); ok {
				probeSrc = pm.Store()
			}
		}
		if p, ok := deps.Plugins.Resolve("maint"); ok {
			if mm, ok := p.(*maint.Module); ok {
				maintSrc = mm.Engine()
			}
		}
	}
	if probeSrc == nil || maintSrc == nil {
		return fmt.Errorf("events module requires the probes and maint modules")
	}

	m.router = NewRouter(probeSrc, maintSrc, m.notifiers, m.resolver, deps.Bus, deps.Logger)
	m.logger.Info("events module initialized",
		zap.Strings("notification_mediums", m.notifiers.Types()),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("events module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("events module stopped")
	return nil
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/events", Handler: m.handlePostEvents},
	}
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: maint.TopicWindowEnded, Handler: m.handleWindowEnded},
	}
}

// handleWindowEnded reacts to a maintenance window being removed. Alarms
// suppressed during the window are not yet re-evaluated; the hook records
// the fact for now.
func (m *Module) handleWindowEnded(_ context.Context, event plugin.Event) {
	win, ok := event.Payload.(*maint.Window)
	if !ok {
		m.logger.Warn("unexpected payload type for window-ended event")
		return
	}
	m.logger.Info("maintenance window ended",
		zap.String("user", win.User),
		zap.Int("id", win.ID),
	)
}

// handlePostEvents accepts a single event object or an array. Each event
// is processed independently; the reply is 202 when all succeed, the
// aggregated error otherwise.
func (m *Module) handlePostEvents(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		server.WriteError(w, server.NewInvalidArgument("invalid event body: %v", err))
		return
	}

	var batch []Event
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &batch); err != nil {
			server.WriteError(w, server.NewInvalidArgument("invalid event array: %v", err))
			return
		}
	} else {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			server.WriteError(w, server.NewInvalidArgument("invalid event: %v", err))
			return
		}
		batch = []Event{ev}
	}

	errs := m.router.Process(r.Context(), batch)
	if len(errs) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if len(errs) == 1 {
		server.WriteError(w, errs[0])
		return
	}
	server.WriteError(w, &server.MultiError{Errs: errs})
}
