package events

import (
	"context"
	"fmt"
	"time"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/maint"
	"github.com/amonhq/amon/internal/notify"
	"github.com/amonhq/amon/internal/probes"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	eventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amon_events_received_total",
		Help: "Events accepted for routing.",
	})
	eventsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amon_events_suppressed_total",
		Help: "Events suppressed by an active maintenance window.",
	})
	eventsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amon_events_failed_total",
		Help: "Events that failed routing.",
	})
	notificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amon_notifications_sent_total",
		Help: "Notifications delivered to plugins.",
	})
)

func init() {
	prometheus.MustRegister(eventsReceived, eventsSuppressed, eventsFailed, notificationsSent)
}

// ProbeSource resolves probes and groups. The probes module's store
// satisfies it.
type ProbeSource interface {
	GetProbe(ctx context.Context, userUUID, probeUUID string) (*probes.Probe, error)
	GetGroup(ctx context.Context, userUUID, groupUUID string) (*probes.ProbeGroup, error)
}

// MaintSource answers the suppression predicate. The maintenance engine
// satisfies it.
type MaintSource interface {
	IsEventInMaintenance(ctx context.Context, user string, timeMs int64, probeUUID, groupUUID, machine string) (*maint.Window, error)
}

// Router processes events: probe resolution, maintenance check, contact
// fan-out.
type Router struct {
	probes    ProbeSource
	maint     MaintSource
	notifiers *notify.Registry
	resolver  *account.Resolver
	bus       plugin.Publisher
	logger    *zap.Logger
}

// NewRouter creates an event router. bus may be nil in tests.
func NewRouter(probeSrc ProbeSource, maintSrc MaintSource, notifiers *notify.Registry, resolver *account.Resolver, bus plugin.Publisher, logger *zap.Logger) *Router {
	return &Router{
		probes:    probeSrc,
		maint:     maintSrc,
		notifiers: notifiers,
		resolver:  resolver,
		bus:       bus,
		logger:    logger,
	}
}

// Process routes a batch of events. Each event is handled independently;
// the returned slice holds one error per failed event.
func (r *Router) Process(ctx context.Context, events []Event) []error {
	var errs []error
	for i := range events {
		eventsReceived.Inc()
		if err := r.processOne(ctx, &events[i]); err != nil {
			eventsFailed.Inc()
			errs = append(errs, err)
		}
	}
	return errs
}

// processOne routes a single event. Notification failures are absorbed:
// the event fails only when it cannot be validated or resolved.
func (r *Router) processOne(ctx context.Context, ev *Event) error {
	if err := ev.validate(); err != nil {
		return err
	}

	probe, err := r.probes.GetProbe(ctx, ev.User, ev.ProbeUUID)
	if err != nil {
		r.logger.Error("probe resolution failed",
			zap.String("event", ev.UUID),
			zap.String("probe", ev.ProbeUUID),
			zap.Error(err),
		)
		return server.NewInternalError()
	}
	if probe == nil {
		return server.NewResourceNotFound("no such probe: %q", ev.ProbeUUID)
	}

	var group *probes.ProbeGroup
	if probe.Group != "" {
		group, err = r.probes.GetGroup(ctx, ev.User, probe.Group)
		if err != nil {
			r.logger.Error("group resolution failed",
				zap.String("event", ev.UUID),
				zap.String("group", probe.Group),
				zap.Error(err),
			)
			return server.NewInternalError()
		}
	}

	groupUUID := ""
	if group != nil {
		groupUUID = group.UUID
	}
	win, err := r.maint.IsEventInMaintenance(ctx, ev.User, ev.Time, ev.ProbeUUID, groupUUID, ev.Machine)
	if err != nil {
		r.logger.Error("maintenance check failed", zap.String("event", ev.UUID), zap.Error(err))
		return server.NewInternalError()
	}
	if win != nil {
		eventsSuppressed.Inc()
		r.logger.Info("event suppressed by maintenance window",
			zap.String("event", ev.UUID),
			zap.String("user", ev.User),
			zap.Int("window", win.ID),
		)
		return nil
	}

	r.fanOut(ctx, ev, probe, group)
	return nil
}

// fanOut delivers the event to the union of probe and group contacts,
// de-duplicated by URN. Per-contact failures are logged, never returned.
func (r *Router) fanOut(ctx context.Context, ev *Event, probe *probes.Probe, group *probes.ProbeGroup) {
	urns := probe.Contacts
	if group != nil {
		urns = append(append([]string{}, urns...), group.Contacts...)
	}
	seen := make(map[string]bool, len(urns))

	owner, err := r.resolver.Resolve(ctx, ev.User)
	if err != nil || owner == nil {
		r.logger.Error("owner resolution failed",
			zap.String("event", ev.UUID),
			zap.String("user", ev.User),
			zap.Error(err),
		)
		return
	}

	msg := renderMessage(ev, probe)
	for _, urn := range urns {
		if seen[urn] {
			continue
		}
		seen[urn] = true

		contact, err := account.ResolveContact(owner, urn, r.notifiers)
		if err != nil {
			r.logger.Warn("contact resolution failed",
				zap.String("event", ev.UUID),
				zap.String("urn", urn),
				zap.Error(err),
			)
			r.configAlarm(ctx, owner, probe, urn, err.Error())
			continue
		}
		if contact.Address == "" {
			r.logger.Warn("contact has no address",
				zap.String("event", ev.UUID),
				zap.String("urn", urn),
			)
			r.configAlarm(ctx, owner, probe, urn, "contact attribute has no value")
			continue
		}

		notifier, ok := r.notifiers.Get(contact.Medium)
		if !ok {
			r.configAlarm(ctx, owner, probe, urn, "no plugin for medium "+contact.Medium)
			continue
		}
		n := notify.Notification{
			ProbeUUID: probe.UUID,
			ProbeName: probe.Name,
			Address:   contact.Address,
			Message:   msg,
			Time:      time.UnixMilli(ev.Time).UTC(),
		}
		if err := notifier.Notify(ctx, n); err != nil {
			r.logger.Warn("notification delivery failed",
				zap.String("event", ev.UUID),
				zap.String("medium", contact.Medium),
				zap.Error(err),
			)
			continue
		}
		notificationsSent.Inc()
		r.logger.Debug("notification delivered",
			zap.String("event", ev.UUID),
			zap.String("medium", contact.Medium),
		)
	}
}

// configAlarm flags a broken contact configuration to the probe owner.
func (r *Router) configAlarm(ctx context.Context, owner *account.Account, probe *probes.Probe, urn, reason string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, plugin.Event{ //nolint:errcheck // alarm delivery is best-effort
		Topic:     TopicConfigAlarm,
		Source:    "events",
		Timestamp: time.Now().UTC(),
		Payload: ConfigAlarm{
			User:  owner.UUID,
			Probe: probe.UUID,
			URN:   urn,
			Why:   reason,
		},
	})
}

// ConfigAlarm is the payload published when a contact cannot be resolved.
type ConfigAlarm struct {
	User  string `json:"user"`
	Probe string `json:"probe"`
	URN   string `json:"urn"`
	Why   string `json:"why"`
}

// renderMessage builds the human-readable notification body.
func renderMessage(ev *Event, probe *probes.Probe) string {
	name := probe.Name
	if name == "" {
		name = probe.UUID
	}
	msg := fmt.Sprintf("Probe %q entered status %q", name, ev.Status)
	if ev.Machine != "" {
		msg += fmt.Sprintf(" on machine %s", ev.Machine)
	}
	if len(ev.Value) > 0 {
		msg += fmt.Sprintf(" (value: %s)", string(ev.Value))
	}
	return msg
}
