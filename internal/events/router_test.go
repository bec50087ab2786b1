package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/internal/directory"
	"github.com/amonhq/amon/internal/maint"
	"github.com/amonhq/amon/internal/notify"
	"github.com/amonhq/amon/internal/probes"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

const (
	ownerUUID   = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	probeUUID   = "fa123111-2222-4333-8444-555555555555"
	groupUUID   = "ab123111-2222-4333-8444-555555555555"
	machineUUID = "99999999-8888-4777-8666-555555555555"
	eventUUID   = "e0123111-2222-4333-8444-555555555555"
)

// fakeProbes serves a fixed probe/group set.
type fakeProbes struct {
	probes map[string]*probes.Probe // uuid -> probe
	groups map[string]*probes.ProbeGroup
	err    error
}

func (f *fakeProbes) GetProbe(_ context.Context, _, uuid string) (*probes.Probe, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.probes[uuid], nil
}

func (f *fakeProbes) GetGroup(_ context.Context, _, uuid string) (*probes.ProbeGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[uuid], nil
}

// fakeMaint reports a fixed set of windows.
type fakeMaint struct {
	windows []maint.Window
	err     error
}

func (f *fakeMaint) IsEventInMaintenance(_ context.Context, _ string, timeMs int64, probe, group, machine string) (*maint.Window, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.windows {
		if f.windows[i].Contains(timeMs, probe, group, machine) {
			return &f.windows[i], nil
		}
	}
	return nil, nil
}

// recordingNotifier captures deliveries.
type recordingNotifier struct {
	mu   sync.Mutex
	typ  string
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Type() string { return r.typ }
func (r *recordingNotifier) AcceptsMedium(attr string) bool {
	return attr == r.typ
}
func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// userDir answers resolver lookups for the probe owner.
type userDir struct{ attrs map[string][]string }

func (d *userDir) Get(_ context.Context, dn string) (*directory.Entry, error) {
	if dn != directory.UserDN(ownerUUID) {
		return nil, nil
	}
	attrs := map[string][]string{
		"objectclass": {directory.ObjectClassPerson},
		"uuid":        {ownerUUID},
		"login":       {"bob"},
	}
	for k, v := range d.attrs {
		attrs[k] = v
	}
	return &directory.Entry{DN: dn, Attrs: attrs}, nil
}

func (d *userDir) Search(context.Context, string, string, directory.Scope) ([]directory.Entry, error) {
	return nil, nil
}

// recordingBus captures published bus events.
type recordingBus struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (b *recordingBus) Publish(_ context.Context, e plugin.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) alarms() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []plugin.Event
	for _, e := range b.events {
		if e.Topic == TopicConfigAlarm {
			out = append(out, e)
		}
	}
	return out
}

type routerFixture struct {
	router   *Router
	email    *recordingNotifier
	bus      *recordingBus
	probeSrc *fakeProbes
	maintSrc *fakeMaint
}

func newFixture(userAttrs map[string][]string) *routerFixture {
	email := &recordingNotifier{typ: "email"}
	reg := notify.NewRegistry(zap.NewNop())
	reg.Register(email)

	resolver := account.NewResolver(
		&userDir{attrs: userAttrs},
		cache.New("UserGet", 100, time.Minute, false),
		"cn=operators, ou=groups, o=smartdc",
		zap.NewNop(),
	)

	probeSrc := &fakeProbes{
		probes: map[string]*probes.Probe{
			probeUUID: {
				UUID:     probeUUID,
				User:     ownerUUID,
				Name:     "smartlogin-up",
				Type:     "machine-up",
				Agent:    machineUUID,
				Machine:  machineUUID,
				Contacts: []string{"email"},
			},
		},
		groups: map[string]*probes.ProbeGroup{},
	}
	maintSrc := &fakeMaint{}
	bus := &recordingBus{}

	return &routerFixture{
		router:   NewRouter(probeSrc, maintSrc, reg, resolver, bus, zap.NewNop()),
		email:    email,
		bus:      bus,
		probeSrc: probeSrc,
		maintSrc: maintSrc,
	}
}

func validEvent() Event {
	return Event{
		UUID:      eventUUID,
		Version:   "1",
		User:      ownerUUID,
		Time:      2_000_000,
		Machine:   machineUUID,
		ProbeUUID: probeUUID,
		Type:      "probe",
		Status:    "error",
	}
}

func TestProcess_DeliversOneNotificationPerContact(t *testing.T) {
	fx := newFixture(map[string][]string{"email": {"bob@example.com"}})

	errs := fx.router.Process(context.Background(), []Event{validEvent()})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if fx.email.count() != 1 {
		t.Fatalf("notifications = %d, want 1", fx.email.count())
	}
	sent := fx.email.sent[0]
	if sent.Address != "bob@example.com" || sent.ProbeName != "smartlogin-up" {
		t.Errorf("notification = %+v", sent)
	}
}

func TestProcess_SuppressedByMaintenance(t *testing.T) {
	fx := newFixture(map[string][]string{"email": {"bob@example.com"}})
	fx.maintSrc.windows = []maint.Window{{
		ID: 1, User: ownerUUID, Start: 1_000_000, End: 4_600_000, All: true,
	}}

	errs := fx.router.Process(context.Background(), []Event{validEvent()})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if fx.email.count() != 0 {
		t.Fatalf("notifications = %d, want 0 while suppressed", fx.email.count())
	}

	// Removing the window restores delivery.
	fx.maintSrc.windows = nil
	if errs := fx.router.Process(context.Background(), []Event{validEvent()}); len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if fx.email.count() != 1 {
		t.Fatalf("notifications = %d, want 1 after window removal", fx.email.count())
	}
}

func TestProcess_UnknownProbeIs404(t *testing.T) {
	fx := newFixture(nil)
	ev := validEvent()
	ev.ProbeUUID = "0b123111-2222-4333-8444-555555555555"

	errs := fx.router.Process(context.Background(), []Event{ev})
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want 1", errs)
	}
	var re *server.RestError
	if !errors.As(errs[0], &re) || re.Code != "ResourceNotFound" {
		t.Errorf("err = %v, want ResourceNotFound", errs[0])
	}
}

func TestProcess_InvalidEventRejected(t *testing.T) {
	fx := newFixture(nil)

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing uuid", func(e *Event) { e.UUID = "" }},
		{"missing version", func(e *Event) { e.Version = "" }},
		{"bad user", func(e *Event) { e.User = "nope" }},
		{"zero time", func(e *Event) { e.Time = 0 }},
		{"missing status", func(e *Event) { e.Status = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			errs := fx.router.Process(context.Background(), []Event{ev})
			if len(errs) != 1 {
				t.Fatalf("errs = %v, want 1", errs)
			}
		})
	}
}

func TestProcess_PerEventIsolation(t *testing.T) {
	fx := newFixture(map[string][]string{"email": {"bob@example.com"}})

	bad := validEvent()
	bad.Status = ""
	good := validEvent()

	errs := fx.router.Process(context.Background(), []Event{bad, good})
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want only the bad event to fail", errs)
	}
	if fx.email.count() != 1 {
		t.Errorf("notifications = %d; the good event must still deliver", fx.email.count())
	}
}

func TestProcess_MissingAddressRaisesConfigAlarm(t *testing.T) {
	fx := newFixture(nil) // owner has no email attribute

	errs := fx.router.Process(context.Background(), []Event{validEvent()})
	if len(errs) != 0 {
		t.Fatalf("errs = %v; a missing address must not fail the event", errs)
	}
	if fx.email.count() != 0 {
		t.Error("no notification expected without an address")
	}
	alarms := fx.bus.alarms()
	if len(alarms) != 1 {
		t.Fatalf("config alarms = %d, want 1", len(alarms))
	}
	alarm := alarms[0].Payload.(ConfigAlarm)
	if alarm.User != ownerUUID || alarm.URN != "email" {
		t.Errorf("alarm = %+v", alarm)
	}
}

func TestProcess_GroupContactsUnionedAndDeduped(t *testing.T) {
	fx := newFixture(map[string][]string{"email": {"bob@example.com"}})
	p := fx.probeSrc.probes[probeUUID]
	p.Group = groupUUID
	fx.probeSrc.groups[groupUUID] = &probes.ProbeGroup{
		UUID:     groupUUID,
		User:     ownerUUID,
		Name:     "web-tier",
		Contacts: []string{"email"}, // duplicate of the probe's contact
	}

	errs := fx.router.Process(context.Background(), []Event{validEvent()})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if fx.email.count() != 1 {
		t.Errorf("notifications = %d, want 1 after URN dedup", fx.email.count())
	}
}

func TestProcess_NotifierFailureAbsorbed(t *testing.T) {
	fx := newFixture(map[string][]string{"email": {"bob@example.com"}})
	fx.email.err = fmt.Errorf("gateway down")

	errs := fx.router.Process(context.Background(), []Event{validEvent()})
	if len(errs) != 0 {
		t.Fatalf("errs = %v; notifier failures must never fail the event", errs)
	}
}
