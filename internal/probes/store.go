package probes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/internal/directory"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// Directory is the slice of the directory adapter the probe store needs.
// Defined here (consumer-side) so tests can fake it.
type Directory interface {
	Get(ctx context.Context, dn string) (*directory.Entry, error)
	Search(ctx context.Context, baseDN, filter string, scope directory.Scope) ([]directory.Entry, error)
	Put(ctx context.Context, dn string, attrs map[string][]string) error
	Del(ctx context.Context, dn string) error
}

// Store persists probes and probe groups in the directory and keeps the
// response caches coherent across writes.
type Store struct {
	dir    Directory
	caches *cache.Registry
	bus    plugin.Publisher
	logger *zap.Logger
}

// NewStore creates a probe store. bus may be nil in tests.
func NewStore(dir Directory, caches *cache.Registry, bus plugin.Publisher, logger *zap.Logger) *Store {
	return &Store{dir: dir, caches: caches, bus: bus, logger: logger}
}

// -- probes --

// ListProbes returns all probes owned by the user.
func (s *Store) ListProbes(ctx context.Context, userUUID string) ([]Probe, error) {
	c := s.caches.Get("ProbeList")
	if c != nil {
		if val, ok := c.Get(userUUID); ok {
			return val.([]Probe), nil
		}
	}

	filter := fmt.Sprintf("(objectclass=%s)", directory.ObjectClassProbe)
	entries, err := s.dir.Search(ctx, directory.UserDN(userUUID), filter, directory.ScopeOne)
	if err != nil {
		return nil, err
	}
	probes := make([]Probe, 0, len(entries))
	for i := range entries {
		probes = append(probes, *probeFromEntry(userUUID, &entries[i]))
	}

	if c != nil {
		c.Set(userUUID, probes)
	}
	return probes, nil
}

// GetProbe returns the probe (user, uuid), or nil if absent.
func (s *Store) GetProbe(ctx context.Context, userUUID, probeUUID string) (*Probe, error) {
	dn := directory.ProbeDN(userUUID, probeUUID)
	c := s.caches.Get("ProbeGet")
	if c != nil {
		if val, ok := c.Get(dn); ok {
			return val.(*Probe), nil
		}
	}

	entry, err := s.dir.Get(ctx, dn)
	if err != nil {
		return nil, err
	}
	var p *Probe
	if entry != nil {
		p = probeFromEntry(userUUID, entry)
	}

	if c != nil {
		c.Set(dn, p)
	}
	return p, nil
}

// PutProbe persists the probe and invalidates every cache the write can
// have made stale.
func (s *Store) PutProbe(ctx context.Context, p *Probe) error {
	dn := directory.ProbeDN(p.User, p.UUID)
	if err := s.dir.Put(ctx, dn, probeAttrs(p)); err != nil {
		return err
	}
	s.invalidateProbe(dn, p.Agent)
	s.publish(ctx, TopicProbeUpdated, p)
	return nil
}

// DeleteProbe removes the probe (user, uuid). Deleting an absent probe is
// not an error; cache invalidation still applies.
func (s *Store) DeleteProbe(ctx context.Context, p *Probe) error {
	dn := directory.ProbeDN(p.User, p.UUID)
	if err := s.dir.Del(ctx, dn); err != nil {
		return err
	}
	s.invalidateProbe(dn, p.Agent)
	s.publish(ctx, TopicProbeDeleted, p)
	return nil
}

// ListAgentProbes returns every probe whose agent matches, across all
// users. Serves the relay manifest endpoint.
func (s *Store) ListAgentProbes(ctx context.Context, agentUUID string) ([]Probe, error) {
	filter := fmt.Sprintf("(&(objectclass=%s)(agent=%s))", directory.ObjectClassProbe, agentUUID)
	entries, err := s.dir.Search(ctx, directory.UsersBase, filter, directory.ScopeSub)
	if err != nil {
		return nil, err
	}
	probes := make([]Probe, 0, len(entries))
	for i := range entries {
		probes = append(probes, *probeFromEntry(ownerFromDN(entries[i].DN), &entries[i]))
	}
	return probes, nil
}

// invalidateProbe applies the probe write-invalidation policy.
func (s *Store) invalidateProbe(dn, agentUUID string) {
	s.caches.InvalidateWrite("Probe", dn)
	if c := s.caches.Get("AgentProbes"); c != nil && agentUUID != "" {
		c.Del(agentUUID)
	}
}

// -- probe groups --

// ListGroups returns all probe groups owned by the user.
func (s *Store) ListGroups(ctx context.Context, userUUID string) ([]ProbeGroup, error) {
	c := s.caches.Get("ProbeGroupList")
	if c != nil {
		if val, ok := c.Get(userUUID); ok {
			return val.([]ProbeGroup), nil
		}
	}

	filter := fmt.Sprintf("(objectclass=%s)", directory.ObjectClassProbeGroup)
	entries, err := s.dir.Search(ctx, directory.UserDN(userUUID), filter, directory.ScopeOne)
	if err != nil {
		return nil, err
	}
	groups := make([]ProbeGroup, 0, len(entries))
	for i := range entries {
		groups = append(groups, *groupFromEntry(userUUID, &entries[i]))
	}

	if c != nil {
		c.Set(userUUID, groups)
	}
	return groups, nil
}

// GetGroup returns the probe group (user, uuid), or nil if absent.
func (s *Store) GetGroup(ctx context.Context, userUUID, groupUUID string) (*ProbeGroup, error) {
	dn := directory.ProbeGroupDN(userUUID, groupUUID)
	c := s.caches.Get("ProbeGroupGet")
	if c != nil {
		if val, ok := c.Get(dn); ok {
			return val.(*ProbeGroup), nil
		}
	}

	entry, err := s.dir.Get(ctx, dn)
	if err != nil {
		return nil, err
	}
	var g *ProbeGroup
	if entry != nil {
		g = groupFromEntry(userUUID, entry)
	}

	if c != nil {
		c.Set(dn, g)
	}
	return g, nil
}

// PutGroup persists the probe group and invalidates its caches.
func (s *Store) PutGroup(ctx context.Context, g *ProbeGroup) error {
	dn := directory.ProbeGroupDN(g.User, g.UUID)
	if err := s.dir.Put(ctx, dn, groupAttrs(g)); err != nil {
		return err
	}
	s.caches.InvalidateWrite("ProbeGroup", dn)
	return nil
}

// DeleteGroup removes the probe group (user, uuid).
func (s *Store) DeleteGroup(ctx context.Context, userUUID, groupUUID string) error {
	dn := directory.ProbeGroupDN(userUUID, groupUUID)
	if err := s.dir.Del(ctx, dn); err != nil {
		return err
	}
	s.caches.InvalidateWrite("ProbeGroup", dn)
	return nil
}

func (s *Store) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "probes",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// ownerFromDN extracts the owning user's uuid from a probe entry DN of the
// form "amonprobe=<p>, uuid=<u>, ou=users, o=smartdc".
func ownerFromDN(dn string) string {
	for _, part := range strings.Split(dn, ",") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "uuid="); ok {
			return rest
		}
	}
	return ""
}
