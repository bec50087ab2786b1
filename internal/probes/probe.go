// Package probes owns the probe and probe-group model: validation,
// persistence in the directory, write authorization, and the agent-probes
// manifest endpoint.
package probes

import (
	"encoding/json"
	"strconv"

	"github.com/amonhq/amon/internal/directory"
	"github.com/amonhq/amon/internal/server"
	"github.com/google/uuid"
)

// MaxNameLen bounds probe and probe-group names.
const MaxNameLen = 512

// Probe is a recurring check registered against a machine. It is uniquely
// addressed by (User, UUID).
type Probe struct {
	UUID     string          `json:"uuid"`
	User     string          `json:"user"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type"`
	Agent    string          `json:"agent"`
	Machine  string          `json:"machine,omitempty"`
	Group    string          `json:"group,omitempty"`
	Contacts []string        `json:"contacts,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`

	// RunInVMHost is private to the relay/agent serialization; the public
	// API never carries it.
	RunInVMHost bool `json:"-"`
}

// publicProbe is the wire shape for the external /pub API.
type publicProbe struct {
	UUID     string          `json:"uuid"`
	User     string          `json:"user"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type"`
	Agent    string          `json:"agent"`
	Machine  string          `json:"machine,omitempty"`
	Group    string          `json:"group,omitempty"`
	Contacts []string        `json:"contacts,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Disabled bool            `json:"disabled"`
}

// internalProbe adds the fields relays and agents need.
type internalProbe struct {
	publicProbe
	RunInVMHost bool `json:"runInVmHost"`
}

// Public returns the probe's external API serialization.
func (p *Probe) Public() any {
	return publicProbe{
		UUID:     p.UUID,
		User:     p.User,
		Name:     p.Name,
		Type:     p.Type,
		Agent:    p.Agent,
		Machine:  p.Machine,
		Group:    p.Group,
		Contacts: p.Contacts,
		Config:   p.Config,
		Disabled: p.Disabled,
	}
}

// Internal returns the serialization served to relays and agents.
func (p *Probe) Internal() any {
	return internalProbe{
		publicProbe: p.Public().(publicProbe),
		RunInVMHost: p.RunInVMHost,
	}
}

// validate checks the probe against the model constraints. It normalizes
// runLocally agent/machine inference in place. Returns a RestError on
// violation.
func (p *Probe) validate(kinds *KindRegistry) error {
	if p.User == "" {
		return server.NewMissingParameter("user")
	}
	if !isUUID(p.User) {
		return server.NewInvalidArgument("user %q is not a UUID", p.User)
	}
	if p.Type == "" {
		return server.NewMissingParameter("type")
	}
	kind, ok := kinds.Get(p.Type)
	if !ok {
		return server.NewInvalidArgument("unknown probe type: %q", p.Type)
	}

	if kind.RunLocally() {
		// Either agent or machine may be omitted and inferred from the other.
		switch {
		case p.Agent == "" && p.Machine == "":
			return server.NewMissingParameter("agent")
		case p.Agent == "":
			p.Agent = p.Machine
		case p.Machine == "":
			p.Machine = p.Agent
		case p.Agent != p.Machine:
			return server.NewInvalidArgument(
				"agent %q and machine %q must be equal for %q probes", p.Agent, p.Machine, p.Type)
		}
	}
	if p.Agent == "" {
		return server.NewMissingParameter("agent")
	}
	if !isUUID(p.Agent) {
		return server.NewInvalidArgument("agent %q is not a UUID", p.Agent)
	}
	if p.Machine != "" && !isUUID(p.Machine) {
		return server.NewInvalidArgument("machine %q is not a UUID", p.Machine)
	}
	if p.Group != "" && !isUUID(p.Group) {
		return server.NewInvalidArgument("group %q is not a UUID", p.Group)
	}
	if len(p.Name) > MaxNameLen {
		return server.NewInvalidArgument("name is longer than %d characters", MaxNameLen)
	}
	if err := kind.ValidateConfig(p.Config); err != nil {
		return server.NewInvalidArgument("invalid config: %v", err)
	}
	p.RunInVMHost = kind.RunInVMHost()
	return nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// -- directory mapping --

// probeAttrs flattens a probe into directory attributes.
func probeAttrs(p *Probe) map[string][]string {
	attrs := map[string][]string{
		"objectclass": {directory.ObjectClassProbe},
		"uuid":        {p.UUID},
		"type":        {p.Type},
		"agent":       {p.Agent},
		"disabled":    {strconv.FormatBool(p.Disabled)},
		"runinvmhost": {strconv.FormatBool(p.RunInVMHost)},
	}
	if p.Name != "" {
		attrs["name"] = []string{p.Name}
	}
	if p.Machine != "" {
		attrs["machine"] = []string{p.Machine}
	}
	if p.Group != "" {
		attrs["group"] = []string{p.Group}
	}
	if len(p.Contacts) > 0 {
		attrs["contact"] = p.Contacts
	}
	if len(p.Config) > 0 {
		attrs["config"] = []string{string(p.Config)}
	}
	return attrs
}

// probeFromEntry maps an amonprobe directory entry back to a Probe. The
// owner comes from the DN context, not the entry.
func probeFromEntry(user string, e *directory.Entry) *Probe {
	p := &Probe{
		UUID:     e.First("uuid"),
		User:     user,
		Name:     e.First("name"),
		Type:     e.First("type"),
		Agent:    e.First("agent"),
		Machine:  e.First("machine"),
		Group:    e.First("group"),
		Contacts: e.Attrs["contact"],
	}
	p.Disabled, _ = strconv.ParseBool(e.First("disabled"))
	p.RunInVMHost, _ = strconv.ParseBool(e.First("runinvmhost"))
	if cfg := e.First("config"); cfg != "" {
		p.Config = json.RawMessage(cfg)
	}
	return p
}
