package probes

import (
	"strconv"

	"github.com/amonhq/amon/internal/directory"
	"github.com/amonhq/amon/internal/server"
)

// ProbeGroup is a named collection of probes sharing contacts. Probes that
// reference a group inherit the group's contacts.
type ProbeGroup struct {
	UUID     string   `json:"uuid"`
	User     string   `json:"user"`
	Name     string   `json:"name"`
	Contacts []string `json:"contacts,omitempty"`
	Disabled bool     `json:"disabled"`
}

// validate checks the group against the model constraints.
func (g *ProbeGroup) validate() error {
	if g.User == "" {
		return server.NewMissingParameter("user")
	}
	if !isUUID(g.User) {
		return server.NewInvalidArgument("user %q is not a UUID", g.User)
	}
	if g.Name == "" {
		return server.NewMissingParameter("name")
	}
	if len(g.Name) > MaxNameLen {
		return server.NewInvalidArgument("name is longer than %d characters", MaxNameLen)
	}
	return nil
}

// groupAttrs flattens a group into directory attributes.
func groupAttrs(g *ProbeGroup) map[string][]string {
	attrs := map[string][]string{
		"objectclass": {directory.ObjectClassProbeGroup},
		"uuid":        {g.UUID},
		"name":        {g.Name},
		"disabled":    {strconv.FormatBool(g.Disabled)},
	}
	if len(g.Contacts) > 0 {
		attrs["contact"] = g.Contacts
	}
	return attrs
}

// groupFromEntry maps an amonprobegroup directory entry back to a ProbeGroup.
func groupFromEntry(user string, e *directory.Entry) *ProbeGroup {
	g := &ProbeGroup{
		UUID:     e.First("uuid"),
		User:     user,
		Name:     e.First("name"),
		Contacts: e.Attrs["contact"],
	}
	g.Disabled, _ = strconv.ParseBool(e.First("disabled"))
	return g
}
