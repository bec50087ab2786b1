// Package events is the master's event router: it accepts probe events
// from relays, matches them to probe, group, and owner, checks maintenance
// suppression, and fans out to the notification plugins.
package events

import (
	"encoding/json"

	"github.com/amonhq/amon/internal/server"
	"github.com/google/uuid"
)

// Event is a probe-emitted state transition delivered by a relay.
type Event struct {
	UUID      string          `json:"uuid"`
	Version   string          `json:"version"`
	User      string          `json:"user"`
	Time      int64           `json:"time"`
	Machine   string          `json:"machine,omitempty"`
	ProbeUUID string          `json:"probeUuid,omitempty"`
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    string          `json:"status"`
}

// validate enforces the event schema strictly. Returns a RestError on
// violation.
func (e *Event) validate() error {
	if e.UUID == "" {
		return server.NewMissingParameter("uuid")
	}
	if !isUUID(e.UUID) {
		return server.NewInvalidArgument("event uuid %q is not a UUID", e.UUID)
	}
	if e.Version == "" {
		return server.NewMissingParameter("version")
	}
	if e.User == "" {
		return server.NewMissingParameter("user")
	}
	if !isUUID(e.User) {
		return server.NewInvalidArgument("event user %q is not a UUID", e.User)
	}
	if e.Time <= 0 {
		return server.NewMissingParameter("time")
	}
	if e.Type == "" {
		return server.NewMissingParameter("type")
	}
	if e.Status == "" {
		return server.NewMissingParameter("status")
	}
	if e.ProbeUUID != "" && !isUUID(e.ProbeUUID) {
		return server.NewInvalidArgument("event probeUuid %q is not a UUID", e.ProbeUUID)
	}
	if e.Machine != "" && !isUUID(e.Machine) {
		return server.NewInvalidArgument("event machine %q is not a UUID", e.Machine)
	}
	return nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
