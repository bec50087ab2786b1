// Package maint owns maintenance windows: creation against the KV store,
// the time-ordered expiry reaper, and the suppression predicate the event
// router consults.
package maint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/server"
	"github.com/google/uuid"
)

// MaxDurationCount bounds the N in "Nm"/"Nh"/"Nd" end specs.
const MaxDurationCount = 1_000_000

// Window is a time-bounded alert suppression scope. Exactly one of All,
// Probes, ProbeGroups, or Machines is set. (User, ID) is unique; IDs are
// assigned by a strictly increasing per-user counter.
type Window struct {
	ID          int      `json:"id"`
	User        string   `json:"user"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Notes       string   `json:"notes,omitempty"`
	All         bool     `json:"all,omitempty"`
	Probes      []string `json:"probes,omitempty"`
	ProbeGroups []string `json:"probeGroups,omitempty"`
	Machines    []string `json:"machines,omitempty"`
}

// validate enforces the model constraints, both on create and when read
// back from storage.
func (w *Window) validate() error {
	if w.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if _, err := uuid.Parse(w.User); err != nil {
		return fmt.Errorf("user %q is not a UUID", w.User)
	}
	if w.Start <= 0 || w.End <= 0 {
		return fmt.Errorf("start and end are required")
	}
	if w.Start >= w.End {
		return fmt.Errorf("start must precede end")
	}

	scopes := 0
	if w.All {
		scopes++
	}
	if len(w.Probes) > 0 {
		scopes++
	}
	if len(w.ProbeGroups) > 0 {
		scopes++
	}
	if len(w.Machines) > 0 {
		scopes++
	}
	if scopes != 1 {
		return fmt.Errorf("exactly one of all, probes, probeGroups, machines must be set")
	}
	return nil
}

// Contains reports whether an event at timeMs targeting the given probe,
// group, and machine falls inside the window.
func (w *Window) Contains(timeMs int64, probeUUID, groupUUID, machine string) bool {
	if timeMs <= w.Start || timeMs >= w.End {
		return false
	}
	switch {
	case w.All:
		return true
	case len(w.Probes) > 0:
		return probeUUID != "" && contains(w.Probes, probeUUID)
	case len(w.ProbeGroups) > 0:
		return groupUUID != "" && contains(w.ProbeGroups, groupUUID)
	case len(w.Machines) > 0:
		return machine != "" && contains(w.Machines, machine)
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// createRequest is the POST body. Start and End accept either ms-epoch
// integers or the shorthand forms "now" and "Nm"/"Nh"/"Nd".
type createRequest struct {
	Start       json.RawMessage `json:"start"`
	End         json.RawMessage `json:"end"`
	Notes       string          `json:"notes"`
	All         bool            `json:"all"`
	Probes      []string        `json:"probes"`
	ProbeGroups []string        `json:"probeGroups"`
	Machines    []string        `json:"machines"`
}

// parseStart resolves the start spec: "now" or an absolute ms timestamp.
func parseStart(raw json.RawMessage, now time.Time) (int64, error) {
	if len(raw) == 0 {
		return 0, server.NewMissingParameter("start")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "now" {
			return now.UnixMilli(), nil
		}
		return 0, server.NewInvalidArgument("invalid start %q", s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0, server.NewInvalidArgument("invalid start %s", string(raw))
	}
	return ms, nil
}

// parseEnd resolves the end spec: "Nm"/"Nh"/"Nd" relative to now, or an
// absolute ms timestamp.
func parseEnd(raw json.RawMessage, now time.Time) (int64, error) {
	if len(raw) == 0 {
		return 0, server.NewMissingParameter("end")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := parseDuration(s)
		if err != nil {
			return 0, server.NewInvalidArgument("invalid end %q: %v", s, err)
		}
		return now.Add(d).UnixMilli(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0, server.NewInvalidArgument("invalid end %s", string(raw))
	}
	return ms, nil
}

// parseDuration parses the "Nm"/"Nh"/"Nd" shorthand with N in
// [1, MaxDurationCount].
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("expected <N><m|h|d>")
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("expected <N><m|h|d>")
	}
	if n < 1 || n > MaxDurationCount {
		return 0, fmt.Errorf("count %d out of range [1, %d]", n, MaxDurationCount)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown unit %q", s[len(s)-1])
	}
	return time.Duration(n) * unit, nil
}

// -- KV hash mapping --

// hashFields flattens a window into KV hash field/value pairs.
func hashFields(w *Window) []any {
	fields := []any{
		"id", strconv.Itoa(w.ID),
		"user", w.User,
		"start", strconv.FormatInt(w.Start, 10),
		"end", strconv.FormatInt(w.End, 10),
	}
	if w.Notes != "" {
		fields = append(fields, "notes", w.Notes)
	}
	switch {
	case w.All:
		fields = append(fields, "all", "true")
	case len(w.Probes) > 0:
		fields = append(fields, "probes", strings.Join(w.Probes, ","))
	case len(w.ProbeGroups) > 0:
		fields = append(fields, "probeGroups", strings.Join(w.ProbeGroups, ","))
	case len(w.Machines) > 0:
		fields = append(fields, "machines", strings.Join(w.Machines, ","))
	}
	return fields
}

// windowFromHash rebuilds a window from its KV hash. Returns an error for
// records that fail validation; the caller self-heals those.
func windowFromHash(h map[string]string) (*Window, error) {
	if len(h) == 0 {
		return nil, nil
	}
	w := &Window{
		User:  h["user"],
		Notes: h["notes"],
	}
	var err error
	if w.ID, err = strconv.Atoi(h["id"]); err != nil {
		return nil, fmt.Errorf("bad id %q", h["id"])
	}
	if w.Start, err = strconv.ParseInt(h["start"], 10, 64); err != nil {
		return nil, fmt.Errorf("bad start %q", h["start"])
	}
	if w.End, err = strconv.ParseInt(h["end"], 10, 64); err != nil {
		return nil, fmt.Errorf("bad end %q", h["end"])
	}
	w.All = h["all"] == "true"
	if v := h["probes"]; v != "" {
		w.Probes = strings.Split(v, ",")
	}
	if v := h["probeGroups"]; v != "" {
		w.ProbeGroups = strings.Split(v, ",")
	}
	if v := h["machines"]; v != "" {
		w.Machines = strings.Split(v, ",")
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}
