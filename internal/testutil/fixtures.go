// Package testutil provides shared fixtures for master tests.
package testutil

import (
	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/probes"
	"github.com/google/uuid"
)

// NewProbe returns a machine-up probe with sensible defaults, suitable for
// test fixtures. Override individual fields after creation as needed.
func NewProbe(opts ...func(*probes.Probe)) probes.Probe {
	machine := uuid.New().String()
	p := probes.Probe{
		UUID:     uuid.New().String(),
		User:     uuid.New().String(),
		Name:     "test-probe",
		Type:     "machine-up",
		Agent:    uuid.New().String(),
		Machine:  machine,
		Contacts: []string{"email"},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithType sets the probe type.
func WithType(t string) func(*probes.Probe) {
	return func(p *probes.Probe) { p.Type = t }
}

// WithOwner sets the probe's owning user.
func WithOwner(user string) func(*probes.Probe) {
	return func(p *probes.Probe) { p.User = user }
}

// WithAgent sets the probe's agent. The machine keeps its current value.
func WithAgent(agent string) func(*probes.Probe) {
	return func(p *probes.Probe) { p.Agent = agent }
}

// WithContacts sets the probe's contact URNs.
func WithContacts(urns ...string) func(*probes.Probe) {
	return func(p *probes.Probe) { p.Contacts = urns }
}

// WithGroup sets the probe's group reference.
func WithGroup(group string) func(*probes.Probe) {
	return func(p *probes.Probe) { p.Group = group }
}

// NewAccount returns a user account fixture with an email contact
// attribute.
func NewAccount(opts ...func(*account.Account)) *account.Account {
	a := account.NewAccount(uuid.New().String(), "testuser", map[string]string{
		"email": "test@example.com",
	})
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AsOperator marks the account as an operator.
func AsOperator() func(*account.Account) {
	return func(a *account.Account) { a.Operator = true }
}
