// Package account resolves users from the external directory and parses
// contact URNs against their attributes. Users are never created by the
// master; the directory is the source of truth.
package account

import (
	"github.com/amonhq/amon/internal/directory"
)

// Account is a user record as the master sees it: identity plus the raw
// attribute bag contact URNs resolve against.
type Account struct {
	UUID     string `json:"uuid"`
	Login    string `json:"login"`
	Email    string `json:"email"`
	CN       string `json:"firstName,omitempty"`
	SN       string `json:"lastName,omitempty"`
	Operator bool   `json:"-"`

	// attrs holds every single-valued attribute from the directory entry.
	// Contact URN resolution reads addresses out of this bag.
	attrs map[string]string
}

// NewAccount constructs an account directly from its parts. Fixtures and
// tests use it; production accounts come from directory entries.
func NewAccount(uuid, login string, attrs map[string]string) *Account {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &Account{
		UUID:  uuid,
		Login: login,
		Email: attrs["email"],
		attrs: attrs,
	}
}

// Attr returns the named directory attribute, or "" if absent.
func (a *Account) Attr(name string) string {
	return a.attrs[name]
}

// accountFromEntry maps an sdcperson directory entry to an Account.
// Returns nil if the entry is not a person.
func accountFromEntry(e *directory.Entry) *Account {
	isPerson := false
	for _, oc := range e.Attrs["objectclass"] {
		if oc == directory.ObjectClassPerson {
			isPerson = true
			break
		}
	}
	if !isPerson {
		return nil
	}

	a := &Account{
		UUID:  e.First("uuid"),
		Login: e.First("login"),
		Email: e.First("email"),
		CN:    e.First("cn"),
		SN:    e.First("sn"),
		attrs: make(map[string]string, len(e.Attrs)),
	}
	for name, vals := range e.Attrs {
		if len(vals) > 0 {
			a.attrs[name] = vals[0]
		}
	}
	return a
}
