package account

import (
	"fmt"
	"strings"
)

// Contact is a resolved delivery target: a notification medium plus the
// address read off the owner's directory entry. Address is "" when the
// named attribute is missing; the caller raises a config alarm.
type Contact struct {
	URN     string `json:"urn"`
	Medium  string `json:"medium"`
	Address string `json:"address,omitempty"`
}

// MediumResolver maps a contact attribute name to a notification medium.
// The notification plugin registry implements it: the first plugin whose
// acceptsMedium predicate matches wins.
type MediumResolver interface {
	MediumFor(attrName string) (string, bool)
}

// ParseURN splits a contact URN into its attribute name and optional
// sub-key: "email" -> ("email", ""), "sms:work" -> ("sms", "work").
func ParseURN(urn string) (attrName, subKey string, err error) {
	if urn == "" {
		return "", "", fmt.Errorf("empty contact urn")
	}
	attrName, subKey, _ = strings.Cut(urn, ":")
	if attrName == "" {
		return "", "", fmt.Errorf("contact urn %q has no attribute name", urn)
	}
	return attrName, subKey, nil
}

// ResolveContact resolves a contact URN against the user's directory
// attributes. A missing attribute yields a Contact with an empty Address;
// an attribute no plugin accepts is an error.
func ResolveContact(u *Account, urn string, mediums MediumResolver) (*Contact, error) {
	attrName, subKey, err := ParseURN(urn)
	if err != nil {
		return nil, err
	}

	medium, ok := mediums.MediumFor(attrName)
	if !ok {
		return nil, fmt.Errorf("contact urn %q: no notification plugin accepts medium %q", urn, attrName)
	}

	lookup := attrName
	if subKey != "" {
		lookup = attrName + subKey
	}

	return &Contact{
		URN:     urn,
		Medium:  medium,
		Address: u.Attr(lookup),
	}, nil
}
