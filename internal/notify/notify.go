// Package notify holds the notification plugin registry and the built-in
// delivery plugins (email, sms, webhook). The registry is populated once
// from configuration at startup and read-only afterwards.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notification is a rendered message bound for a single address.
type Notification struct {
	ProbeUUID string    `json:"probeUuid"`
	ProbeName string    `json:"probeName"`
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Notifier is a notification delivery plugin.
type Notifier interface {
	// Type returns the plugin's medium identifier ("email", "sms", "webhook").
	Type() string

	// AcceptsMedium reports whether the plugin handles addresses stored
	// under the named contact attribute.
	AcceptsMedium(attrName string) bool

	// Notify delivers the notification. Failures are logged and absorbed by
	// the caller; they never fail event routing.
	Notify(ctx context.Context, n Notification) error
}

// Registry is the process-wide notifier registry. Registration happens at
// startup; after that the registry is read-only and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	notifiers []Notifier
	byType    map[string]Notifier
	logger    *zap.Logger
}

// NewRegistry creates an empty notifier registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byType: make(map[string]Notifier),
		logger: logger,
	}
}

// Register adds a notifier. Registration order decides medium resolution
// precedence.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
	r.byType[n.Type()] = n
	r.logger.Info("notification plugin registered", zap.String("type", n.Type()))
}

// Get returns the notifier for a medium type.
func (r *Registry) Get(typ string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byType[typ]
	return n, ok
}

// MediumFor maps a contact attribute name to a medium: the first registered
// plugin whose AcceptsMedium predicate matches wins. Deterministic for a
// fixed registration order.
func (r *Registry) MediumFor(attrName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.notifiers {
		if n.AcceptsMedium(attrName) {
			return n.Type(), true
		}
	}
	return "", false
}

// Types returns the registered medium types in precedence order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, len(r.notifiers))
	for i, n := range r.notifiers {
		types[i] = n.Type()
	}
	return types
}
