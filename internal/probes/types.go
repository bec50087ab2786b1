package probes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Kind is a registered probe kind. It validates probe-type-specific config
// and declares where the check may run.
type Kind interface {
	// Name returns the kind identifier ("machine-up", "log-scan", "http").
	Name() string

	// RunLocally reports whether the probe runs on the machine it watches,
	// in which case agent and machine must be equal.
	RunLocally() bool

	// RunInVMHost reports whether the probe may run on the physical host of
	// the VM it watches.
	RunInVMHost() bool

	// ValidateConfig checks the probe's opaque config object. Violations
	// surface to the caller as invalid-argument errors.
	ValidateConfig(cfg json.RawMessage) error
}

// KindRegistry maps kind names to Kind instances. Populated at startup,
// read-only afterwards.
type KindRegistry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewKindRegistry creates a registry preloaded with the built-in kinds.
func NewKindRegistry() *KindRegistry {
	r := &KindRegistry{kinds: make(map[string]Kind)}
	r.Register(machineUpKind{})
	r.Register(logScanKind{})
	r.Register(httpKind{})
	return r
}

// Register adds a kind.
func (r *KindRegistry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name()] = k
}

// Get returns the kind for name.
func (r *KindRegistry) Get(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Names returns the registered kind names, sorted.
func (r *KindRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -- Built-in kinds --

// machineUpKind watches a VM's liveness from its physical host.
type machineUpKind struct{}

func (machineUpKind) Name() string      { return "machine-up" }
func (machineUpKind) RunLocally() bool  { return false }
func (machineUpKind) RunInVMHost() bool { return true }

func (machineUpKind) ValidateConfig(cfg json.RawMessage) error {
	if len(cfg) > 0 && string(cfg) != "null" && string(cfg) != "{}" {
		return fmt.Errorf("machine-up probes take no config")
	}
	return nil
}

// logScanKind tails a log file on the monitored machine and matches lines
// against a pattern.
type logScanKind struct{}

func (logScanKind) Name() string      { return "log-scan" }
func (logScanKind) RunLocally() bool  { return true }
func (logScanKind) RunInVMHost() bool { return false }

type logScanConfig struct {
	Path   string `json:"path"`
	Regex  string `json:"regex"`
	Period int    `json:"period,omitempty"`
}

func (logScanKind) ValidateConfig(cfg json.RawMessage) error {
	if len(cfg) == 0 {
		return fmt.Errorf("config is required for log-scan probes")
	}
	var c logScanConfig
	if err := json.Unmarshal(cfg, &c); err != nil {
		return fmt.Errorf("config is not an object: %v", err)
	}
	if c.Path == "" {
		return fmt.Errorf("config.path is required")
	}
	if c.Regex == "" {
		return fmt.Errorf("config.regex is required")
	}
	if _, err := regexp.Compile(c.Regex); err != nil {
		return fmt.Errorf("config.regex does not compile: %v", err)
	}
	return nil
}

// httpKind polls an HTTP endpoint on the monitored machine.
type httpKind struct{}

func (httpKind) Name() string      { return "http" }
func (httpKind) RunLocally() bool  { return true }
func (httpKind) RunInVMHost() bool { return false }

type httpConfig struct {
	URL    string `json:"url"`
	Period int    `json:"period,omitempty"`
}

func (httpKind) ValidateConfig(cfg json.RawMessage) error {
	if len(cfg) == 0 {
		return fmt.Errorf("config is required for http probes")
	}
	var c httpConfig
	if err := json.Unmarshal(cfg, &c); err != nil {
		return fmt.Errorf("config is not an object: %v", err)
	}
	if c.URL == "" {
		return fmt.Errorf("config.url is required")
	}
	return nil
}
