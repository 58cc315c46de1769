// Package capability tracks what the runtime environment can do.
// Checks are registered by the components that know how to probe
// (GStreamer element availability, renderer transparency support) and
// evaluated lazily, so startup never blocks on probing.
package capability

import (
	"sync"
)

// State is the tri-state result of a capability probe. A capability
// stays Unknown until something actually probes it; callers decide
// whether Unknown means "try anyway" or "assume the worst".
type State int

const (
	Unknown State = iota
	Supported
	Unsupported
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Check probes one capability
type Check func() State

// Set is a registry of named capabilities. Probe results are cached;
// environment capabilities do not change while the process runs.
type Set struct {
	mu     sync.Mutex
	checks map[string]Check
	cache  map[string]State
}

// NewSet creates an empty capability registry
func NewSet() *Set {
	return &Set{
		checks: make(map[string]Check),
		cache:  make(map[string]State),
	}
}

// Register adds or replaces the check for a capability and clears any
// cached result for it.
func (s *Set) Register(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
	delete(s.cache, name)
}

// Probe evaluates a capability, caching the first non-Unknown result
func (s *Set) Probe(name string) State {
	s.mu.Lock()
	if state, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return state
	}
	check, ok := s.checks[name]
	s.mu.Unlock()

	if !ok {
		return Unknown
	}

	state := check()

	if state != Unknown {
		s.mu.Lock()
		s.cache[name] = state
		s.mu.Unlock()
	}
	return state
}

// Report probes every registered capability, for health reporting
func (s *Set) Report() map[string]string {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.Unlock()

	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = s.Probe(name).String()
	}
	return out
}

// Bool adapts a boolean probe into a Check
func Bool(f func() bool) Check {
	return func() State {
		if f() {
			return Supported
		}
		return Unsupported
	}
}
