package workflow

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotRegistered is returned when a (name, version) pair has no
// registered definition.
var ErrNotRegistered = errors.New("workflow: definition not registered")

// ErrAlreadyRegistered is returned by Register when (name, version) is
// already present; registrations are explicit and immutable once made.
var ErrAlreadyRegistered = errors.New("workflow: definition already registered")

// key identifies a definition by its natural (name, version) pair.
type key struct {
	name    string
	version int
}

// Registry is the process-resident map of workflow definitions, built once
// at startup from explicit registration calls (spec §9: no reflection-based
// discovery). Safe for concurrent reads; writes are expected only during
// process initialization but are still guarded.
type Registry struct {
	mu   sync.RWMutex
	defs map[key]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[key]*Definition)}
}

// Register adds a definition after validating it, rejecting duplicate
// (name, version) registration.
func (r *Registry) Register(def *Definition) error {
	if err := Validate(def); err != nil {
		return fmt.Errorf("register workflow %s v%d: %w", def.Name, def.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{name: def.Name, version: def.Version}
	if _, exists := r.defs[k]; exists {
		return fmt.Errorf("%w: %s v%d", ErrAlreadyRegistered, def.Name, def.Version)
	}
	r.defs[k] = def
	return nil
}

// Get looks up a definition by exact (name, version).
func (r *Registry) Get(name string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key{name: name, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotRegistered, name, version)
	}
	return def, nil
}

// Latest returns the highest registered version for a workflow name.
func (r *Registry) Latest(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Definition
	for k, def := range r.defs {
		if k.name != name {
			continue
		}
		if latest == nil || k.version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return latest, nil
}

// All returns every registered definition, for diagnostics and the admin
// API's workflow listing endpoint.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}
