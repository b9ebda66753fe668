package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a live Driver instance from a validated Config. It
// returns a *ConfigError when a specific field is the problem, so the
// admin collaborator can point the user at it.
type Constructor func(ctx context.Context, name string, cfg Config) (Driver, error)

// Kind is the process-wide immutable description of one driver kind,
// mirrored from the teacher's fs.RegInfo (backend/s3/s3.go's fs.Register
// call is the canonical example this is grounded on).
type Kind struct {
	Name        string
	Description string
	Options     []Option
	New         Constructor
}

// Validate checks cfg against k.Options, returning the first violated
// required-field or allowed-value constraint as a *ConfigError.
func (k *Kind) Validate(cfg Config) error {
	for _, o := range k.Options {
		v, present := cfg[o.Name]
		if o.Required && (!present || v == "") {
			return &ConfigError{Field: o.Name, Reason: "required"}
		}
		if present && len(o.Examples) > 0 {
			ok := false
			for _, ex := range o.Examples {
				if ex.Value == v {
					ok = true
					break
				}
			}
			if !ok {
				return &ConfigError{Field: o.Name, Reason: fmt.Sprintf("value %q not one of the allowed options", v)}
			}
		}
	}
	return nil
}

// Schema renders k's Options as a JSON-schema-ish description for the
// admin form collaborator.
func (k *Kind) Schema() Schema {
	return BuildSchema(k.Options)
}

// Registry is the process-wide mapping from driver_kind to Kind,
// populated by each backend's init() via Register. Safe for concurrent
// use; registration is expected to happen before the mount manager reads
// from it, but later registration (e.g. test fixtures) is supported.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
}

// global is the default process-wide registry every built-in backend
// registers into, mirroring the teacher's package-level fs.Register.
var global = NewRegistry()

// NewRegistry makes an empty registry; used by tests that don't want to
// pollute the global one.
func NewRegistry() *Registry {
	return &Registry{kinds: map[string]*Kind{}}
}

// Register adds a Kind to the global registry. Called from each
// driver/<kind> package's init().
func Register(k *Kind) {
	global.Register(k)
}

// Register adds a Kind to r.
func (r *Registry) Register(k *Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name] = k
}

// Lookup returns the Kind by name, or ok=false for an unknown kind.
func Lookup(name string) (*Kind, bool) { return global.Lookup(name) }

func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// List returns all registered Kinds sorted by name, for the admin
// collaborator's "available backends" listing.
func List() []*Kind { return global.List() }

func (r *Registry) List() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New constructs a live Driver for the named kind. Refuses unknown kinds
// and configs that fail schema validation (spec §4.2).
func New(ctx context.Context, kindName, instanceName string, cfg Config) (Driver, error) {
	return global.New(ctx, kindName, instanceName, cfg)
}

func (r *Registry) New(ctx context.Context, kindName, instanceName string, cfg Config) (Driver, error) {
	k, ok := r.Lookup(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown driver kind %q", kindName)
	}
	if err := k.Validate(cfg); err != nil {
		return nil, err
	}
	return k.New(ctx, instanceName, cfg)
}
