package env

import (
	"fmt"
	"sort"
)

// Options are passed to environment factories.
type Options struct {
	MaxEpisodeSteps int
	Cameras         bool
	Seed            int64
}

// Factory builds an environment instance.
type Factory func(opts Options) (Env, error)

// Spec describes a registered environment.
type Spec struct {
	Name        string
	Description string
	Order       int
	Factory     Factory
}

// Registry maps environment names to factories.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds spec, failing on duplicate or incomplete entries.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.Factory == nil {
		return fmt.Errorf("register env: name and factory are required")
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("register env: %s already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Make builds the environment registered under name.
func (r *Registry) Make(name string, opts Options) (Env, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", name)
	}
	e, err := spec.Factory(opts)
	if err != nil {
		return nil, fmt.Errorf("make %s: %w", name, err)
	}
	return e, nil
}

// Specs returns all registered specs ordered for menus.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}
