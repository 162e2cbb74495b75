package operations

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Registry is the catalog of known stage classes, keyed by name
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*StageClass
	order   []string // Maintains registration order
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]*StageClass),
		order:   make([]string, 0),
	}
}

// Register adds a stage class to the registry
func (r *Registry) Register(class *StageClass) error {
	if err := class.Check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[class.Name]; exists {
		return fmt.Errorf("stage class %s already registered", class.Name)
	}

	r.classes[class.Name] = class
	r.order = append(r.order, class.Name)
	return nil
}

// MustRegister registers classes and panics on the first failure. It is
// meant for init-time catalogs.
func (r *Registry) MustRegister(classes ...*StageClass) {
	for _, c := range classes {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a stage class by name
func (r *Registry) Get(name string) (*StageClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	class, exists := r.classes[name]
	if !exists {
		return nil, fmt.Errorf("stage class %s not found", name)
	}
	return class, nil
}

// Has checks if a stage class is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.classes[name]
	return exists
}

// List returns all registered classes in registration order
func (r *Registry) List() []*StageClass {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]*StageClass, 0, len(r.order))
	for _, name := range r.order {
		classes = append(classes, r.classes[name])
	}
	return classes
}

// ListIDs returns all registered names in registration order
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Count returns the number of registered classes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.classes)
}

// OfKind returns the registered classes of one kind in registration order
func (r *Registry) OfKind(kind Kind) []*StageClass {
	var out []*StageClass
	for _, c := range r.List() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Load resolves configured names, in order, into classes of the given kind.
// Any name that is unknown or registered under another kind is a
// configuration error naming it.
func (r *Registry) Load(kind Kind, names []string) ([]*StageClass, error) {
	classes := make([]*StageClass, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, NewConfigurationError(name, fmt.Sprintf("empty %s name in configuration", kind))
		}
		class, err := r.Get(name)
		if err != nil {
			return nil, NewConfigurationError(name,
				fmt.Sprintf("%s '%s' does not resolve to a registered stage class", kind, name))
		}
		if class.Kind != kind {
			return nil, NewConfigurationError(name,
				fmt.Sprintf("%s '%s' must be a %s, found a %s", kind, name, kind, class.Kind))
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// LoadOne resolves a single configured name, as used for the loader
func (r *Registry) LoadOne(kind Kind, name string) (*StageClass, error) {
	classes, err := r.Load(kind, []string{name})
	if err != nil {
		return nil, err
	}
	return classes[0], nil
}

// FilterByGroups keeps the classes belonging to any of groups, preserving
// order. An empty filter keeps everything.
func FilterByGroups(classes []*StageClass, groups []string) []*StageClass {
	out := make([]*StageClass, 0, len(classes))
	for _, c := range classes {
		if c.InGroups(groups) {
			out = append(out, c)
		}
	}
	return out
}

// Groups returns the sorted union of the classes' groups
func Groups(classes []*StageClass) []string {
	seen := make(map[string]struct{})
	for _, c := range classes {
		for _, g := range c.GroupSet() {
			seen[g] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
