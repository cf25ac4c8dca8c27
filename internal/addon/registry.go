package addon

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/pkg/ndll"
)

// Registry indexes loaded plugins by name and their functions by qualified
// "<plugin>.<function>" name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Addon
	byQName map[string]*ndll.Function
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]*Addon),
		byQName: make(map[string]*ndll.Function),
		logger:  logger.With(zap.String("component", "addon-registry")),
	}
}

func qualify(plugin, fn string) string { return plugin + "." + fn }

// Register indexes a and its functions. Names are unique.
func (r *Registry) Register(a *Addon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.plugins[a.Name()]; dup {
		return &AddonAlreadyRegisteredError{AddonName: a.Name()}
	}
	r.plugins[a.Name()] = a
	for name, fn := range a.Functions {
		r.byQName[qualify(a.Name(), name)] = fn
	}

	r.logger.Info("Add-on registered",
		zap.String("name", a.Name()),
		zap.String("backend", a.Backend()),
		zap.Strings("functions", a.FunctionNames()),
	)
	return nil
}

// Get returns the plugin called name.
func (r *Registry) Get(name string) (*Addon, bool) {
	r.mu.RLock()
	a, ok := r.plugins[name]
	r.mu.RUnlock()
	return a, ok
}

// Function resolves a qualified function name.
func (r *Registry) Function(qualified string) (*ndll.Function, error) {
	r.mu.RLock()
	fn, ok := r.byQName[qualified]
	r.mu.RUnlock()
	if ok {
		return fn, nil
	}

	plugin, name, dotted := strings.Cut(qualified, ".")
	if !dotted {
		return nil, &FunctionNotFoundError{FunctionName: qualified}
	}
	if _, known := r.Get(plugin); !known {
		return nil, &AddonNotFoundError{AddonName: plugin}
	}
	return nil, &FunctionNotFoundError{AddonName: plugin, FunctionName: name}
}

// List returns the registered plugins ordered by name.
func (r *Registry) List() []*Addon {
	r.mu.RLock()
	out := make([]*Addon, 0, len(r.plugins))
	for _, a := range r.plugins {
		out = append(out, a)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(x, y *Addon) int { return strings.Compare(x.Name(), y.Name()) })
	return out
}

// Unregister drops the plugin called name from the index and returns it. The
// caller owns closing it.
func (r *Registry) Unregister(name string) (*Addon, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	delete(r.plugins, name)
	for fn := range a.Functions {
		delete(r.byQName, qualify(name, fn))
	}

	r.logger.Info("Add-on unregistered", zap.String("name", name))
	return a, true
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
