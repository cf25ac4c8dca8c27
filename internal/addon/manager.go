package addon

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager owns the plugins found under a set of directories. Its methods are
// safe for concurrent use; calls run one at a time because the ndll Context is
// single-threaded.
type Manager struct {
	paths    []string
	loader   *Loader
	registry *Registry
	logger   *zap.Logger

	mu     sync.Mutex
	loaded bool
}

// NewManager creates a manager loading plugins from paths.
func NewManager(paths []string, loader *Loader, logger *zap.Logger) *Manager {
	return &Manager{
		paths:    paths,
		loader:   loader,
		registry: NewRegistry(logger),
		logger:   logger.With(zap.String("component", "addon-manager")),
	}
}

// LoadAll loads and registers every plugin under the configured paths. Finding
// none is not an error. It may run once.
func (m *Manager) LoadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("add-ons already loaded")
	}
	m.logger.Info("Loading add-ons", zap.Strings("paths", m.paths))

	addons, err := m.loader.DiscoverAddons(m.paths)
	var none *NoAddonsFoundError
	switch {
	case errors.As(err, &none):
		m.logger.Warn("No add-ons found in configured paths", zap.Strings("paths", m.paths))
	case err != nil:
		return err
	}
	for _, a := range addons {
		m.register(a)
	}

	m.loaded = true
	m.logger.Info("Add-ons loaded successfully", zap.Int("count", m.registry.Count()))
	return nil
}

// register indexes a, unloading it again when its name is taken.
func (m *Manager) register(a *Addon) bool {
	err := m.registry.Register(a)
	if err == nil {
		return true
	}
	m.logger.Error("Failed to register add-on", zap.String("name", a.Name()), zap.Error(err))
	if cerr := a.Close(); cerr != nil {
		m.logger.Warn("Failed to close unregistered add-on", zap.Error(cerr))
	}
	return false
}

// GetAddon returns the plugin called name.
func (m *Manager) GetAddon(name string) (*Addon, error) {
	a, ok := m.registry.Get(name)
	if !ok {
		return nil, &AddonNotFoundError{AddonName: name}
	}
	return a, nil
}

// Call invokes a qualified "<plugin>.<function>" with args. Calls are
// serialized with each other and with Unload, Reload and Shutdown. A managed
// callback running inside a call must not call back into the manager.
func (m *Manager) Call(qualified string, args ...any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn, err := m.registry.Function(qualified)
	if err != nil {
		return nil, err
	}
	return fn.Call(args...)
}

// Unload unregisters the plugin called name and closes its functions.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unload(name)
}

func (m *Manager) unload(name string) error {
	a, ok := m.registry.Unregister(name)
	if !ok {
		return &AddonNotFoundError{AddonName: name}
	}
	return a.Close()
}

// Reload unloads the plugin called name and loads it again from its
// directory, picking up a rebuilt library.
func (m *Manager) Reload(name string) (*Addon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.registry.Get(name)
	if !ok {
		return nil, &AddonNotFoundError{AddonName: name}
	}
	dir := old.Manifest.Dir()
	if err := m.unload(name); err != nil {
		return nil, err
	}

	a, err := m.loader.LoadAddon(dir)
	if err != nil {
		return nil, err
	}
	if !m.register(a) {
		return nil, &AddonAlreadyRegisteredError{AddonName: a.Name()}
	}
	m.logger.Info("Add-on reloaded", zap.String("name", a.Name()), zap.String("dir", dir))
	return a, nil
}

// Shutdown unloads every plugin.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Shutting down add-on manager")

	var err error
	for _, a := range m.registry.List() {
		err = multierr.Append(err, m.unload(a.Name()))
	}
	if err != nil {
		m.logger.Error("Failed to close add-ons", zap.Error(err))
		return err
	}

	m.logger.Info("Add-on manager shutdown complete")
	return nil
}

// Registry returns the plugin registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded reports whether LoadAll has run.
func (m *Manager) IsLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}
