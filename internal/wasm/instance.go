package wasm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InstanceManager instantiates compiled guests against the hxcffi host module.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// Instance is an instantiated guest.
type Instance struct {
	module  api.Module
	runtime *Runtime

	ID        string
	Name      string
	CreatedAt int64

	// Exported functions in lookup order; a function's address is its
	// position here, tagged.
	mu      sync.Mutex
	exports []api.Function
	byName  map[string]int

	closeOnce sync.Once
	closeErr  error
}

// Instantiate creates an instance of compiled. Every instance gets a unique
// module name, so one guest can be loaded many times.
func (m *InstanceManager) Instantiate(ctx context.Context, compiled *CompiledModule) (*Instance, error) {
	if err := m.runtime.ensureHost(ctx); err != nil {
		return nil, &HostFunctionError{FunctionName: HostModuleName, Err: err}
	}
	if err := m.runtime.reserveInstance(); err != nil {
		return nil, err
	}

	instanceID := uuid.NewString()
	m.logger.Debug("Instantiating Wasm module",
		zap.String("module", compiled.Name),
		zap.String("instance_id", instanceID),
	)

	// Guests are reactors: _initialize runs when present, _start never does.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize")

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		m.runtime.releaseInstance()
		return nil, &InstantiationError{
			ModuleName: compiled.Name,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      compiled.Name,
		CreatedAt: time.Now().Unix(),
		byName:    make(map[string]int),
	}
	m.runtime.instances.Store(instanceID, instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(compiled.Module.ExportedFunctions())),
	)

	return instance, nil
}

// Module returns the wazero module.
func (i *Instance) Module() api.Module { return i.module }

// export returns the index of the named export, caching it.
func (i *Instance) export(name string) (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if idx, ok := i.byName[name]; ok {
		return idx, true
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return 0, false
	}
	i.exports = append(i.exports, fn)
	i.byName[name] = len(i.exports) - 1
	return len(i.exports) - 1, true
}

func (i *Instance) exportAt(idx int) (api.Function, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if idx < 0 || idx >= len(i.exports) {
		return nil, false
	}
	return i.exports[idx], true
}

// Close closes the instance and releases its slot. Safe to call multiple
// times.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.closeErr = i.module.Close(ctx)
		i.runtime.instances.Delete(i.ID)
		i.runtime.releaseInstance()
	})
	return i.closeErr
}
