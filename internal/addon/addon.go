package addon

import (
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/woxQAQ/ndll/pkg/ndll"
)

// Addon represents a loaded plugin: its manifest and one opened Function per
// declared function.
type Addon struct {
	// Manifest is the parsed plugin metadata
	Manifest *Manifest

	// Functions maps declared names to opened functions
	Functions map[string]*ndll.Function

	// LoadedAt is the timestamp when the add-on was loaded
	LoadedAt time.Time
}

// Name returns the add-on name.
func (a *Addon) Name() string {
	return a.Manifest.Name
}

// Version returns the add-on version.
func (a *Addon) Version() string {
	return a.Manifest.Version
}

// Backend returns the backend the add-on was loaded with.
func (a *Addon) Backend() string {
	return a.Manifest.Backend
}

// Function returns the named function.
func (a *Addon) Function(name string) (*ndll.Function, bool) {
	fn, ok := a.Functions[name]
	return fn, ok
}

// FunctionNames returns the declared function names in sorted order.
func (a *Addon) FunctionNames() []string {
	names := make([]string, 0, len(a.Functions))
	for name := range a.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every function, unloading their libraries.
func (a *Addon) Close() error {
	var err error
	for _, name := range a.FunctionNames() {
		err = multierr.Append(err, a.Functions[name].Close())
	}
	return err
}
