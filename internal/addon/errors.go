package addon

import (
	"fmt"
	"strings"
)

// ManifestNotFoundError occurs when a plugin directory has no readable
// manifest.yaml.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("read manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error { return e.Err }

// ManifestParseError occurs when manifest.yaml is not valid YAML or an arity
// is neither an integer nor MULT.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// ManifestValidationError occurs when a manifest field is missing or invalid.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid manifest %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("invalid manifest %s: %s: %s", e.Path, e.Field, e.Message)
}

// LibraryNotFoundError occurs when the library a manifest names for this host
// is missing.
type LibraryNotFoundError struct {
	ManifestPath string
	LibraryFile  string
}

func (e *LibraryNotFoundError) Error() string {
	return fmt.Sprintf("library %s named by %s does not exist", e.LibraryFile, e.ManifestPath)
}

// BackendUnavailableError occurs when no platform is configured for a
// plugin's backend.
type BackendUnavailableError struct {
	AddonName string
	Backend   string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("add-on '%s' needs the %s backend, which is not available", e.AddonName, e.Backend)
}

// AddonLoadError occurs when a declared function of a plugin cannot be bound.
// Err is usually an *ndll.LoadError.
type AddonLoadError struct {
	AddonName string
	Err       error
}

func (e *AddonLoadError) Error() string {
	return fmt.Sprintf("load add-on '%s': %v", e.AddonName, e.Err)
}

func (e *AddonLoadError) Unwrap() error { return e.Err }

// AddonNotFoundError occurs when no registered plugin has the name.
type AddonNotFoundError struct {
	AddonName string
}

func (e *AddonNotFoundError) Error() string {
	return fmt.Sprintf("add-on '%s' not found", e.AddonName)
}

// FunctionNotFoundError occurs when a qualified name does not resolve to a
// declared function. AddonName is empty when the name is not qualified.
type FunctionNotFoundError struct {
	AddonName    string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	if e.AddonName == "" {
		return fmt.Sprintf("function '%s' is not of the form <add-on>.<function>", e.FunctionName)
	}
	return fmt.Sprintf("function '%s' not found in add-on '%s'", e.FunctionName, e.AddonName)
}

// AddonAlreadyRegisteredError occurs when two plugins share a name.
type AddonAlreadyRegisteredError struct {
	AddonName string
}

func (e *AddonAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("add-on '%s' is already registered", e.AddonName)
}

// NoAddonsFoundError occurs when the plugin paths hold no loadable plugin.
type NoAddonsFoundError struct {
	Paths []string
}

func (e *NoAddonsFoundError) Error() string {
	return fmt.Sprintf("no add-ons found in %s", strings.Join(e.Paths, ", "))
}
