package addon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/ndll/pkg/ndll"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "manifest.yaml"

// Backends a plugin can be built for.
const (
	BackendNative = "native"
	BackendWasm   = "wasm"
)

// Manifest represents the plugin manifest.yaml structure.
type Manifest struct {
	Name      string            `yaml:"name"`
	Version   string            `yaml:"version"`
	Backend   string            `yaml:"backend"`
	Library   map[string]string `yaml:"library"`
	Functions []FunctionSpec    `yaml:"functions"`
	Author    string            `yaml:"author"`
	License   string            `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// FunctionSpec declares one exported function.
type FunctionSpec struct {
	Name  string `yaml:"name"`
	Arity Arity  `yaml:"arity"`
}

// Arity is a fixed argument count or ndll.VarArgs. In YAML it is an integer
// or the string "MULT".
type Arity int

// UnmarshalYAML accepts integers and "MULT".
func (a *Arity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: arity must be a scalar", node.Line)
	}
	if strings.EqualFold(node.Value, "mult") {
		*a = Arity(ndll.VarArgs)
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: arity must be an integer or MULT, got %q", node.Line, node.Value)
	}
	*a = Arity(n)
	return nil
}

// MarshalYAML writes VarArgs as "MULT".
func (a Arity) MarshalYAML() (any, error) {
	if int(a) == ndll.VarArgs {
		return "MULT", nil
	}
	return int(a), nil
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	if m.Backend == "" {
		m.Backend = BackendNative
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Manifest) invalid(field, format string, args ...any) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return m.invalid("name", "name is required")
	}
	// Qualified function names are "<plugin>.<function>".
	if strings.Contains(m.Name, ".") {
		return m.invalid("name", "name must not contain '.': %s", m.Name)
	}
	if m.Version == "" {
		return m.invalid("version", "version is required")
	}

	switch m.Backend {
	case BackendNative, BackendWasm:
	default:
		return m.invalid("backend", "unsupported backend: %s (must be one of: native, wasm)", m.Backend)
	}

	if m.LibraryFile() == "" {
		return m.invalid("library", "no library for %s", m.libraryKey())
	}

	if len(m.Functions) == 0 {
		return m.invalid("functions", "at least one function is required")
	}
	seen := make(map[string]bool, len(m.Functions))
	for i, fn := range m.Functions {
		field := fmt.Sprintf("functions[%d]", i)
		if fn.Name == "" {
			return m.invalid(field, "function name is required")
		}
		if seen[fn.Name] {
			return m.invalid(field, "duplicate function: %s", fn.Name)
		}
		seen[fn.Name] = true
		if int(fn.Arity) < ndll.VarArgs || int(fn.Arity) > ndll.MaxArity {
			return m.invalid(field, "arity %d of %s outside [%d, %d]", fn.Arity, fn.Name, ndll.VarArgs, ndll.MaxArity)
		}
	}

	// Validate library file exists
	if _, err := os.Stat(m.LibraryPath()); os.IsNotExist(err) {
		return &LibraryNotFoundError{
			ManifestPath: m.Path(),
			LibraryFile:  m.LibraryFile(),
		}
	}

	return nil
}

// libraryKey is the library map key for this backend and host.
func (m *Manifest) libraryKey() string {
	if m.Backend == BackendWasm {
		return BackendWasm
	}
	return runtime.GOOS
}

// LibraryFile returns the library file for this backend and host, relative to
// the manifest.
func (m *Manifest) LibraryFile() string {
	return m.Library[m.libraryKey()]
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// LibraryPath returns the path to the library file.
func (m *Manifest) LibraryPath() string {
	return filepath.Join(m.dir, m.LibraryFile())
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
