package addon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/platform"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

// Loader handles loading add-ons from disk.
type Loader struct {
	ctx       *ndll.Context
	platforms map[string]platform.Platform
	logger    *zap.Logger
}

// NewLoader creates a loader opening functions through ctx. platforms maps
// backend names to the platform serving them; a backend without an entry
// cannot be loaded.
func NewLoader(ctx *ndll.Context, platforms map[string]platform.Platform, logger *zap.Logger) *Loader {
	return &Loader{
		ctx:       ctx,
		platforms: platforms,
		logger:    logger.With(zap.String("component", "addon-loader")),
	}
}

// LoadAddon loads a single add-on from a directory. Either every declared
// function opens or none stays loaded.
func (l *Loader) LoadAddon(dir string) (*Addon, error) {
	l.logger.Debug("Loading add-on", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading add-on",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("backend", manifest.Backend),
	)

	p, ok := l.platforms[manifest.Backend]
	if !ok {
		return nil, &BackendUnavailableError{AddonName: manifest.Name, Backend: manifest.Backend}
	}

	addon := &Addon{
		Manifest:  manifest,
		Functions: make(map[string]*ndll.Function, len(manifest.Functions)),
		LoadedAt:  time.Now(),
	}
	if err := l.open(p, addon); err != nil {
		if cerr := addon.Close(); cerr != nil {
			l.logger.Warn("Failed to close partially loaded add-on",
				zap.String("name", manifest.Name),
				zap.Error(cerr),
			)
		}
		return nil, &AddonLoadError{AddonName: manifest.Name, Err: err}
	}

	l.logger.Info("Add-on loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int("functions", len(addon.Functions)),
	)

	return addon, nil
}

// open binds every declared function of a, stopping at the first failure.
func (l *Loader) open(p platform.Platform, a *Addon) error {
	lib := a.Manifest.LibraryPath()
	for _, decl := range a.Manifest.Functions {
		fn, err := l.ctx.OpenWith(p, lib, decl.Name, int(decl.Arity))
		if err != nil {
			return err
		}
		a.Functions[decl.Name] = fn
		l.logger.Debug("Bound plugin function",
			zap.String("symbol", ndll.SymbolName(decl.Name, int(decl.Arity))),
			zap.String("library", lib),
		)
	}
	return nil
}

// DiscoverAddons loads every "<path>/<dir>/manifest.yaml" under paths.
// Plugins that fail to load are logged and skipped; missing paths are ignored.
func (l *Loader) DiscoverAddons(paths []string) ([]*Addon, error) {
	var (
		addons []*Addon
		failed int
	)
	for _, base := range paths {
		if _, err := os.Stat(base); err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Add-on path does not exist", zap.String("path", base))
				continue
			}
			return nil, fmt.Errorf("failed to scan '%s': %w", base, err)
		}

		manifests, err := filepath.Glob(filepath.Join(base, "*", ManifestFile))
		if err != nil {
			return nil, fmt.Errorf("failed to scan '%s': %w", base, err)
		}
		l.logger.Debug("Scanned add-on directory",
			zap.String("path", base),
			zap.Int("manifests", len(manifests)),
		)

		for _, m := range manifests {
			dir := filepath.Dir(m)
			a, err := l.LoadAddon(dir)
			if err != nil {
				l.logger.Error("Failed to load add-on", zap.String("dir", dir), zap.Error(err))
				failed++
				continue
			}
			addons = append(addons, a)
		}
	}

	if len(addons) == 0 {
		return nil, &NoAddonsFoundError{Paths: paths}
	}
	if failed > 0 {
		l.logger.Warn("Some add-ons failed to load",
			zap.Int("loaded", len(addons)),
			zap.Int("failed", failed),
		)
	}
	return addons, nil
}
