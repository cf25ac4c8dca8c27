package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// ModuleLoader compiles guest binaries, caching them by content.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource provides guest bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name identifies the source in logs and errors.
	Name() string
}

// FileSource reads a guest from disk.
type FileSource struct {
	Path string
}

func (f *FileSource) Bytes() ([]byte, error) { return os.ReadFile(f.Path) }
func (f *FileSource) Name() string           { return f.Path }

// BytesSource serves a guest held in memory.
type BytesSource struct {
	ModuleName string
	Data       []byte
}

func (m *BytesSource) Bytes() ([]byte, error) { return m.Data, nil }
func (m *BytesSource) Name() string           { return m.ModuleName }

// cacheKey names compiled bytecode by source and content, so a file rewritten
// in place is compiled again while reopening an unchanged one is free.
func cacheKey(name string, wasm []byte) string {
	sum := sha256.Sum256(wasm)
	return name + "@" + hex.EncodeToString(sum[:8])
}

// Load compiles source unless identical bytecode from the same source is
// already compiled.
func (l *ModuleLoader) Load(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	wasm, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("read guest %s: %w", source.Name(), err)
	}
	key := cacheKey(source.Name(), wasm)
	log := l.logger.With(zap.String("module", source.Name()))

	if cached, ok := l.runtime.GetCompiledModule(key); ok {
		log.Debug("Module cache hit")
		return cached, nil
	}

	start := time.Now()
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, &CompilationError{ModuleName: source.Name(), Err: err}
	}
	module := &CompiledModule{
		Module:     compiled,
		Name:       key,
		SizeBytes:  int64(len(wasm)),
		CompiledAt: start.Unix(),
	}
	l.runtime.StoreCompiledModule(module)

	log.Info("Compiled Wasm module",
		zap.Int("size_bytes", len(wasm)),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Duration("duration", time.Since(start)),
	)
	return module, nil
}

// LoadFile compiles the guest at path.
func (l *ModuleLoader) LoadFile(ctx context.Context, path string) (*CompiledModule, error) {
	return l.Load(ctx, &FileSource{Path: path})
}

// LoadBytes compiles an in-memory guest.
func (l *ModuleLoader) LoadBytes(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.Load(ctx, &BytesSource{ModuleName: name, Data: data})
}
