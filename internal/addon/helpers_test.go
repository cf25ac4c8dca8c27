package addon

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/ndll/internal/platform"
	"github.com/woxQAQ/ndll/internal/platform/platformtest"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

const mathManifest = `
name: math
version: 1.0.0
backend: native
library:
  linux: libmath.so
  darwin: libmath.dylib
  windows: math.dll
functions:
  - name: add
    arity: 2
  - name: sum
    arity: MULT
author: ndll
license: MIT
`

// writePlugin creates root/name with a manifest and empty library files for
// every entry of the manifest's library map.
func writePlugin(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, lib := range []string{"libmath.so", "libmath.dylib", "math.dll"} {
		if err := os.WriteFile(filepath.Join(dir, lib), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// fakeNative serves the math plugin's library from a fake platform.
type fakeNative struct {
	fake   *platformtest.Fake
	loader uintptr
}

func (p *fakeNative) api(name string, args ...uintptr) uintptr {
	return p.fake.Call(p.fake.Resolve(p.loader, name), args...)
}

func (p *fakeNative) addMath(dir string) {
	factory := func(fn any) func() uintptr {
		return func() uintptr { return p.fake.Func(fn) }
	}
	lib := (&Manifest{dir: dir, Backend: BackendNative, Library: map[string]string{
		"linux": "libmath.so", "darwin": "libmath.dylib", "windows": "math.dll",
	}}).LibraryPath()
	p.fake.AddLibrary(lib, map[string]any{
		ndll.DefaultLoaderSymbol: func(loader uintptr) { p.loader = loader },
		"add__2": factory(func(a, b uintptr) uintptr {
			return p.api("alloc_int", p.api("val_int", a)+p.api("val_int", b))
		}),
		"sum__MULT": factory(func(argv, n uintptr) uintptr {
			return p.api("alloc_int", n)
		}),
	})
}

func newTestContext(t *testing.T) (*ndll.Context, *fakeNative) {
	t.Helper()
	native := &fakeNative{fake: platformtest.New()}
	ctx, err := ndll.NewContext(zaptest.NewLogger(t), &ndll.Config{Platform: native.fake})
	if err != nil {
		t.Fatalf("NewContext() failed: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx, native
}

func newTestLoader(t *testing.T) (*Loader, *fakeNative, *ndll.Context) {
	t.Helper()
	ctx, native := newTestContext(t)
	loader := NewLoader(ctx, map[string]platform.Platform{BackendNative: native.fake}, zaptest.NewLogger(t))
	return loader, native, ctx
}
