package host

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/ndll/internal/addon"
	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/wasm/wasmtest"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

const guestManifest = `
name: guest
version: 0.1.0
backend: wasm
library:
  wasm: guest.wasm
functions:
  - name: add
    arity: 2
  - name: sum
    arity: MULT
  - name: greet
    arity: 0
`

func newTestHost(t *testing.T) (*Host, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "guest")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, addon.ManifestFile), []byte(guestManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guest.wasm"), wasmtest.Guest(), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.PluginPaths = []string{root}

	h, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h, filepath.Join(dir, "guest.wasm")
}

func TestHost_WasmPlugin(t *testing.T) {
	h, _ := newTestHost(t)
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	require.NoError(t, h.LoadPlugins())
	require.Equal(t, 1, h.Manager().Registry().Count())

	got, err := h.Call("guest.add", 3, 4)
	require.NoError(t, err)
	require.Equal(t, 7, got)

	got, err = h.Call("guest.sum", 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 6, got)

	got, err = h.Call("guest.greet")
	require.NoError(t, err)
	require.Equal(t, wasmtest.Greeting, got)

	rec := httptest.NewRecorder()
	h.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `ndll_calls_total{arity="2",function="add"} 1`)
	require.Contains(t, body, `ndll_calls_total{arity="mult",function="sum"} 1`)
	require.Contains(t, body, `ndll_loads_total{arity="0",function="greet",outcome="ok"} 1`)
	require.Contains(t, body, `ndll_handles{class="persistent"} 0`)
}

func TestHost_CallLibrary(t *testing.T) {
	h, path := newTestHost(t)
	defer h.Close(context.Background())

	got, err := h.CallLibrary(addon.BackendWasm, path, "add", 2, 20, 22)
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 0, h.Context().Loaded(), "one-shot calls unload the library")

	_, err = h.CallLibrary("jvm", path, "add", 2, 1, 2)
	require.Error(t, err)

	_, err = h.CallLibrary(addon.BackendWasm, path, "missing", 0)
	var loadErr *ndll.LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestHost_ConcurrentCalls(t *testing.T) {
	h, path := newTestHost(t)
	defer func() { require.NoError(t, h.Close(context.Background())) }()
	require.NoError(t, h.LoadPlugins())
	loaded := h.Context().Loaded()

	const workers, calls = 8, 100
	results := make([][]any, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range calls {
				var got any
				var err error
				if i%10 == 0 {
					got, err = h.CallLibrary(addon.BackendWasm, path, "add", 2, 20, 22)
				} else {
					got, err = h.Call("guest.add", 20, 22)
				}
				if err != nil {
					got = err
				}
				results[w] = append(results[w], got)
			}
		}()
	}
	wg.Wait()

	for _, got := range results {
		require.Len(t, got, calls)
		for _, v := range got {
			require.Equal(t, 42, v)
		}
	}
	require.Equal(t, loaded, h.Context().Loaded(), "one-shot libraries are unloaded")
}

func TestHost_SingleInstance(t *testing.T) {
	h, _ := newTestHost(t)
	defer h.Close(context.Background())

	cfg, err := config.Load("")
	require.NoError(t, err)
	_, err = New(context.Background(), cfg, zaptest.NewLogger(t))
	var active *ndll.ContextActiveError
	require.ErrorAs(t, err, &active)
}
