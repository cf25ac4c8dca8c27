package ndll

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/platform/platformtest"
)

// testPlugin is a fake native library written against the loader callback,
// the way a C plugin uses it.
type testPlugin struct {
	fake     *platformtest.Fake
	loader   uintptr
	installs []uintptr
	depths   []int
	ctx      *Context

	// factoryCalls counts factory runs in libnoloader.so.
	factoryCalls int
	// finalized records, per finalizer run, the abstract data and how many
	// libraries were open at the time.
	finalized []finalizerRun
}

type finalizerRun struct {
	data   uintptr
	opened int
}

const mathLib = "libmath.so"

func newTestPlugin(t *testing.T) *testPlugin {
	t.Helper()
	p := &testPlugin{fake: platformtest.New()}

	symbols := map[string]any{
		DefaultLoaderSymbol: func(loader uintptr) {
			p.loader = loader
			p.installs = append(p.installs, loader)
		},
		"add__2": p.factory(func(a, b uintptr) uintptr {
			return p.api("alloc_int", p.api("val_int", a)+p.api("val_int", b))
		}),
		"sum__MULT": p.factory(func(argv, n uintptr) uintptr {
			total := uintptr(0)
			if n > 0 {
				for _, tok := range unsafe.Slice((*uintptr)(unsafe.Pointer(argv)), n) {
					total += p.api("val_int", tok)
				}
			}
			return p.api("alloc_int", total)
		}),
		"double__1": p.factory(func(a uintptr) uintptr {
			p.depths = append(p.depths, p.ctx.Bridge().Depth())
			return p.api("alloc_int", 2*p.api("val_int", a))
		}),
		"apply__2": p.factory(func(fn, a uintptr) uintptr {
			p.depths = append(p.depths, p.ctx.Bridge().Depth())
			return p.api("val_call1", fn, a)
		}),
		"identity__1": p.factory(func(a uintptr) uintptr { return a }),
		"stale__0":    p.factory(func() uintptr { return uintptr(handle.Token(0xdead)) }),
		"null__0":     func() uintptr { return 0 },
		"resource__0": p.factory(func() uintptr {
			res := p.api("alloc_abstract", 0x5, 0xfeed)
			p.api("val_gc", res, p.fake.Func(func(v uintptr) {
				p.finalized = append(p.finalized, finalizerRun{
					data:   p.api("val_data", v),
					opened: p.fake.OpenCount(),
				})
			}))
			return res
		}),
	}
	counts := []string{"count__0", "count__1", "count__2", "count__3", "count__4", "count__5"}
	for _, sym := range counts {
		symbols[sym] = p.factory(func(args ...uintptr) uintptr {
			total := uintptr(0)
			for i, tok := range args {
				total += uintptr(i+1) * p.api("val_int", tok)
			}
			return p.api("alloc_int", total)
		})
	}
	p.fake.AddLibrary(mathLib, symbols)
	p.fake.AddLibrary("libnoloader.so", map[string]any{
		"add__2": func() uintptr {
			p.factoryCalls++
			return p.fake.Func(func(a, b uintptr) uintptr { return 0 })
		},
	})

	ctx, err := NewContext(zaptest.NewLogger(t), &Config{Platform: p.fake})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ctx.Close()) })
	p.ctx = ctx
	return p
}

// factory returns a zero-argument factory symbol yielding fn's entry point.
func (p *testPlugin) factory(fn any) func() uintptr {
	return func() uintptr { return p.fake.Func(fn) }
}

// api calls a bridge entry resolved through the installed loader.
func (p *testPlugin) api(name string, args ...uintptr) uintptr {
	entry := p.fake.Resolve(p.loader, name)
	if entry == 0 {
		panic("unknown API entry " + name)
	}
	return p.fake.Call(entry, args...)
}
