package bridge

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/platform"
)

// Every API entry takes and returns pointer-sized words: tokens, ints as
// intptr_t, bools as 0/1, floats as IEEE-754 bits and C strings.
var entries = map[string]any{
	"alloc_null": func() uintptr { return 0 },
	"alloc_int": func(n uintptr) uintptr {
		return run("alloc_int", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocInt(int(n))), nil
		})
	},
	"val_int": func(v uintptr) uintptr {
		return run("val_int", func(b *Bridge) (uintptr, error) {
			n, err := b.Int(handle.Token(v))
			return uintptr(n), err
		})
	},
	"alloc_float": func(bits uintptr) uintptr {
		return run("alloc_float", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocFloat(math.Float64frombits(uint64(bits)))), nil
		})
	},
	"val_float": func(v uintptr) uintptr {
		return run("val_float", func(b *Bridge) (uintptr, error) {
			f, err := b.Float(handle.Token(v))
			return uintptr(math.Float64bits(f)), err
		})
	},
	"alloc_bool": func(v uintptr) uintptr {
		return run("alloc_bool", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocBool(v != 0)), nil
		})
	},
	"val_bool": func(v uintptr) uintptr {
		return run("val_bool", func(b *Bridge) (uintptr, error) {
			ok, err := b.Bool(handle.Token(v))
			if ok {
				return 1, err
			}
			return 0, err
		})
	},
	"alloc_string": func(s uintptr) uintptr {
		return run("alloc_string", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocString(goString(s))), nil
		})
	},
	"alloc_string_len": func(s, n uintptr) uintptr {
		return run("alloc_string_len", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocString(goStringN(s, int(n)))), nil
		})
	},
	"val_string": func(v uintptr) uintptr {
		return run("val_string", func(b *Bridge) (uintptr, error) {
			return b.CString(handle.Token(v))
		})
	},
	"val_strlen": func(v uintptr) uintptr {
		return run("val_strlen", func(b *Bridge) (uintptr, error) {
			s, err := b.String(handle.Token(v))
			return uintptr(len(s)), err
		})
	},
	"val_type": func(v uintptr) uintptr {
		return run("val_type", func(b *Bridge) (uintptr, error) {
			t, err := b.TypeOf(handle.Token(v))
			return uintptr(t), err
		})
	},
	"val_id": func(name uintptr) uintptr {
		return run("val_id", func(b *Bridge) (uintptr, error) {
			return uintptr(b.ID(goString(name))), nil
		})
	},
	"val_field": func(obj, id uintptr) uintptr {
		return run("val_field", func(b *Bridge) (uintptr, error) {
			t, err := b.Field(handle.Token(obj), int(id))
			return uintptr(t), err
		})
	},
	"alloc_field": func(obj, id, v uintptr) uintptr {
		return run("alloc_field", func(b *Bridge) (uintptr, error) {
			return 0, b.SetField(handle.Token(obj), int(id), handle.Token(v))
		})
	},
	"alloc_empty_object": func() uintptr {
		return run("alloc_empty_object", func(b *Bridge) (uintptr, error) {
			return uintptr(b.EmptyObject()), nil
		})
	},
	"alloc_array": func(n uintptr) uintptr {
		return run("alloc_array", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocArray(int(n))), nil
		})
	},
	"val_array_size": func(a uintptr) uintptr {
		return run("val_array_size", func(b *Bridge) (uintptr, error) {
			n, err := b.ArraySize(handle.Token(a))
			return uintptr(n), err
		})
	},
	"val_array_i": func(a, i uintptr) uintptr {
		return run("val_array_i", func(b *Bridge) (uintptr, error) {
			t, err := b.ArrayAt(handle.Token(a), int(i))
			return uintptr(t), err
		})
	},
	"val_array_set_i": func(a, i, v uintptr) uintptr {
		return run("val_array_set_i", func(b *Bridge) (uintptr, error) {
			return 0, b.ArraySet(handle.Token(a), int(i), handle.Token(v))
		})
	},
	"val_array_push": func(a, v uintptr) uintptr {
		return run("val_array_push", func(b *Bridge) (uintptr, error) {
			return 0, b.ArrayPush(handle.Token(a), handle.Token(v))
		})
	},
	"val_call0": func(fn uintptr) uintptr {
		return call("val_call0", fn)
	},
	"val_call1": func(fn, a1 uintptr) uintptr {
		return call("val_call1", fn, a1)
	},
	"val_call2": func(fn, a1, a2 uintptr) uintptr {
		return call("val_call2", fn, a1, a2)
	},
	"val_call3": func(fn, a1, a2, a3 uintptr) uintptr {
		return call("val_call3", fn, a1, a2, a3)
	},
	"val_callN": func(fn, argv, n uintptr) uintptr {
		return run("val_callN", func(b *Bridge) (uintptr, error) {
			t, err := b.Call(handle.Token(fn), tokenSlice(argv, int(n)))
			return uintptr(t), err
		})
	},
	"val_ocall0": func(obj, id uintptr) uintptr {
		return ocall("val_ocall0", obj, id)
	},
	"val_ocall1": func(obj, id, a1 uintptr) uintptr {
		return ocall("val_ocall1", obj, id, a1)
	},
	"val_ocall2": func(obj, id, a1, a2 uintptr) uintptr {
		return ocall("val_ocall2", obj, id, a1, a2)
	},
	"val_ocallN": func(obj, id, argv, n uintptr) uintptr {
		return run("val_ocallN", func(b *Bridge) (uintptr, error) {
			t, err := b.Invoke(handle.Token(obj), int(id), tokenSlice(argv, int(n)))
			return uintptr(t), err
		})
	},
	"alloc_root": func(v uintptr) uintptr {
		return run("alloc_root", func(b *Bridge) (uintptr, error) {
			t, err := b.Root(handle.Token(v))
			return uintptr(t), err
		})
	},
	"free_root": func(r uintptr) uintptr {
		return run("free_root", func(b *Bridge) (uintptr, error) {
			return 0, b.Unroot(handle.Token(r))
		})
	},
	"val_bytes": func(v uintptr) uintptr {
		return run("val_bytes", func(b *Bridge) (uintptr, error) {
			return b.BytesAddress(handle.Token(v))
		})
	},
	"val_bytes_len": func(v uintptr) uintptr {
		return run("val_bytes_len", func(b *Bridge) (uintptr, error) {
			n, err := b.BytesLen(handle.Token(v))
			return uintptr(n), err
		})
	},
	"alloc_abstract": func(kind, data uintptr) uintptr {
		return run("alloc_abstract", func(b *Bridge) (uintptr, error) {
			return uintptr(b.AllocAbstract(kind, data)), nil
		})
	},
	"val_kind": func(v uintptr) uintptr {
		return run("val_kind", func(b *Bridge) (uintptr, error) {
			return b.AbstractKind(handle.Token(v))
		})
	},
	"val_data": func(v uintptr) uintptr {
		return run("val_data", func(b *Bridge) (uintptr, error) {
			return b.AbstractData(handle.Token(v))
		})
	},
	"val_gc": func(v, fn uintptr) uintptr {
		return run("val_gc", func(b *Bridge) (uintptr, error) {
			return 0, b.SetFinalizer(handle.Token(v), fn)
		})
	},
	"free_abstract": func(v uintptr) uintptr {
		return run("free_abstract", func(b *Bridge) (uintptr, error) {
			a, err := b.Abstract(handle.Token(v))
			if err != nil {
				return 0, err
			}
			return 0, b.DisposeAbstract(a)
		})
	},
	"log_message": func(level, msg uintptr) uintptr {
		return run("log_message", func(b *Bridge) (uintptr, error) {
			b.Log(int(level), goString(msg))
			return 0, nil
		})
	},
}

// run dispatches an entry to the active bridge. Failures, panics included,
// are logged and yield 0, which is also the null token. Nothing may unwind
// into native frames.
func run(op string, fn func(b *Bridge) (uintptr, error)) (r uintptr) {
	b := Active()
	if b == nil {
		zap.L().Error("Native callback without an active bridge", zap.String("op", op))
		return 0
	}
	defer func() {
		if p := recover(); p != nil {
			b.Misuse(op, fmt.Errorf("panic: %v", p))
			r = 0
		}
	}()
	r, err := fn(b)
	if err != nil {
		b.Misuse(op, err)
		return 0
	}
	return r
}

func call(op string, fn uintptr, args ...uintptr) uintptr {
	return run(op, func(b *Bridge) (uintptr, error) {
		t, err := b.Call(handle.Token(fn), tokens(args))
		return uintptr(t), err
	})
}

func ocall(op string, obj, id uintptr, args ...uintptr) uintptr {
	return run(op, func(b *Bridge) (uintptr, error) {
		t, err := b.Invoke(handle.Token(obj), int(id), tokens(args))
		return uintptr(t), err
	})
}

func tokens(words []uintptr) []handle.Token {
	ts := make([]handle.Token, len(words))
	for i, w := range words {
		ts[i] = handle.Token(w)
	}
	return ts
}

// EntryNames returns the names the loader callback resolves, sorted.
func EntryNames() []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var loaders = struct {
	mu         sync.Mutex
	byPlatform map[platform.Platform]uintptr
}{byPlatform: make(map[platform.Platform]uintptr)}

// LoaderCallback returns the loader callback for p, the function native
// libraries receive through their loader symbol. Called with a C string it
// returns the address of the named API entry, or 0 for unknown names.
//
// Callbacks are created once per platform and never released.
func LoaderCallback(p platform.Platform) (uintptr, error) {
	loaders.mu.Lock()
	defer loaders.mu.Unlock()

	if addr, ok := loaders.byPlatform[p]; ok {
		return addr, nil
	}

	table := make(map[string]uintptr, len(entries))
	for _, name := range EntryNames() {
		addr, err := p.NewCallback(entries[name])
		if err != nil {
			return 0, fmt.Errorf("register %s on %s platform: %w", name, p.Name(), err)
		}
		table[name] = addr
	}

	loader, err := p.NewCallback(func(name uintptr) uintptr {
		return table[goString(name)]
	})
	if err != nil {
		return 0, fmt.Errorf("register loader on %s platform: %w", p.Name(), err)
	}
	loaders.byPlatform[p] = loader
	return loader, nil
}

func pointer(p uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&p))
}

func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(ptr, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}

func goStringN(p uintptr, n int) string {
	if p == 0 || n <= 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(pointer(p)), n))
}

func tokenSlice(argv uintptr, n int) []handle.Token {
	if argv == 0 || n <= 0 {
		return nil
	}
	return slices.Clone(unsafe.Slice((*handle.Token)(pointer(argv)), n))
}
