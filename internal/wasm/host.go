package wasm

import (
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/bridge"
	"github.com/woxQAQ/ndll/internal/handle"
)

// HostModuleName is the import module guests take the bridge API from.
const HostModuleName = "hxcffi"

// hostModule implements the bridge API for guests. Tokens and ints are i64,
// floats are f64 and strings are (ptr, len) pairs in guest memory. Values the
// host returns into guest buffers are copied; the result is the full length
// so guests can retry with a larger buffer.
type hostModule struct {
	logger *zap.Logger
}

func instantiateHost(ctx context.Context, r wazero.Runtime, logger *zap.Logger) error {
	h := &hostModule{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
	builder := r.NewHostModuleBuilder(HostModuleName)
	for name, fn := range h.functions() {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

// HostFunctionNames returns the names of the hxcffi imports.
func HostFunctionNames() []string {
	h := &hostModule{logger: zap.NewNop()}
	names := make([]string, 0, 48)
	for name := range h.functions() {
		names = append(names, name)
	}
	return names
}

// run dispatches to the active bridge; failures are logged and yield 0.
func (h *hostModule) run(op string, fn func(b *bridge.Bridge) (uint64, error)) (r uint64) {
	b := bridge.Active()
	if b == nil {
		h.logger.Error("Host call without an active bridge", zap.String("op", op))
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

func (h *hostModule) token(op string, fn func(b *bridge.Bridge) (handle.Token, error)) uint64 {
	return h.run(op, func(b *bridge.Bridge) (uint64, error) {
		t, err := fn(b)
		return uint64(t), err
	})
}

func guestString(mod api.Module, ptr, n uint32) (string, error) {
	buf, ok := NewMemory(mod).ReadBytes(ptr, n)
	if !ok {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: n, Err: ErrOutOfBounds}
	}
	return string(buf), nil
}

func guestTokens(mod api.Module, argv, n uint32) ([]handle.Token, error) {
	if n == 0 {
		return nil, nil
	}
	words, ok := NewMemory(mod).ReadWords(argv, n)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: argv, Length: n * 8, Err: ErrOutOfBounds}
	}
	ts := make([]handle.Token, n)
	for i, w := range words {
		ts[i] = handle.Token(w)
	}
	return ts, nil
}

func copyOut(mod api.Module, buf, capacity uint32, data []byte) (uint64, error) {
	n, ok := NewMemory(mod).CopyOut(buf, capacity, data)
	if !ok {
		return 0, &MemoryAccessError{Operation: "write", Address: buf, Length: capacity, Err: ErrOutOfBounds}
	}
	return n, nil
}

func (h *hostModule) functions() map[string]any {
	return map[string]any{
		"alloc_null": func(context.Context) uint64 { return 0 },
		"alloc_int": func(_ context.Context, n int64) uint64 {
			return h.token("alloc_int", func(b *bridge.Bridge) (handle.Token, error) {
				return b.AllocInt(int(n)), nil
			})
		},
		"val_int": func(_ context.Context, v uint64) int64 {
			return int64(h.run("val_int", func(b *bridge.Bridge) (uint64, error) {
				n, err := b.Int(handle.Token(v))
				return uint64(n), err
			}))
		},
		"alloc_float": func(_ context.Context, f float64) uint64 {
			return h.token("alloc_float", func(b *bridge.Bridge) (handle.Token, error) {
				return b.AllocFloat(f), nil
			})
		},
		"val_float": func(_ context.Context, v uint64) float64 {
			return math.Float64frombits(h.run("val_float", func(b *bridge.Bridge) (uint64, error) {
				f, err := b.Float(handle.Token(v))
				return math.Float64bits(f), err
			}))
		},
		"alloc_bool": func(_ context.Context, v uint32) uint64 {
			return h.token("alloc_bool", func(b *bridge.Bridge) (handle.Token, error) {
				return b.AllocBool(v != 0), nil
			})
		},
		"val_bool": func(_ context.Context, v uint64) uint32 {
			return uint32(h.run("val_bool", func(b *bridge.Bridge) (uint64, error) {
				ok, err := b.Bool(handle.Token(v))
				if ok {
					return 1, err
				}
				return 0, err
			}))
		},
		"alloc_string": func(_ context.Context, mod api.Module, ptr, n uint32) uint64 {
			return h.token("alloc_string", func(b *bridge.Bridge) (handle.Token, error) {
				s, err := guestString(mod, ptr, n)
				if err != nil {
					return handle.Null, err
				}
				return b.AllocString(s), nil
			})
		},
		"val_strlen": func(_ context.Context, v uint64) uint64 {
			return h.run("val_strlen", func(b *bridge.Bridge) (uint64, error) {
				s, err := b.String(handle.Token(v))
				return uint64(len(s)), err
			})
		},
		"val_string": func(_ context.Context, mod api.Module, v uint64, buf, capacity uint32) uint64 {
			return h.run("val_string", func(b *bridge.Bridge) (uint64, error) {
				s, err := b.String(handle.Token(v))
				if err != nil {
					return 0, err
				}
				return copyOut(mod, buf, capacity, []byte(s))
			})
		},
		"val_type": func(_ context.Context, v uint64) int32 {
			b := bridge.Active()
			if b == nil {
				return int32(bridge.TypeUnknown)
			}
			t, err := b.TypeOf(handle.Token(v))
			if err != nil {
				b.Misuse("val_type", err)
			}
			return int32(t)
		},
		"val_id": func(_ context.Context, mod api.Module, ptr, n uint32) int64 {
			return int64(h.run("val_id", func(b *bridge.Bridge) (uint64, error) {
				name, err := guestString(mod, ptr, n)
				if err != nil {
					return 0, err
				}
				return uint64(b.ID(name)), nil
			}))
		},
		"val_field": func(_ context.Context, obj uint64, id int64) uint64 {
			return h.token("val_field", func(b *bridge.Bridge) (handle.Token, error) {
				return b.Field(handle.Token(obj), int(id))
			})
		},
		"alloc_field": func(_ context.Context, obj uint64, id int64, v uint64) {
			h.run("alloc_field", func(b *bridge.Bridge) (uint64, error) {
				return 0, b.SetField(handle.Token(obj), int(id), handle.Token(v))
			})
		},
		"alloc_empty_object": func(context.Context) uint64 {
			return h.token("alloc_empty_object", func(b *bridge.Bridge) (handle.Token, error) {
				return b.EmptyObject(), nil
			})
		},
		"alloc_array": func(_ context.Context, n int64) uint64 {
			return h.token("alloc_array", func(b *bridge.Bridge) (handle.Token, error) {
				return b.AllocArray(int(n)), nil
			})
		},
		"val_array_size": func(_ context.Context, a uint64) int64 {
			return int64(h.run("val_array_size", func(b *bridge.Bridge) (uint64, error) {
				n, err := b.ArraySize(handle.Token(a))
				return uint64(n), err
			}))
		},
		"val_array_i": func(_ context.Context, a uint64, i int64) uint64 {
			return h.token("val_array_i", func(b *bridge.Bridge) (handle.Token, error) {
				return b.ArrayAt(handle.Token(a), int(i))
			})
		},
		"val_array_set_i": func(_ context.Context, a uint64, i int64, v uint64) {
			h.run("val_array_set_i", func(b *bridge.Bridge) (uint64, error) {
				return 0, b.ArraySet(handle.Token(a), int(i), handle.Token(v))
			})
		},
		"val_array_push": func(_ context.Context, a, v uint64) {
			h.run("val_array_push", func(b *bridge.Bridge) (uint64, error) {
				return 0, b.ArrayPush(handle.Token(a), handle.Token(v))
			})
		},
		"val_call0": func(_ context.Context, fn uint64) uint64 {
			return h.call("val_call0", fn)
		},
		"val_call1": func(_ context.Context, fn, a1 uint64) uint64 {
			return h.call("val_call1", fn, a1)
		},
		"val_call2": func(_ context.Context, fn, a1, a2 uint64) uint64 {
			return h.call("val_call2", fn, a1, a2)
		},
		"val_call3": func(_ context.Context, fn, a1, a2, a3 uint64) uint64 {
			return h.call("val_call3", fn, a1, a2, a3)
		},
		"val_callN": func(_ context.Context, mod api.Module, fn uint64, argv, n uint32) uint64 {
			return h.token("val_callN", func(b *bridge.Bridge) (handle.Token, error) {
				args, err := guestTokens(mod, argv, n)
				if err != nil {
					return handle.Null, err
				}
				return b.Call(handle.Token(fn), args)
			})
		},
		"val_ocall0": func(_ context.Context, obj uint64, id int64) uint64 {
			return h.ocall("val_ocall0", obj, id)
		},
		"val_ocall1": func(_ context.Context, obj uint64, id int64, a1 uint64) uint64 {
			return h.ocall("val_ocall1", obj, id, a1)
		},
		"val_ocall2": func(_ context.Context, obj uint64, id int64, a1, a2 uint64) uint64 {
			return h.ocall("val_ocall2", obj, id, a1, a2)
		},
		"val_ocallN": func(_ context.Context, mod api.Module, obj uint64, id int64, argv, n uint32) uint64 {
			return h.token("val_ocallN", func(b *bridge.Bridge) (handle.Token, error) {
				args, err := guestTokens(mod, argv, n)
				if err != nil {
					return handle.Null, err
				}
				return b.Invoke(handle.Token(obj), int(id), args)
			})
		},
		"alloc_root": func(_ context.Context, v uint64) uint64 {
			return h.token("alloc_root", func(b *bridge.Bridge) (handle.Token, error) {
				return b.Root(handle.Token(v))
			})
		},
		"free_root": func(_ context.Context, r uint64) {
			h.run("free_root", func(b *bridge.Bridge) (uint64, error) {
				return 0, b.Unroot(handle.Token(r))
			})
		},
		"val_bytes_len": func(_ context.Context, v uint64) uint64 {
			return h.run("val_bytes_len", func(b *bridge.Bridge) (uint64, error) {
				n, err := b.BytesLen(handle.Token(v))
				return uint64(n), err
			})
		},
		"val_bytes": func(_ context.Context, mod api.Module, v uint64, buf, capacity uint32) uint64 {
			return h.run("val_bytes", func(b *bridge.Bridge) (uint64, error) {
				val, err := b.Unwrap(handle.Token(v))
				if err != nil {
					return 0, err
				}
				switch val := val.(type) {
				case []byte:
					return copyOut(mod, buf, capacity, val)
				case string:
					return copyOut(mod, buf, capacity, []byte(val))
				}
				return 0, &bridge.TypeError{Op: "val_bytes", Want: bridge.TypeArray, Got: bridge.TypeOf(val)}
			})
		},
		"alloc_abstract": func(_ context.Context, kind, data uint64) uint64 {
			return h.token("alloc_abstract", func(b *bridge.Bridge) (handle.Token, error) {
				return b.AllocAbstract(uintptr(kind), uintptr(data)), nil
			})
		},
		"val_kind": func(_ context.Context, v uint64) uint64 {
			return h.run("val_kind", func(b *bridge.Bridge) (uint64, error) {
				p, err := b.AbstractKind(handle.Token(v))
				return uint64(p), err
			})
		},
		"val_data": func(_ context.Context, v uint64) uint64 {
			return h.run("val_data", func(b *bridge.Bridge) (uint64, error) {
				p, err := b.AbstractData(handle.Token(v))
				return uint64(p), err
			})
		},
		"val_gc": func(_ context.Context, v, fn uint64) {
			h.run("val_gc", func(b *bridge.Bridge) (uint64, error) {
				return 0, b.SetFinalizer(handle.Token(v), uintptr(fn))
			})
		},
		"free_abstract": func(_ context.Context, v uint64) {
			h.run("free_abstract", func(b *bridge.Bridge) (uint64, error) {
				a, err := b.Abstract(handle.Token(v))
				if err != nil {
					return 0, err
				}
				return 0, b.DisposeAbstract(a)
			})
		},
		"log_message": h.logMessage,
	}
}

func (h *hostModule) call(op string, fn uint64, args ...uint64) uint64 {
	return h.token(op, func(b *bridge.Bridge) (handle.Token, error) {
		return b.Call(handle.Token(fn), words(args))
	})
}

func (h *hostModule) ocall(op string, obj uint64, id int64, args ...uint64) uint64 {
	return h.token(op, func(b *bridge.Bridge) (handle.Token, error) {
		return b.Invoke(handle.Token(obj), int(id), words(args))
	})
}

func words(args []uint64) []handle.Token {
	ts := make([]handle.Token, len(args))
	for i, a := range args {
		ts[i] = handle.Token(a)
	}
	return ts
}

// logMessage is called by guests to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *hostModule) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	// Messages go through the active bridge so they carry its fields.
	if b := bridge.Active(); b != nil {
		b.Log(int(level), string(msg))
		return
	}
	h.logger.Info(string(msg), zap.Uint32("level", level))
}
