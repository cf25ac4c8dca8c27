// Package wasmtest builds small WebAssembly guests for tests. Guests are
// encoded directly so no wasm toolchain is needed.
package wasmtest

// hostModule is the import module of the bridge API.
const hostModule = "hxcffi"

const (
	i32 = 0x7f
	i64 = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func wasmVec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmSection(id byte, payload []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func funcType(params, results []byte) []byte {
	out := append([]byte{0x60}, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

// body encodes a function body; locals are (count, type) pairs.
func body(locals [][2]byte, code ...byte) []byte {
	decl := uleb(uint64(len(locals)))
	for _, l := range locals {
		decl = append(decl, l[0], l[1])
	}
	inner := append(decl, code...)
	return append(uleb(uint64(len(inner))), inner...)
}

func importFunc(module, name string, typeIdx byte) []byte {
	out := append(wasmName(module), wasmName(name)...)
	return append(out, 0x00, typeIdx)
}

func export(name string, kind, idx byte) []byte {
	return append(wasmName(name), kind, idx)
}

// Function indices of the test guest. Imports come first.
const (
	fnValInt = iota
	fnAllocInt
	fnAllocString
	fnLogMessage
	fnAdd
	fnAddFactory
	fnSetLoader
	fnSum
	fnSumFactory
	fnNullFactory
	fnTrap
	fnTrapFactory
	fnMalloc
	fnFree
	fnGreet
	fnGreetFactory
)

// Table offsets the factories return.
const (
	SlotAdd   = 1
	SlotSum   = 2
	SlotTrap  = 3
	SlotGreet = 4
)

// Greeting is what greet__0 logs and returns.
const Greeting = "hi"

// greetingAt is where the data segment places Greeting.
const greetingAt = 16

// Guest builds a guest exporting add__2, sum__MULT, null__0, trap__0 and
// greet__0 alongside hx_set_loader, malloc and free. hx_set_loader stores
// the loader it receives in the exported "loader" global.
func Guest() []byte {
	types := wasmSection(1, wasmVec(
		funcType([]byte{i64}, []byte{i64}),      // 0
		funcType([]byte{i64, i64}, []byte{i64}), // 1
		funcType(nil, []byte{i64}),              // 2
		funcType([]byte{i64}, nil),              // 3
		funcType([]byte{i32}, []byte{i32}),      // 4
		funcType([]byte{i32}, nil),              // 5
		funcType([]byte{i32, i32}, []byte{i64}), // 6
		funcType([]byte{i32, i32, i32}, nil),    // 7
	))
	imports := wasmSection(2, wasmVec(
		importFunc(hostModule, "val_int", 0),
		importFunc(hostModule, "alloc_int", 0),
		importFunc(hostModule, "alloc_string", 6),
		importFunc(hostModule, "log_message", 7),
	))
	funcs := wasmSection(3, wasmVec(
		[]byte{1}, // add
		[]byte{2}, // add__2
		[]byte{3}, // hx_set_loader
		[]byte{1}, // sum
		[]byte{2}, // sum__MULT
		[]byte{2}, // null__0
		[]byte{2}, // trap
		[]byte{2}, // trap__0
		[]byte{4}, // malloc
		[]byte{5}, // free
		[]byte{2}, // greet
		[]byte{2}, // greet__0
	))
	tables := wasmSection(4, wasmVec([]byte{0x70, 0x00, 0x08}))
	memories := wasmSection(5, wasmVec([]byte{0x00, 0x01}))
	globals := wasmSection(6, wasmVec(
		[]byte{i32, 0x01, 0x41, 0x80, 0x08, 0x0b}, // heap pointer = 1024
		[]byte{i64, 0x01, 0x42, 0x00, 0x0b},       // loader = 0
	))
	exports := wasmSection(7, wasmVec(
		export("memory", 0x02, 0),
		export("loader", 0x03, 1),
		export("malloc", 0x00, fnMalloc),
		export("free", 0x00, fnFree),
		export("add__2", 0x00, fnAddFactory),
		export("sum__MULT", 0x00, fnSumFactory),
		export("null__0", 0x00, fnNullFactory),
		export("trap__0", 0x00, fnTrapFactory),
		export("greet__0", 0x00, fnGreetFactory),
		export("hx_set_loader", 0x00, fnSetLoader),
	))
	elements := wasmSection(9, wasmVec(
		append([]byte{0x00, 0x41, SlotAdd, 0x0b}, wasmVec(
			[]byte{fnAdd}, []byte{fnSum}, []byte{fnTrap}, []byte{fnGreet},
		)...),
	))
	code := wasmSection(10, wasmVec(
		// add(a, b) = alloc_int(val_int(a) + val_int(b))
		body(nil,
			0x20, 0x00, 0x10, fnValInt,
			0x20, 0x01, 0x10, fnValInt,
			0x7c,
			0x10, fnAllocInt,
			0x0b),
		body(nil, 0x42, SlotAdd, 0x0b),
		// hx_set_loader(loader) stores loader
		body(nil, 0x20, 0x00, 0x24, 0x01, 0x0b),
		// sum(argv, n) adds val_int of each word of argv
		body([][2]byte{{0x02, i64}},
			0x02, 0x40, // block
			0x03, 0x40, // loop
			0x20, 0x03, 0x20, 0x01, 0x5a, 0x0d, 0x01, // i >= n: br_if 1
			0x20, 0x02, // acc
			0x20, 0x00, 0x20, 0x03, 0x42, 0x08, 0x7e, 0x7c, 0xa7, // argv + 8*i
			0x29, 0x03, 0x00, // i64.load
			0x10, fnValInt,
			0x7c, 0x21, 0x02, // acc += ...
			0x20, 0x03, 0x42, 0x01, 0x7c, 0x21, 0x03, // i++
			0x0c, 0x00, // br 0
			0x0b, // end loop
			0x0b, // end block
			0x20, 0x02, 0x10, fnAllocInt,
			0x0b),
		body(nil, 0x42, SlotSum, 0x0b),
		body(nil, 0x42, 0x00, 0x0b),
		body(nil, 0x00, 0x0b), // unreachable
		body(nil, 0x42, SlotTrap, 0x0b),
		// malloc(n) bumps the heap pointer
		body(nil, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x0b),
		body(nil, 0x0b),
		// greet() logs the Greeting at warn level and returns it
		body(nil,
			0x41, 0x02, 0x41, greetingAt, 0x41, byte(len(Greeting)), 0x10, fnLogMessage,
			0x41, greetingAt, 0x41, byte(len(Greeting)), 0x10, fnAllocString,
			0x0b),
		body(nil, 0x42, SlotGreet, 0x0b),
	))
	data := wasmSection(11, wasmVec(
		append([]byte{0x00, 0x41, greetingAt, 0x0b}, wasmName(Greeting)...),
	))

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range [][]byte{types, imports, funcs, tables, memories, globals, exports, elements, code, data} {
		out = append(out, s...)
	}
	return out
}
