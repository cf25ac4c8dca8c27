package handle

import (
	"errors"
	"runtime"
	"unsafe"
)

// block is one unmanaged byte range handed to native code.
//
// Blocks of at least one page are mapped outside the Go heap. Smaller blocks
// come from the heap and stay pinned until released.
type block struct {
	mem    []byte
	size   int
	ptr    uintptr
	mapped bool
	pinner runtime.Pinner
}

func allocBlock(n int) (*block, error) {
	if n < 0 {
		return nil, &MemoryError{Length: n, Err: errors.New("negative length")}
	}
	size := n
	if size == 0 {
		// A zero-length block still needs a distinct, valid address.
		size = 1
	}

	if size >= pageSize {
		mem, err := mapBlock(size)
		if err == nil {
			return &block{mem: mem, size: n, ptr: uintptr(unsafe.Pointer(&mem[0])), mapped: true}, nil
		}
		if !errors.Is(err, errors.ErrUnsupported) {
			return nil, &MemoryError{Length: n, Err: err}
		}
	}

	b := &block{mem: make([]byte, size), size: n}
	b.pinner.Pin(&b.mem[0])
	b.ptr = uintptr(unsafe.Pointer(&b.mem[0]))
	return b, nil
}

// bytes exposes the block contents to Go code.
func (b *block) bytes() []byte {
	return b.mem[:b.size]
}

func (b *block) release() error {
	if b.mem == nil {
		return nil
	}
	var err error
	if b.mapped {
		err = unmapBlock(b.mem)
	} else {
		b.pinner.Unpin()
	}
	b.mem = nil
	b.ptr = 0
	return err
}
