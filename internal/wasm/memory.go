package wasm

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/tetratelabs/wazero/api"
)

// ErrNoAllocator is returned when a guest exports no malloc.
var ErrNoAllocator = errors.New("guest does not export malloc")

// Memory provides bounds-checked access to a guest's linear memory. Writes
// allocate through the guest's own malloc and free exports, so guest code can
// release what the host handed it.
type Memory struct {
	mem api.Memory

	// nil when the guest has no allocator
	malloc api.Function
	free   api.Function
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{
		mem:    module.Memory(),
		malloc: module.ExportedFunction("malloc"),
		free:   module.ExportedFunction("free"),
	}
}

// ReadString reads a NUL-terminated string of at most maxLen bytes.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, bool) {
	if m.mem == nil {
		return "", false
	}
	// Clamp so a string near the end of memory is still readable.
	if size := m.mem.Size(); ptr < size && maxLen > size-ptr {
		maxLen = size - ptr
	}
	buf, ok := m.mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}

	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}
	return string(buf[:end]), true
}

// ReadBytes copies length bytes at ptr.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	if m.mem == nil {
		return nil, false
	}
	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), buf...), true
}

// ReadWords reads n little-endian 64-bit words at ptr.
func (m *Memory) ReadWords(ptr uint32, n uint32) ([]uint64, bool) {
	buf, ok := m.ReadBytes(ptr, n*8)
	if !ok {
		return nil, false
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return words, true
}

// WriteBytes copies data into a fresh guest allocation and returns its
// pointer and length.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (uint32, uint32, error) {
	if m.malloc == nil || m.mem == nil {
		return 0, 0, ErrNoAllocator
	}
	size := uint32(len(data))
	res, err := m.malloc.Call(ctx, uint64(max(size, 1)))
	if err != nil {
		return 0, 0, &MemoryAccessError{Operation: "malloc", Length: size, Err: err}
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, 0, &MemoryAccessError{Operation: "malloc", Length: size, Err: ErrOutOfMemory}
	}
	if !m.mem.Write(ptr, data) {
		return 0, 0, &MemoryAccessError{Operation: "write", Address: ptr, Length: size, Err: ErrOutOfBounds}
	}
	return ptr, size, nil
}

// WriteString writes s followed by a NUL byte. The returned length excludes
// the terminator.
func (m *Memory) WriteString(ctx context.Context, s string) (uint32, uint32, error) {
	ptr, _, err := m.WriteBytes(ctx, append([]byte(s), 0))
	return ptr, uint32(len(s)), err
}

// WriteWords writes 64-bit words into a fresh guest allocation.
func (m *Memory) WriteWords(ctx context.Context, words []uint64) (uint32, error) {
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	ptr, _, err := m.WriteBytes(ctx, buf)
	return ptr, err
}

// CopyOut writes as much of data as fits into the guest buffer at ptr and
// returns the full length of data.
func (m *Memory) CopyOut(ptr, capacity uint32, data []byte) (uint64, bool) {
	n := min(uint32(len(data)), capacity)
	if n > 0 && (m.mem == nil || !m.mem.Write(ptr, data[:n])) {
		return 0, false
	}
	return uint64(len(data)), true
}

// Free releases a guest allocation. Guests without free leak it.
func (m *Memory) Free(ctx context.Context, ptr uint32) {
	if m.free != nil && ptr != 0 {
		_, _ = m.free.Call(ctx, uint64(ptr))
	}
}
