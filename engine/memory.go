package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
)

// Memory is a shared linear memory. Every instance created with it sees
// the same bytes. Slices returned by Read alias the memory.
type Memory struct {
	engine   *Engine
	provider api.Module
	mem      api.Memory
	module   string
	name     string
	closed   atomic.Bool
}

var (
	_ wasmthreads.Memory      = (*Memory)(nil)
	_ wasmthreads.MemorySizer = (*Memory)(nil)
)

// Import returns the namespace and name this memory satisfies.
func (m *Memory) Import() (string, string) {
	return m.module, m.name
}

func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(offset, length, m.mem.Size())
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(offset, uint32(len(data)), m.mem.Size())
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(offset, 4, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(offset, 8, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) WriteU32(offset, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(offset, 4, m.mem.Size())
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(offset, 8, m.mem.Size())
	}
	return nil
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

// Close releases the memory's namespace on the engine. Instances bound to
// it keep their view of the bytes.
func (m *Memory) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.engine.releaseMemory(m)
	return m.provider.Close(ctx)
}
