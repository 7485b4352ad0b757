package engine

import (
	"context"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/worker"
)

// Loader binds workers to guest-driven instances: each worker gets its own
// Instance, and the worker loop is the guest's entry export.
type Loader struct {
	Engine *Engine
}

var _ worker.Loader = (*Loader)(nil)

// Load instantiates module against memory on the loader's engine.
func (l *Loader) Load(ctx context.Context, module wasmthreads.Module, memory wasmthreads.Memory) (worker.Runtime, error) {
	inst, err := l.Engine.Instantiate(ctx, module, memory, "")
	if err != nil {
		return nil, err
	}
	return inst, nil
}
