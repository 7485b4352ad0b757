package pool

import (
	"context"
	"strconv"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/worker"
)

// Runtime is the worker-side view of the pool runtime: the worker loop
// claims a thread from the builder named by the receiver and serves jobs
// with the worker's own Executor.
type Runtime struct {
	registry *Registry
	exec     Executor
}

var _ worker.Runtime = (*Runtime)(nil)

// NewRuntime creates a Runtime that resolves receivers in registry.
func NewRuntime(registry *Registry, exec Executor) *Runtime {
	return &Runtime{registry: registry, exec: exec}
}

// StartWorker blocks serving jobs for the pool identified by receiver.
// It returns nil when the pool closes or ctx ends.
func (r *Runtime) StartWorker(ctx context.Context, receiver uint32) error {
	b, ok := r.registry.Lookup(receiver)
	if !ok {
		return errors.NotFound(errors.PhaseRun, "pool builder", strconv.FormatUint(uint64(receiver), 10))
	}
	th, err := b.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return th.Run(ctx, r.exec)
}

// Close releases the executor if it holds resources.
func (r *Runtime) Close(ctx context.Context) error {
	if c, ok := r.exec.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

// Loader binds each worker to its own engine instance and runs the pool
// runtime on it.
type Loader struct {
	Engine   *engine.Engine
	Registry *Registry
}

var _ worker.Loader = (*Loader)(nil)

// Load instantiates module against memory and wraps the instance in a
// pool Runtime.
func (l *Loader) Load(ctx context.Context, module wasmthreads.Module, memory wasmthreads.Memory) (worker.Runtime, error) {
	inst, err := l.Engine.Instantiate(ctx, module, memory, "")
	if err != nil {
		return nil, err
	}
	return NewRuntime(l.Registry, inst), nil
}
