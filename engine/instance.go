package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
)

// Instance is a worker-local instance of a Module bound to a shared
// Memory. It is NOT safe for concurrent use: one worker owns it.
type Instance struct {
	engine *Engine
	module *Module
	memory *Memory
	mod    api.Module
	name   string
	entry  string
	closed atomic.Bool
}

// Name returns the instance's module name in the runtime.
func (i *Instance) Name() string {
	return i.name
}

// Module returns the compiled module this instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Memory returns the shared memory this instance is bound to.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Call invokes an exported function with core-encoded parameters.
func (i *Instance) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseRun, "instance "+i.name)
	}
	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRun, "export", export)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, callError(err, export)
	}
	return results, nil
}

// StartWorker calls the guest's worker entry with receiver. For a real
// threaded runtime this blocks for the worker's lifetime. A guest abort
// comes back as an error wrapping *errors.AbortError.
func (i *Instance) StartWorker(ctx context.Context, receiver uint32) error {
	if i.closed.Load() {
		return errors.Closed(errors.PhaseRun, "instance "+i.name)
	}
	fn := i.mod.ExportedFunction(i.entry)
	if fn == nil {
		return errors.NotFound(errors.PhaseRun, "worker entry", i.entry)
	}
	if err := EntrySignature(i.entry).Check(fn.Definition()); err != nil {
		return err
	}
	if _, err := fn.Call(ctx, api.EncodeU32(receiver)); err != nil {
		return callError(err, i.entry)
	}
	return nil
}

func (i *Instance) runInit(ctx context.Context, export string) error {
	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return nil
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != 0 {
		i.engine.logger.Debug("init function takes parameters, skipped",
			zap.String("instance", i.name),
			zap.String("export", export),
		)
		return nil
	}
	if _, err := fn.Call(ctx); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Detail("run %s", export).
			Cause(err).
			Build()
	}
	return nil
}

// Close closes the instance. The shared memory stays alive.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.mod.Close(ctx)
}

func callError(err error, export string) error {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return errors.New(errors.PhaseRun, errors.KindExited).
			Detail("%s: exit code %d", export, exit.ExitCode()).
			Cause(err).
			Build()
	}
	return errors.New(errors.PhaseRun, errors.KindTrap).
		Detail("call %s", export).
		Cause(err).
		Build()
}
