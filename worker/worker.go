package worker

import (
	"context"

	"go.uber.org/zap"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/protocol"
)

// DefaultScriptHref names the worker bootstrap in init envelopes. Spawners
// use it to decide which entry point a new worker runs.
const DefaultScriptHref = "wasm-threads://worker"

// Loader binds a worker-local instance to the coordinator's compiled
// module and shared memory.
type Loader interface {
	Load(ctx context.Context, module wasmthreads.Module, memory wasmthreads.Memory) (Runtime, error)
}

// Runtime is the shared runtime as seen from one worker.
type Runtime interface {
	// StartWorker runs the worker loop for receiver. It blocks for the
	// worker's useful lifetime and may return an error or panic.
	StartWorker(ctx context.Context, receiver uint32) error
}

// closer is implemented by runtimes that hold worker-local resources.
type closer interface {
	Close(ctx context.Context) error
}

// Options configures a worker. All fields are optional.
type Options struct {
	Logger   *zap.Logger
	Recorder *instrument.Recorder
	Metrics  *metrics.Metrics
	ID       int
}

// Start runs the worker role on port. It waits for the init message,
// loads the module, posts ready, and then blocks in the runtime's worker
// loop. A failed loop is reported with one panic message and returned as a
// Failed result. A loop that ends after ctx is done posts nothing and is
// returned as an Interrupted result.
//
// The error return covers everything before the loop: the context ending
// before init arrived, a load failure, or a closed port. Load failures
// post nothing; the coordinator sees a worker that never became ready.
func Start(ctx context.Context, port *protocol.Port, loader Loader, opts *Options) (Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int("worker", opts.ID))
	rec := opts.Recorder
	roles := instrument.Roles{instrument.RoleThread}

	exitInit := rec.Measure(`worker received "wasm_bindgen_worker_init" message`, roles)
	msg, err := protocol.WaitFor(ctx, port, protocol.TypeInit)
	exitInit()
	if err != nil {
		return Result{}, errors.Wrap(errors.PhaseHandshake, errors.KindClosed, err, "wait for init")
	}
	init, ok := protocol.AsInit(msg)
	if !ok {
		return Result{}, errors.InvalidInput(errors.PhaseHandshake, "malformed init message")
	}
	logger.Debug("init received", zap.Uint32("receiver", init.Receiver))

	exitReady := rec.Measure(`worker thread ready; will post "wasm_bindgen_worker_ready" and then start the worker (which blocks the thread)`, roles)
	rt, err := loader.Load(ctx, init.Module, init.Memory)
	exitReady()
	if err != nil {
		opts.Metrics.LoadFailed()
		logger.Error("load failed", zap.Error(err))
		return Result{}, errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Worker(opts.ID).
			Detail("bind module and memory").
			Cause(err).
			Build()
	}

	if err := port.Post(protocol.ReadyMessage{}); err != nil {
		return Result{}, err
	}
	logger.Debug("ready")

	opts.Metrics.LoopEntered()
	res := Run(ctx, rt, init.Receiver)
	opts.Metrics.LoopExited()

	if c, ok := rt.(closer); ok {
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Debug("release worker runtime", zap.Error(err))
		}
	}

	if res.OK() {
		logger.Debug("worker loop returned")
		return res, nil
	}
	if ctx.Err() != nil {
		// Terminated by the coordinator; whatever the loop returned is a
		// consequence of the interruption.
		logger.Debug("worker loop interrupted", zap.Error(res.Reason()))
		return Interrupted(res.Reason()), nil
	}

	message := errors.Describe(res.Reason())
	opts.Metrics.WorkerPanicked()
	logger.Warn("worker loop failed", zap.String("message", message), zap.Error(res.Reason()))
	if err := port.Post(protocol.PanicMessage{Message: message}); err != nil {
		logger.Debug("panic message not delivered", zap.Error(err))
	}
	return res, nil
}
