package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/protocol"
)

// State is a worker's position in the handshake as seen by the
// coordinator.
type State int

const (
	StateSpawned State = iota
	StateInitialized
	StateReady
	StatePanicked
	StateFinished
	StateFailed
	StateTerminated
)

var stateNames = [...]string{
	StateSpawned:     "spawned",
	StateInitialized: "initialized",
	StateReady:       "ready",
	StatePanicked:    "panicked",
	StateFinished:    "finished",
	StateFailed:      "failed",
	StateTerminated:  "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the worker can no longer serve jobs.
func (s State) Terminal() bool {
	return s >= StatePanicked
}

// Status is a snapshot of one worker.
type Status struct {
	Err   error  `json:"-"`
	Panic string `json:"panic,omitempty"`
	State State  `json:"state"`
	ID    int    `json:"id"`
}

// Panic is reported once for every worker whose loop failed.
type Panic struct {
	Message string
	Worker  int
}

type tracked struct {
	handle *Handle
	ready  chan struct{}
	status Status
}

// Workers tracks the workers started for one pool builder.
type Workers struct {
	builder PoolBuilder
	logger  *zap.Logger
	metrics *metrics.Metrics
	panics  chan Panic
	workers []*tracked
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// StartWorkers spawns n workers, sends each an init envelope for builder,
// and waits until all of them posted ready. If a worker ends before it
// became ready, or ctx ends first, every spawned worker is terminated and
// the error is returned.
func StartWorkers(ctx context.Context, spawner Spawner, module wasmthreads.Module, memory wasmthreads.Memory, builder PoolBuilder, n int, opts *Options) (*Workers, error) {
	if n < 1 {
		return nil, errors.New(errors.PhaseSpawn, errors.KindInvalidInput).
			Detail("need at least one worker, got %d", n).
			Value(n).
			Build()
	}

	ws := &Workers{
		builder: builder,
		logger:  opts.logger(),
		metrics: opts.metrics(),
		panics:  make(chan Panic, n),
	}

	for range n {
		env := BuildInitEnvelope(module, memory, builder, opts)
		h, err := spawner.Spawn(ctx, env.WorkerScriptHref)
		if err != nil {
			ws.Terminate()
			return nil, errors.Wrap(errors.PhaseSpawn, errors.KindInstantiation, err, "spawn worker")
		}
		w := ws.track(h)
		if err := h.Port.Post(env.Message); err != nil {
			ws.Terminate()
			return nil, errors.New(errors.PhaseHandshake, errors.KindClosed).
				Worker(h.ID).
				Detail("post init").
				Cause(err).
				Build()
		}
		ws.advance(w, StateInitialized)
	}

	for _, w := range ws.workers {
		select {
		case <-w.ready:
		case <-w.handle.Done():
			if _, err := w.handle.Result(); err != nil {
				ws.Terminate()
				return nil, errors.New(errors.PhaseHandshake, errors.KindExited).
					Worker(w.handle.ID).
					Detail("worker exited before ready").
					Cause(err).
					Build()
			}
			// The worker posted ready before it ended.
		case <-ctx.Done():
			ws.Terminate()
			return nil, ctx.Err()
		}
	}
	ws.logger.Debug("workers ready", zap.Int("workers", n), zap.Uint32("receiver", builder.Receiver()))
	return ws, nil
}

func (ws *Workers) track(h *Handle) *tracked {
	w := &tracked{
		handle: h,
		ready:  make(chan struct{}),
		status: Status{ID: h.ID, State: StateSpawned},
	}
	ws.mu.Lock()
	ws.workers = append(ws.workers, w)
	ws.mu.Unlock()

	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(w.ready) }) }

	h.Port.AddListener(func(msg protocol.Message) {
		switch protocol.TypeOf(msg) {
		case protocol.TypeReady:
			if ws.advance(w, StateReady) {
				ws.metrics.WorkerReady()
				ws.logger.Debug("worker ready", zap.Int("worker", h.ID))
			}
			markReady()
		case protocol.TypePanic:
			pm, _ := protocol.AsPanic(msg)
			ws.panicked(w, pm.Message)
		}
	})
	h.Port.Start()

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		res, err := h.Result()
		switch {
		case err != nil:
			ws.setState(w, StateFailed)
			ws.setErr(w, err)
		case res.Interrupted():
			ws.setState(w, StateTerminated)
			markReady()
		case !res.OK():
			// The panic message carries the text; it may still be queued.
			ws.setState(w, StatePanicked)
			ws.setErr(w, res.Reason())
			markReady()
		default:
			ws.setState(w, StateFinished)
			markReady()
		}
	}()
	return w
}

// advance moves w to state unless it is already at or past it.
func (ws *Workers) advance(w *tracked, state State) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w.status.State >= state {
		return false
	}
	w.status.State = state
	return true
}

func (ws *Workers) setState(w *tracked, state State) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w.status.State == StateTerminated || w.status.State == StatePanicked {
		return
	}
	w.status.State = state
}

func (ws *Workers) setErr(w *tracked, err error) {
	ws.mu.Lock()
	w.status.Err = err
	ws.mu.Unlock()
}

func (ws *Workers) panicked(w *tracked, message string) {
	ws.mu.Lock()
	if w.status.Panic != "" || w.status.State == StateTerminated {
		ws.mu.Unlock()
		return
	}
	w.status.State = StatePanicked
	w.status.Panic = message
	if !ws.closed {
		select {
		case ws.panics <- Panic{Worker: w.handle.ID, Message: message}:
		default:
		}
	}
	ws.mu.Unlock()

	ws.logger.Warn("worker panicked", zap.Int("worker", w.handle.ID), zap.String("message", message))
}

// Builder returns the pool builder the workers were started for.
func (ws *Workers) Builder() PoolBuilder {
	return ws.builder
}

// Len returns the number of workers.
func (ws *Workers) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.workers)
}

// Snapshot returns the current status of every worker in spawn order.
func (ws *Workers) Snapshot() []Status {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]Status, len(ws.workers))
	for i, w := range ws.workers {
		out[i] = w.status
	}
	return out
}

// Panics delivers one Panic per failed worker. The channel is closed by
// Close.
func (ws *Workers) Panics() <-chan Panic {
	return ws.panics
}

// Terminate stops every worker that is still running. Workers already in a
// terminal state keep it.
func (ws *Workers) Terminate() {
	ws.mu.Lock()
	workers := append([]*tracked(nil), ws.workers...)
	for _, w := range workers {
		if !w.status.State.Terminal() {
			w.status.State = StateTerminated
		}
	}
	ws.mu.Unlock()

	for _, w := range workers {
		w.handle.Terminate()
	}
}

// Wait blocks until every worker ended or ctx is done.
func (ws *Workers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the workers, waits for them to end, closes the
// coordinator ports and then the Panics channel. Panics reported later are
// dropped.
func (ws *Workers) Close(ctx context.Context) error {
	ws.Terminate()
	err := ws.Wait(ctx)

	ws.mu.Lock()
	workers := append([]*tracked(nil), ws.workers...)
	ws.mu.Unlock()
	for _, w := range workers {
		w.handle.Port.Close()
	}

	ws.mu.Lock()
	if !ws.closed {
		ws.closed = true
		close(ws.panics)
	}
	ws.mu.Unlock()
	return err
}
