package coordinator

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/protocol"
	"github.com/wippyai/wasm-threads/worker"
)

// Spawner creates worker contexts running the script at href.
type Spawner interface {
	Spawn(ctx context.Context, href string) (*Handle, error)
}

// Handle is the coordinator's view of one spawned worker. Port is the
// coordinator's end of the worker's channel.
type Handle struct {
	Port      *protocol.Port
	done      chan struct{}
	terminate func()
	err       error
	result    worker.Result
	ID        int
	exitOnce  sync.Once
}

// NewHandle creates a handle for a worker reachable through port.
// terminate is called by Terminate and may be nil.
func NewHandle(id int, port *protocol.Port, terminate func()) *Handle {
	return &Handle{
		ID:        id,
		Port:      port,
		terminate: terminate,
		done:      make(chan struct{}),
	}
}

// Exit records how the worker ended. Only the first call has an effect.
func (h *Handle) Exit(res worker.Result, err error) {
	h.exitOnce.Do(func() {
		h.result = res
		h.err = err
		close(h.done)
	})
}

// Done is closed once the worker ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the worker's outcome. It is valid after Done is closed.
// A non-nil error means the worker ended before it became ready.
func (h *Handle) Result() (worker.Result, error) {
	<-h.done
	return h.result, h.err
}

// Terminate stops the worker without waiting for it.
func (h *Handle) Terminate() {
	if h.terminate != nil {
		h.terminate()
	}
}

// LocalSpawner runs workers as goroutines in this process.
type LocalSpawner struct {
	Loader     worker.Loader
	Logger     *zap.Logger
	Recorder   *instrument.Recorder
	Metrics    *metrics.Metrics
	ScriptHref string
	nextID     atomic.Int64
}

var _ Spawner = (*LocalSpawner)(nil)

// Spawn starts a worker goroutine. The worker outlives ctx; it is stopped
// with Handle.Terminate.
func (s *LocalSpawner) Spawn(ctx context.Context, href string) (*Handle, error) {
	script := s.ScriptHref
	if script == "" {
		script = worker.DefaultScriptHref
	}
	if href != script {
		return nil, errors.NotFound(errors.PhaseSpawn, "worker script", href)
	}
	if s.Loader == nil {
		return nil, errors.InvalidInput(errors.PhaseSpawn, "spawner has no loader")
	}

	id := int(s.nextID.Add(1))
	coord, port := protocol.NewChannel()
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := NewHandle(id, coord, cancel)

	opts := &worker.Options{
		Logger:   s.Logger,
		Recorder: s.Recorder,
		Metrics:  s.Metrics,
		ID:       id,
	}
	s.Metrics.WorkerSpawned()
	go func() {
		defer cancel()
		defer port.Close()
		res, err := worker.Start(wctx, port, s.Loader, opts)
		h.Exit(res, err)
	}()
	return h, nil
}
