package runtime

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-threads/coordinator"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/pool"
	"github.com/wippyai/wasm-threads/worker"
)

// Module is a loaded guest together with its shared memory. At most one
// pool runs over a module at a time.
type Module struct {
	runtime *Runtime
	engine  *engine.Engine
	module  *engine.Module
	memory  *engine.Memory
	sigs    map[string]engine.Signature
	pool    *Pool
	mu      sync.Mutex
	closed  bool
}

func (m *Module) Name() string {
	return m.module.Name()
}

// Exports returns the exported function names in sorted order.
func (m *Module) Exports() []string {
	return m.module.Exports()
}

// Memory returns the module's shared memory.
func (m *Module) Memory() *engine.Memory {
	return m.memory
}

// Signature returns the declared signature of export, or the one inferred
// from the binary when none was declared.
func (m *Module) Signature(export string) (engine.Signature, error) {
	if sig, ok := m.sigs[export]; ok {
		return sig, nil
	}
	sig, ok := m.module.Signature(export)
	if !ok {
		return engine.Signature{}, errors.NotFound(errors.PhaseRun, "export", export)
	}
	return sig, nil
}

// StartPool spawns threads workers, waits until all of them are ready, and
// builds a pool over them.
func (m *Module) StartPool(ctx context.Context, threads int) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.Closed(errors.PhaseSpawn, "module")
	}
	if m.pool != nil {
		return nil, errors.InvalidInput(errors.PhaseSpawn, "module already has a running pool")
	}

	cfg := m.runtime.cfg
	b, err := m.runtime.registry.NewBuilder(threads, &pool.Options{
		Logger:    cfg.Logger,
		Recorder:  cfg.Recorder,
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return nil, err
	}

	ws, err := coordinator.StartWorkers(ctx, m.spawner(&pool.Loader{Engine: m.engine, Registry: m.runtime.registry}),
		m.module, m.memory, b, threads, m.coordinatorOptions())
	if err != nil {
		b.Close()
		return nil, err
	}

	p, err := b.Build()
	if err != nil {
		ws.Close(ctx)
		b.Close()
		return nil, err
	}

	m.pool = &Pool{
		module:  m,
		builder: b,
		pool:    p,
		workers: ws,
	}
	return m.pool, nil
}

// StartGuestWorkers runs n workers whose loop is the guest's own worker
// entry, called with receiver. The guest owns the pool; the returned
// Workers only track the handshake and panics.
func (m *Module) StartGuestWorkers(ctx context.Context, receiver uint32, n int) (*coordinator.Workers, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseSpawn, "module")
	}
	return coordinator.StartWorkers(ctx, m.spawner(&engine.Loader{Engine: m.engine}),
		m.module, m.memory, guestBuilder(receiver), n, m.coordinatorOptions())
}

// guestBuilder is a receiver handle owned by the guest.
type guestBuilder uint32

func (g guestBuilder) Receiver() uint32 {
	return uint32(g)
}

func (m *Module) spawner(loader worker.Loader) *coordinator.LocalSpawner {
	cfg := m.runtime.cfg
	return &coordinator.LocalSpawner{
		Loader:     loader,
		Logger:     cfg.Logger,
		Recorder:   cfg.Recorder,
		Metrics:    cfg.Metrics,
		ScriptHref: cfg.WorkerScriptHref,
	}
}

func (m *Module) coordinatorOptions() *coordinator.Options {
	cfg := m.runtime.cfg
	return &coordinator.Options{
		WorkerScriptHref: cfg.WorkerScriptHref,
		Recorder:         cfg.Recorder,
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
	}
}

func (m *Module) release(p *Pool) {
	m.mu.Lock()
	if m.pool == p {
		m.pool = nil
	}
	m.mu.Unlock()
}

// Close stops the module's pool and releases its memory and engine.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	p := m.pool
	m.mu.Unlock()

	var firstErr error
	if p != nil {
		if err := p.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if err := m.memory.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.engine.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	m.runtime.forget(m)
	return firstErr
}
