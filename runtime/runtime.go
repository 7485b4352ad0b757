package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/pool"
)

// Config holds runtime configuration. All fields are optional.
type Config struct {
	Logger   *zap.Logger
	Recorder *instrument.Recorder
	Metrics  *metrics.Metrics

	// EntryPoint and InitFunctions are passed to every module's engine.
	EntryPoint    string
	InitFunctions []string

	// WorkerScriptHref is the bootstrap location written into init
	// envelopes. Empty means worker.DefaultScriptHref.
	WorkerScriptHref string

	// MemoryLimitPages caps shared memories, in 64KiB pages.
	MemoryLimitPages uint32

	// QueueSize bounds each pool's job queue.
	QueueSize int

	// InterruptOnCancel lets a canceled job context stop running guest
	// code. The interrupted worker's instance is closed and every later
	// job on that thread fails.
	InterruptOnCancel bool
}

type Runtime struct {
	logger   *zap.Logger
	registry *pool.Registry
	modules  map[*Module]struct{}
	cfg      Config
	mu       sync.Mutex
	closed   bool
}

// New creates a runtime. Each loaded module gets its own engine, so
// modules importing memory from the same namespace do not collide.
func New(_ context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.Logger == nil {
		c.Logger = engine.Logger()
	}
	if c.QueueSize < 0 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("queue size must not be negative, got %d", c.QueueSize).
			Build()
	}

	return &Runtime{
		cfg:      c,
		logger:   c.Logger,
		registry: pool.NewRegistry(),
		modules:  make(map[*Module]struct{}),
	}, nil
}

// Load compiles a threaded core module and allocates its shared memory.
// Export types are inferred from the binary.
func (r *Runtime) Load(ctx context.Context, wasm []byte) (*Module, error) {
	return r.LoadWASM(ctx, wasm, "")
}

// LoadWASM is Load with WIT function declarations that refine the inferred
// export types, e.g. "add: func(a: u32, b: u32) -> u32". Every declaration
// must name an export with a matching core type.
func (r *Runtime) LoadWASM(ctx context.Context, wasm []byte, witText string) (*Module, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseLoad, "runtime")
	}

	var sigs map[string]engine.Signature
	if witText != "" {
		var err error
		if sigs, err = parseWitFunctions(witText); err != nil {
			return nil, err
		}
	}

	eng, err := engine.New(ctx, &engine.Config{
		Logger:             r.logger,
		EntryPoint:         r.cfg.EntryPoint,
		InitFunctions:      r.cfg.InitFunctions,
		MemoryLimitPages:   r.cfg.MemoryLimitPages,
		CloseOnContextDone: r.cfg.InterruptOnCancel,
	})
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	mod, err := eng.Compile(ctx, wasm)
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}
	for _, sig := range sigs {
		if err := mod.CheckSignature(sig); err != nil {
			eng.Close(ctx)
			return nil, err
		}
	}
	mem, err := eng.NewMemory(ctx, mod)
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}

	m := &Module{
		runtime: r,
		engine:  eng,
		module:  mod,
		memory:  mem,
		sigs:    sigs,
	}
	r.mu.Lock()
	r.modules[m] = struct{}{}
	r.mu.Unlock()

	minPages, maxPages := mod.MemoryPages()
	r.logger.Debug("module loaded",
		zap.String("module", mod.Name()),
		zap.Int("exports", len(mod.Exports())),
		zap.Uint32("memory_min_pages", minPages),
		zap.Uint32("memory_max_pages", maxPages),
	)
	return m, nil
}

func (r *Runtime) forget(m *Module) {
	r.mu.Lock()
	delete(r.modules, m)
	r.mu.Unlock()
}

// Registry returns the registry pool builders are issued from.
func (r *Runtime) Registry() *pool.Registry {
	return r.registry
}

// Close closes every loaded module and their pools.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	modules := make([]*Module, 0, len(r.modules))
	for m := range r.modules {
		modules = append(modules, m)
	}
	r.mu.Unlock()

	var firstErr error
	for _, m := range modules {
		if err := m.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
