package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/wasm"
)

const (
	// HostModule is the import namespace of the host helpers guests call.
	HostModule = "wbg"

	// DefaultEntryPoint is the export a worker calls with its receiver.
	DefaultEntryPoint = "wbg_rayon_start_worker"

	// DefaultInitFunction runs once per instance when the guest exports it.
	DefaultInitFunction = "__wbindgen_start"
)

// Config holds configuration for engine creation
type Config struct {
	// Logger receives engine events. Nil uses the package Logger().
	Logger *zap.Logger

	// EntryPoint names the export Instance.StartWorker calls.
	// Empty means DefaultEntryPoint.
	EntryPoint string

	// InitFunctions are called, in order, on every new instance that
	// exports them. Nil means DefaultInitFunction; an empty slice disables.
	InitFunctions []string

	// MemoryLimitPages caps every memory in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone makes running guest code observe context
	// cancellation, so a blocked worker loop can be stopped.
	CloseOnContextDone bool
}

// Engine owns a wazero runtime with the threads proposal enabled. Modules,
// memories and instances it creates can only be combined with each other.
type Engine struct {
	runtime  wazero.Runtime
	logger   *zap.Logger
	memories map[string]*Memory
	entry    string
	init     []string
	seq      atomic.Uint64
	mu       sync.Mutex
	closed   atomic.Bool
}

// New creates an engine and instantiates the host module.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	e := &Engine{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		logger:   cfg.Logger,
		memories: make(map[string]*Memory),
		entry:    cfg.EntryPoint,
		init:     cfg.InitFunctions,
	}
	if e.logger == nil {
		e.logger = Logger()
	}
	if e.entry == "" {
		e.entry = DefaultEntryPoint
	}
	if e.init == nil {
		e.init = []string{DefaultInitFunction}
	}

	if err := e.instantiateHost(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}
	return e, nil
}

func (e *Engine) instantiateHost(ctx context.Context) error {
	params := []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	b := e.runtime.NewHostModuleBuilder(HostModule)
	for _, name := range []string{"throw_str", "__wbindgen_throw"} {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(throwStr), params, nil).
			WithParameterNames("ptr", "len").
			Export(name)
	}
	if _, err := b.Instantiate(ctx); err != nil {
		return errors.Wrap(errors.PhaseCompile, errors.KindInstantiation, err, "instantiate host module "+HostModule)
	}
	return nil
}

// throwStr aborts the calling guest with the UTF-8 message at (ptr, len).
// wazero recovers the panic and returns it wrapped from the guest call.
func throwStr(_ context.Context, mod api.Module, stack []uint64) {
	ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	msg := "abort message out of bounds"
	if mem := mod.Memory(); mem != nil {
		if data, ok := mem.Read(ptr, n); ok {
			msg = string(data)
		}
	}
	panic(&errors.AbortError{Message: msg})
}

// EntryPoint returns the export name used by Instance.StartWorker.
func (e *Engine) EntryPoint() string {
	return e.entry
}

// Compile validates and compiles a guest module. The module must import
// exactly one shared memory with a declared maximum, from a namespace other
// than HostModule.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseCompile, "engine")
	}

	imports, err := wasm.ParseMemoryImports(wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "parse imports")
	}
	if len(imports) != 1 {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Detail("module must import exactly one memory, found %d", len(imports)).
			Build()
	}
	imp := imports[0]
	if imp.Module == HostModule {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Detail("memory import namespace %q is reserved for host functions", HostModule).
			Build()
	}
	if !imp.Limits.Shared || !imp.Limits.HasMax() {
		return nil, errors.Unsupported(errors.PhaseCompile,
			fmt.Sprintf("memory %s.%s must be shared and declare a maximum", imp.Module, imp.Name))
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "compile module")
	}

	name := compiled.Name()
	if name == "" {
		name = fmt.Sprintf("module-%d", e.seq.Add(1))
	}

	m := &Module{
		engine:   e,
		compiled: compiled,
		exports:  compiled.ExportedFunctions(),
		name:     name,
		memory:   imp,
	}
	e.logger.Debug("module compiled",
		zap.String("module", name),
		zap.String("memory", imp.Module+"."+imp.Name),
		zap.Uint64("min_pages", imp.Limits.Min),
		zap.Uint64("max_pages", *imp.Limits.Max),
		zap.Int("exports", len(m.exports)),
	)
	return m, nil
}

// NewMemory instantiates the shared memory that module imports. The engine
// provides one memory per import namespace at a time; close the memory to
// provide another.
func (e *Engine) NewMemory(ctx context.Context, module wasmthreads.Module) (*Memory, error) {
	m, ok := module.(*Module)
	if !ok || m.engine != e {
		return nil, errors.Foreign("module")
	}
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "engine")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.memories[m.memory.Module]; exists {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Detail("a memory for namespace %q is already provided", m.memory.Module).
			Build()
	}

	cfg := wazero.NewModuleConfig().WithName(m.memory.Module)
	provider, err := e.runtime.InstantiateWithConfig(ctx, wasm.MemoryProvider(m.memory.Name, m.memory.Limits), cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate memory provider")
	}

	mem := &Memory{
		engine:   e,
		provider: provider,
		mem:      provider.ExportedMemory(m.memory.Name),
		module:   m.memory.Module,
		name:     m.memory.Name,
	}
	e.memories[m.memory.Module] = mem
	e.logger.Debug("shared memory created",
		zap.String("memory", m.memory.Module+"."+m.memory.Name),
		zap.Uint32("size", mem.Size()),
	)
	return mem, nil
}

func (e *Engine) releaseMemory(m *Memory) {
	e.mu.Lock()
	if e.memories[m.module] == m {
		delete(e.memories, m.module)
	}
	e.mu.Unlock()
}

// Instantiate creates a worker-local instance of module bound to memory.
// Both must come from this engine. An empty name picks a unique one.
func (e *Engine) Instantiate(ctx context.Context, module wasmthreads.Module, memory wasmthreads.Memory, name string) (*Instance, error) {
	m, ok := module.(*Module)
	if !ok || m.engine != e {
		return nil, errors.Foreign("module")
	}
	mem, ok := memory.(*Memory)
	if !ok || mem.engine != e {
		return nil, errors.Foreign("memory")
	}
	if mem.closed.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "memory")
	}
	if mem.module != m.memory.Module || mem.name != m.memory.Name {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("memory %s.%s does not satisfy import %s.%s", mem.module, mem.name, m.memory.Module, m.memory.Name).
			Build()
	}

	if name == "" {
		name = fmt.Sprintf("%s#%d", m.name, e.seq.Add(1))
	}

	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	inst := &Instance{
		engine: e,
		module: m,
		memory: mem,
		mod:    mod,
		name:   name,
		entry:  e.entry,
	}
	for _, fn := range e.init {
		if err := inst.runInit(ctx, fn); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}

	e.logger.Debug("instance created", zap.String("instance", name))
	return inst, nil
}

// Close closes the runtime and everything created from it.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	for _, m := range e.memories {
		m.closed.Store(true)
	}
	clear(e.memories)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
