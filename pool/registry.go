package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/resource"
)

// DefaultQueueSize is the job queue capacity when Options.QueueSize is 0.
const DefaultQueueSize = 64

// Options configures a builder and the pool it builds.
type Options struct {
	Logger    *zap.Logger
	Recorder  *instrument.Recorder
	Metrics   *metrics.Metrics
	QueueSize int
}

// Registry issues receiver handles for live builders.
type Registry struct {
	table *resource.Table[*Builder]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: resource.NewTable[*Builder]()}
}

// NewBuilder registers a builder for a pool of numThreads threads.
func (r *Registry) NewBuilder(numThreads int, opts *Options) (*Builder, error) {
	if numThreads < 1 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("pool needs at least one thread, got %d", numThreads).
			Value(numThreads).
			Build()
	}
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	defer o.Recorder.Measure("PoolBuilder::new", instrument.Roles{instrument.RoleWasmHelper})()

	b := &Builder{
		registry:   r,
		numThreads: numThreads,
		opts:       o,
		threads:    make(chan *Thread, numThreads),
		done:       make(chan struct{}),
	}
	b.handle = r.table.Insert(b)
	if b.handle == 0 {
		return nil, errors.Closed(errors.PhaseConfig, "registry")
	}
	return b, nil
}

// Lookup returns the live builder registered under receiver.
func (r *Registry) Lookup(receiver uint32) (*Builder, bool) {
	return r.table.Get(resource.Handle(receiver))
}

// Len returns the number of live builders.
func (r *Registry) Len() int {
	return r.table.Len()
}

// Close discards every builder. Workers waiting for a thread fail.
func (r *Registry) Close() error {
	return r.table.Close()
}

// Builder describes a pool before it is built. Its receiver handle is
// valid until Close.
type Builder struct {
	registry   *Registry
	threads    chan *Thread
	done       chan struct{}
	opts       Options
	numThreads int
	handle     resource.Handle
	closeOnce  sync.Once
	built      atomic.Bool
	closed     atomic.Bool
}

// NumThreads returns the number of threads the pool will have.
func (b *Builder) NumThreads() int {
	return b.numThreads
}

// Receiver returns the handle workers use to find this builder.
func (b *Builder) Receiver() uint32 {
	return uint32(b.handle)
}

// Build creates the pool and makes one Thread per worker available
// through Next. A builder can be built once.
func (b *Builder) Build() (*Pool, error) {
	select {
	case <-b.done:
		return nil, errors.Closed(errors.PhaseConfig, "pool builder")
	default:
	}
	if !b.built.CompareAndSwap(false, true) {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("pool builder %d already built", b.handle).
			Build()
	}

	defer b.opts.Recorder.Measure("PoolBuilder::build", instrument.Roles{instrument.RoleWasmHelper})()

	p := newPool(b.numThreads, b.opts)
	for i := range b.numThreads {
		b.threads <- &Thread{pool: p, index: i}
	}
	b.opts.Logger.Debug("pool built",
		zap.Uint32("receiver", b.Receiver()),
		zap.Int("threads", b.numThreads),
	)
	return p, nil
}

// Next returns the next unclaimed thread, waiting until Build hands one
// out. It fails when the builder is closed or ctx ends.
func (b *Builder) Next(ctx context.Context) (*Thread, error) {
	select {
	case th := <-b.threads:
		return th, nil
	case <-b.done:
		return nil, errors.Closed(errors.PhaseRun, "pool builder")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the builder. Its receiver handle may be reissued.
func (b *Builder) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if _, ok := b.registry.table.Remove(b.handle); !ok {
		b.Drop()
	}
}

// Drop releases waiters. It is called by the registry when the builder
// leaves the table.
func (b *Builder) Drop() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
