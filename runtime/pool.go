package runtime

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-threads/coordinator"
	"github.com/wippyai/wasm-threads/pool"
)

// Pool is a running worker pool over one module.
type Pool struct {
	module    *Module
	builder   *pool.Builder
	pool      *pool.Pool
	workers   *coordinator.Workers
	closeErr  error
	closeOnce sync.Once
}

// Threads returns the number of pool threads.
func (p *Pool) Threads() int {
	return p.pool.Threads()
}

// Receiver returns the receiver handle the pool's workers were started
// with.
func (p *Pool) Receiver() uint32 {
	return p.builder.Receiver()
}

// Call runs export on one of the pool's threads. Arguments are lowered and
// results lifted with the export's signature.
func (p *Pool) Call(ctx context.Context, export string, args ...any) ([]any, error) {
	sig, err := p.module.Signature(export)
	if err != nil {
		return nil, err
	}
	params, err := sig.Lower(args...)
	if err != nil {
		return nil, err
	}
	raw, err := p.pool.Call(ctx, export, params...)
	if err != nil {
		return nil, err
	}
	return sig.Lift(raw), nil
}

// CallStrings is Call with textual arguments and results.
func (p *Pool) CallStrings(ctx context.Context, export string, args []string) ([]string, error) {
	sig, err := p.module.Signature(export)
	if err != nil {
		return nil, err
	}
	params, err := sig.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	raw, err := p.pool.Call(ctx, export, params...)
	if err != nil {
		return nil, err
	}
	return sig.FormatResults(raw), nil
}

// CallRaw runs export with core-encoded parameters.
func (p *Pool) CallRaw(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	return p.pool.Call(ctx, export, params...)
}

// Submit queues export without waiting. The returned channel receives the
// core-encoded result once.
func (p *Pool) Submit(ctx context.Context, export string, args ...any) (<-chan pool.JobResult, error) {
	sig, err := p.module.Signature(export)
	if err != nil {
		return nil, err
	}
	params, err := sig.Lower(args...)
	if err != nil {
		return nil, err
	}
	return p.pool.Submit(ctx, pool.Job{Export: export, Params: params})
}

// Workers returns a snapshot of the pool's workers.
func (p *Pool) Workers() []coordinator.Status {
	return p.workers.Snapshot()
}

// Panics delivers one report per worker whose loop failed. The channel is
// closed by Close.
func (p *Pool) Panics() <-chan coordinator.Panic {
	return p.workers.Panics()
}

// Close stops the pool, waits for its workers, and unregisters its
// builder. The module can start a new pool afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.pool.Close()
		// Threads leave their loop once the current job is done; Close
		// terminates whatever is still running when ctx ends.
		p.closeErr = p.workers.Wait(ctx)
		if err := p.workers.Close(ctx); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
		p.builder.Close()
		p.module.release(p)
	})
	return p.closeErr
}
