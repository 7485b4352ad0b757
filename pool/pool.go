package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/instrument"
)

// Job is one call of a guest export with core-encoded parameters.
type Job struct {
	Export string
	Params []uint64
}

// JobResult is the outcome of a job. Thread is the index of the thread
// that ran it, or -1 if no thread did.
type JobResult struct {
	Err     error
	Results []uint64
	Thread  int
}

// Executor runs exports on a worker-local instance.
type Executor interface {
	Call(ctx context.Context, export string, params ...uint64) ([]uint64, error)
}

type task struct {
	ctx    context.Context
	result chan JobResult
	job    Job
}

// Pool is a FIFO job queue served by the pool's threads.
type Pool struct {
	jobs      chan *task
	done      chan struct{}
	opts      Options
	threads   int
	live      atomic.Int32
	exhausted atomic.Bool
	closeOnce sync.Once
}

func newPool(threads int, opts Options) *Pool {
	p := &Pool{
		jobs:    make(chan *task, opts.QueueSize),
		done:    make(chan struct{}),
		opts:    opts,
		threads: threads,
	}
	p.live.Store(int32(threads))
	return p
}

// Threads returns the number of threads the pool was built with.
func (p *Pool) Threads() int {
	return p.threads
}

// Live returns the number of threads that have not exited.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Submit queues job and returns a channel that receives its result once.
// It blocks while the queue is full. A pool whose threads have all exited
// is closed and rejects jobs.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan JobResult, error) {
	select {
	case <-p.done:
		return nil, p.closedErr()
	default:
	}

	t := &task{ctx: ctx, job: job, result: make(chan JobResult, 1)}
	select {
	case p.jobs <- t:
		p.opts.Metrics.JobSubmitted()
		return t.result, nil
	case <-p.done:
		return nil, p.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call submits a job and waits for its result.
func (p *Pool) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	ch, err := p.Submit(ctx, Job{Export: export, Params: params})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Results, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		// The last thread may have finished this job before exiting.
		select {
		case res := <-ch:
			return res.Results, res.Err
		default:
		}
		return nil, p.closedErr()
	}
}

func (p *Pool) closedErr() error {
	if p.exhausted.Load() {
		return errors.New(errors.PhaseRun, errors.KindClosed).
			Detail("pool has no live threads").
			Build()
	}
	return errors.Closed(errors.PhaseRun, "pool")
}

// threadExited closes the pool when its last thread is gone.
func (p *Pool) threadExited() {
	if p.live.Add(-1) == 0 {
		p.exhausted.Store(true)
		p.Close()
	}
}

// Close stops the threads after their current job. Queued jobs are not
// run and their result channels never receive; use Call or watch Done.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Done is closed when the pool is closed.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Thread is one of a pool's threads, claimed by exactly one worker.
type Thread struct {
	pool  *Pool
	index int
}

// Index returns the thread's position in the pool.
func (t *Thread) Index() int {
	return t.index
}

// Run serves jobs with exec until the pool is closed or ctx ends, which
// both return nil. A job that aborts the guest ends the thread with that
// error. Run may be called once per thread.
func (t *Thread) Run(ctx context.Context, exec Executor) error {
	p := t.pool
	defer p.threadExited()
	logger := p.opts.Logger.With(zap.Int("thread", t.index))
	logger.Debug("thread started")

	for {
		select {
		case <-p.done:
			logger.Debug("thread stopped")
			return nil
		case <-ctx.Done():
			logger.Debug("thread canceled")
			return nil
		case tk := <-p.jobs:
			err := t.serve(ctx, exec, tk)
			var abort *errors.AbortError
			if stderrors.As(err, &abort) {
				logger.Warn("thread aborted", zap.String("export", tk.job.Export), zap.String("message", abort.Message))
				return err
			}
		}
	}
}

func (t *Thread) serve(ctx context.Context, exec Executor, tk *task) (err error) {
	if err := tk.ctx.Err(); err != nil {
		tk.result <- JobResult{Err: err, Thread: -1}
		return nil
	}

	end := t.pool.opts.Recorder.Measure("pool job "+tk.job.Export, instrument.Roles{instrument.RoleThread})
	var results []uint64
	defer func() {
		if v := recover(); v != nil {
			err = errors.Recovered(v)
			results = nil
		}
		end()
		t.pool.opts.Metrics.JobDone(err)
		tk.result <- JobResult{Results: results, Err: err, Thread: t.index}
	}()

	callCtx, stop := mergeDone(ctx, tk.ctx)
	defer stop()
	results, err = exec.Call(callCtx, tk.job.Export, tk.job.Params...)
	return err
}

// mergeDone returns a context that carries job's values and ends when
// either job or worker ends.
func mergeDone(worker, job context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(job)
	stop := context.AfterFunc(worker, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
