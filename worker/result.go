package worker

import (
	"context"

	"github.com/wippyai/wasm-threads/errors"
)

// Result is the outcome of a worker loop: Ok, Failed with a reason, or
// Interrupted when the worker's context ended while the loop ran.
type Result struct {
	reason      error
	interrupted bool
}

// Ok returns a successful result.
func Ok() Result {
	return Result{}
}

// Failed returns a failed result. A nil reason still counts as a failure.
func Failed(reason error) Result {
	if reason == nil {
		reason = errors.New(errors.PhaseRun, errors.KindPanic).Detail("worker loop failed").Build()
	}
	return Result{reason: reason}
}

// Interrupted returns the result of a loop stopped by its context. reason
// is what the loop returned when it was cut off; it is not a guest failure.
func Interrupted(reason error) Result {
	return Result{reason: reason, interrupted: true}
}

// OK reports whether the loop returned without failing.
func (r Result) OK() bool {
	return r.reason == nil
}

// Interrupted reports whether the loop was stopped by its context rather
// than failing on its own.
func (r Result) Interrupted() bool {
	return r.interrupted
}

// Reason returns the failure, or nil for Ok.
func (r Result) Reason() error {
	return r.reason
}

// Run calls rt.StartWorker and converts both returned errors and panics
// into a Result. Nothing escapes as a panic.
func Run(ctx context.Context, rt Runtime, receiver uint32) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			res = Failed(errors.Recovered(v))
		}
	}()

	if err := rt.StartWorker(ctx, receiver); err != nil {
		return Failed(err)
	}
	return Ok()
}
