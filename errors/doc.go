// Package errors provides structured error types for wasm-threads.
//
// Errors are categorized by Phase (where in the worker lifecycle the error
// occurred) and Kind (error category). The Error type carries an optional
// worker id, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseHandshake, errors.KindExited).
//		Worker(3).
//		Detail("worker exited before ready").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseRun, "receiver", "7")
//	err := errors.Foreign("memory")
//
// AbortError marks a guest abort-with-message. Describe turns any failure
// into the "Error: ..." string carried by a worker panic message.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
