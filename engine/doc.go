// Package engine runs guest modules on wazero with the threads proposal
// enabled.
//
// A guest built for a threaded runtime imports its linear memory instead
// of defining it, so that many instances can share one memory. The engine
// compiles such a module once, provides the shared memory through a small
// provider module registered under the import's namespace, and creates one
// Instance per worker bound to that memory.
//
// # Types
//
//	Engine   - wazero runtime plus the "wbg" host module
//	Module   - compiled guest; implements wasmthreads.Module
//	Memory   - shared linear memory; implements wasmthreads.Memory
//	Instance - one worker's instance; implements worker.Runtime
//	Loader   - worker.Loader that creates Instances
//
// # Requirements on guests
//
// The guest must import exactly one memory, declared shared with a maximum,
// from a namespace other than "wbg". The worker entry export
// (wbg_rayon_start_worker by default) has core type (i32) -> ().
//
// # Aborts
//
// The host module exports throw_str(ptr, len) and __wbindgen_throw with
// the same signature. Both abort the calling guest; the call that was
// running returns an error wrapping *errors.AbortError with the message
// read from shared memory.
//
// # Signatures
//
// Export types are described with WIT primitives from
// go.bytecodealliance.org/wit. Signature converts between Go values or
// command line text and core values for exports whose parameters and
// results are single core values.
//
// # Thread Safety
//
// Engine, Module and Memory are safe for concurrent use. Instance is NOT
// thread-safe and belongs to the worker that created it.
package engine
