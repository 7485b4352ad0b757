// Package wasmthreads bootstraps pools of WebAssembly workers that share a
// single compiled module and a single shared linear memory.
//
// A coordinator builds one init message per worker, pairing the compiled
// module, the shared memory and a receiver handle issued by a pool builder.
// Each worker binds its own instance to exactly that module and memory,
// reports that it is ready, and then blocks inside the shared runtime's
// worker loop until the pool is torn down. A failure inside that loop is
// reported back as a single panic message.
//
// # Architecture Overview
//
//	wasmthreads/         Root package with the Module and Memory interfaces
//	├── protocol/        Message types and in-process message ports
//	├── worker/          Worker-role bootstrap sequencer
//	├── coordinator/     Init envelopes, spawning, worker state tracking
//	├── pool/            Pool builders, receiver handles, FIFO job threads
//	├── engine/          wazero integration with shared memory
//	├── runtime/         High-level API: load a module, start a pool
//	├── instrument/      Timing spans for profiling
//	├── metrics/         Prometheus collectors
//	├── resource/        Generic handle table
//	└── errors/          Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := mod.StartPool(ctx, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	results, err := p.Call(ctx, "add", 1, 2)
//
// # Handshake
//
//	coordinator                          worker
//	    │ wasm_bindgen_worker_init ──────▶ │ load module + memory
//	    │ ◀────── wasm_bindgen_worker_ready │
//	    │                                  │ runtime worker loop (blocks)
//	    │ ◀────── wasm_bindgen_worker_panic │ only if the loop fails
//
// There is no built-in timeout. A worker that never becomes ready looks the
// same as a slow one; bound the wait with a context.
//
// # Thread Safety
//
// Pools, builders and message ports are safe for concurrent use. An engine
// Instance belongs to exactly one worker goroutine.
package wasmthreads
