// Package runtime provides the high-level API for running threaded
// WebAssembly modules on a pool of workers.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load a module that imports a shared memory
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Spawn four workers and wait until every one is ready
//	p, err := mod.StartPool(ctx, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	result, err := p.Call(ctx, "add", 2, 3)
//	fmt.Println(result) // [5]
//
// # Modules
//
// A module must import exactly one memory, declared shared with a maximum
// size. The runtime creates that memory once; every worker instantiates
// the same compiled module against it. Each module gets its own engine,
// so several modules may import memory under the same name.
//
// Export types are inferred from the binary, reading i32 and i64 as
// signed. Declare WIT signatures to call with other primitive types:
//
//	mod, err := rt.LoadWASM(ctx, wasmBytes, "export add: func(a: u32, b: u32) -> u32;")
//
// # Pools
//
// StartPool runs the worker handshake for every thread: each worker gets
// an init message carrying the module, the memory and the pool's receiver
// handle, binds its own instance, and posts ready. Jobs are queued FIFO
// and served by whichever thread is free.
//
// A guest abort (wbg.throw_str) ends the thread that ran the job. The
// worker is reported on Pool.Panics and is not restarted.
//
// For guests that run their own thread pool, StartGuestWorkers calls the
// guest's worker entry directly with a receiver the guest handed out.
//
// # Thread Safety
//
// Runtime, Module and Pool are safe for concurrent use.
package runtime
