// Package worker implements the worker side of the pool handshake.
//
// A host selects the worker role explicitly by calling Start on the
// worker's end of a message channel:
//
//	coord, port := protocol.NewChannel()
//	go worker.Start(ctx, port, loader, &worker.Options{ID: 1})
//
// Start drives the worker through
//
//	spawned → initialized → ready → running → finished | panicked | interrupted
//
// It handles exactly one init message, posts exactly one ready message
// after the Loader bound the module and memory, then calls the Runtime's
// blocking StartWorker. Errors and panics from that call are translated
// into a Result at this boundary; a Failed result is reported with one
// wasm_bindgen_worker_panic message. A loop cut off by the worker's
// context is Interrupted and posts nothing. Start never retries.
package worker
