// Package protocol defines the worker handshake messages and the message
// ports they travel over.
//
// # Messages
//
//	Type                        Direction             Fields
//	────────────────────────────────────────────────────────────────────
//	wasm_bindgen_worker_init    coordinator → worker  Module, Memory, Receiver
//	wasm_bindgen_worker_ready   worker → coordinator  (none)
//	wasm_bindgen_worker_panic   worker → coordinator  Message
//
// Each worker sends at most one ready and at most one panic message, in
// that order. There is no ordering across workers.
//
// # Ports
//
// NewChannel returns two entangled Ports. Post never blocks; messages are
// queued on the receiving port until it is started, then delivered in
// order to the listeners registered at delivery time. A message that finds
// no listener is dropped, which is how a worker ignores a second init
// message: its one-shot listener is gone.
//
//	coord, work := protocol.NewChannel()
//	go func() {
//	    msg, err := protocol.WaitFor(ctx, work, protocol.TypeInit)
//	    ...
//	}()
//	coord.Start()
//	coord.Post(protocol.InitMessage{Module: mod, Memory: mem, Receiver: 1})
package protocol
