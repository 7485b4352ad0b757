// Package coordinator implements the coordinator side of the pool
// handshake.
//
// BuildInitEnvelope pairs a compiled module, its shared memory and a pool
// builder's receiver into the init message a new worker needs, together
// with the script location the worker must run. StartWorkers goes one
// step further: it spawns workers through a Spawner, posts one envelope
// to each, and waits until every worker reported ready.
//
//	b, _ := registry.NewBuilder(4, nil)
//	ws, err := coordinator.StartWorkers(ctx, spawner, mod, mem, b, 4, nil)
//	if err != nil {
//		return err
//	}
//	p, _ := b.Build()
//
// Workers that panic afterwards are reported on Workers.Panics and must be
// discarded; they are never restarted.
package coordinator
