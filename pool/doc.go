// Package pool is the host side of a shared thread pool.
//
// A Builder is registered in a Registry and identified by its receiver
// handle. The coordinator sends that handle to every worker in its init
// message. When a worker enters its loop it looks the builder up by
// receiver, takes the next Thread from it, and runs that thread until the
// pool is closed:
//
//	reg := pool.NewRegistry()
//	b, _ := reg.NewBuilder(4, nil)
//	p, _ := b.Build()            // hands out 4 threads
//	...                          // start 4 workers with b.Receiver()
//	res, err := p.Call(ctx, "add", 1, 2)
//
// Jobs are served in FIFO order by whichever thread is free. A job that
// aborts its guest (errors.AbortError) kills the thread that ran it and is
// reported by that worker as a panic; other job errors only reach the
// submitter.
package pool
