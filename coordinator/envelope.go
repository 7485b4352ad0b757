package coordinator

import (
	"go.uber.org/zap"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/protocol"
	"github.com/wippyai/wasm-threads/worker"
)

// PoolBuilder is the part of a pool builder the coordinator needs: the
// handle workers pull their threads from.
type PoolBuilder interface {
	Receiver() uint32
}

// Envelope bundles an init message with the builder it refers to and the
// script a spawned worker must run to understand it.
type Envelope struct {
	Builder          PoolBuilder
	WorkerScriptHref string
	Message          protocol.InitMessage
}

// Options configures envelope construction and worker startup.
type Options struct {
	// WorkerScriptHref is the worker bootstrap location. Defaults to
	// worker.DefaultScriptHref.
	WorkerScriptHref string
	Recorder         *instrument.Recorder
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

func (o *Options) scriptHref() string {
	if o == nil || o.WorkerScriptHref == "" {
		return worker.DefaultScriptHref
	}
	return o.WorkerScriptHref
}

func (o *Options) recorder() *instrument.Recorder {
	if o == nil {
		return nil
	}
	return o.Recorder
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) metrics() *metrics.Metrics {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// BuildInitEnvelope creates the init envelope for one worker. The receiver
// is read from builder on every call; the builder must stay alive until
// the worker consumed the message.
func BuildInitEnvelope(module wasmthreads.Module, memory wasmthreads.Memory, builder PoolBuilder, opts *Options) Envelope {
	exit := opts.recorder().Measure("wasm called createWorkerInitMessage", instrument.Roles{instrument.RoleWasmHelper})
	defer exit()

	return Envelope{
		Builder:          builder,
		WorkerScriptHref: opts.scriptHref(),
		Message: protocol.InitMessage{
			Module:   module,
			Memory:   memory,
			Receiver: builder.Receiver(),
		},
	}
}
