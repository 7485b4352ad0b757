package protocol

import (
	"encoding/json"

	wasmthreads "github.com/wippyai/wasm-threads"
)

// Type is the tag carried by every handshake message. The tags are
// prefixed so they cannot collide with other traffic sharing a channel.
type Type string

const (
	TypeInit  Type = "wasm_bindgen_worker_init"
	TypeReady Type = "wasm_bindgen_worker_ready"
	TypePanic Type = "wasm_bindgen_worker_panic"
)

// Message is anything that can be posted through a Port.
type Message interface {
	MessageType() Type
}

// InitMessage is sent once by the coordinator to a freshly spawned worker.
// Module and Memory are forwarded by reference: the worker must bind to
// these exact instances, not copies.
type InitMessage struct {
	Module   wasmthreads.Module
	Memory   wasmthreads.Memory
	Receiver uint32
}

func (InitMessage) MessageType() Type { return TypeInit }

// ReadyMessage is sent once by a worker after it bound the module and
// memory, right before it enters the blocking worker loop.
type ReadyMessage struct{}

func (ReadyMessage) MessageType() Type { return TypeReady }

// PanicMessage is sent at most once by a worker whose loop failed. The
// worker must be treated as dead afterwards.
type PanicMessage struct {
	Message string
}

func (PanicMessage) MessageType() Type { return TypePanic }

// AsInit extracts an InitMessage from a value or pointer message.
func AsInit(msg Message) (InitMessage, bool) {
	switch m := msg.(type) {
	case InitMessage:
		return m, true
	case *InitMessage:
		if m != nil {
			return *m, true
		}
	}
	return InitMessage{}, false
}

// AsPanic extracts a PanicMessage from a value or pointer message.
func AsPanic(msg Message) (PanicMessage, bool) {
	switch m := msg.(type) {
	case PanicMessage:
		return m, true
	case *PanicMessage:
		if m != nil {
			return *m, true
		}
	}
	return PanicMessage{}, false
}

// TypeOf returns the tag of msg, or "" for a nil message.
func TypeOf(msg Message) Type {
	if msg == nil {
		return ""
	}
	return msg.MessageType()
}

type moduleDescriptor struct {
	Name         string `json:"name"`
	MemoryModule string `json:"memory_module"`
	MemoryName   string `json:"memory_name"`
}

type memoryDescriptor struct {
	Size uint32 `json:"size"`
}

// MarshalJSON renders the wire shape. Module and memory cannot be copied
// into JSON; they are rendered as descriptors.
func (m InitMessage) MarshalJSON() ([]byte, error) {
	out := struct {
		Type     Type              `json:"type"`
		Module   *moduleDescriptor `json:"module"`
		Memory   *memoryDescriptor `json:"memory"`
		Receiver uint32            `json:"receiver"`
	}{
		Type:     TypeInit,
		Receiver: m.Receiver,
	}
	if m.Module != nil {
		memModule, memName := m.Module.MemoryImport()
		out.Module = &moduleDescriptor{
			Name:         m.Module.Name(),
			MemoryModule: memModule,
			MemoryName:   memName,
		}
	}
	if m.Memory != nil {
		out.Memory = &memoryDescriptor{}
		if sizer, ok := m.Memory.(wasmthreads.MemorySizer); ok {
			out.Memory.Size = sizer.Size()
		}
	}
	return json.Marshal(out)
}

func (m ReadyMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Type `json:"type"`
	}{TypeReady})
}

func (m PanicMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    Type   `json:"type"`
		Message string `json:"message"`
	}{TypePanic, m.Message})
}
