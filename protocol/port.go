package protocol

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-threads/errors"
)

// Listener receives messages delivered to a Port. Listeners run on the
// port's dispatch goroutine and must not block.
type Listener func(Message)

// Port is one end of an in-process message channel. Messages posted to a
// port's peer are queued without blocking and delivered in order to the
// port's listeners once the port has been started. Messages that arrive
// while no listener is registered are dropped.
type Port struct {
	peer      *Port
	queue     []Message
	listeners []listenerEntry
	wake      chan struct{}
	done      chan struct{}
	mu        sync.Mutex
	nextID    uint64
	startOnce sync.Once
	closeOnce sync.Once
	closed    bool
}

type listenerEntry struct {
	fn Listener
	id uint64
}

// NewChannel returns two entangled ports. A message posted on one is
// delivered to the other.
func NewChannel() (*Port, *Port) {
	a := newPort()
	b := newPort()
	a.peer = b
	b.peer = a
	return a, b
}

func newPort() *Port {
	return &Port{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues msg for delivery on the peer port. It never blocks.
func (p *Port) Post(msg Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.Closed(errors.PhaseProtocol, "port")
	}
	return p.peer.enqueue(msg)
}

func (p *Port) enqueue(msg Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.Closed(errors.PhaseProtocol, "peer port")
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// AddListener registers fn and returns a function that removes it.
// Removal is effective for every message dispatched after it returns,
// including messages already queued.
func (p *Port) AddListener(fn Listener) (remove func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

// Start begins dispatching queued messages. Until Start is called messages
// accumulate, so listeners registered before Start never miss one.
func (p *Port) Start() {
	p.startOnce.Do(func() {
		go p.dispatch()
	})
}

// Close stops dispatching and rejects further posts in both directions.
// Queued messages are discarded.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.listeners = nil
		p.mu.Unlock()
		close(p.done)
	})
}

// Done is closed when the port is closed.
func (p *Port) Done() <-chan struct{} {
	return p.done
}

// Pending returns the number of queued, undelivered messages.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Port) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			msg, ok := p.next()
			if !ok {
				break
			}
			for _, fn := range p.snapshot() {
				fn(msg)
			}
		}
	}
}

func (p *Port) next() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) == 0 {
		return nil, false
	}
	msg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return msg, true
}

func (p *Port) snapshot() []Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	fns := make([]Listener, len(p.listeners))
	for i, l := range p.listeners {
		fns[i] = l.fn
	}
	return fns
}

// WaitFor blocks until a message of type typ arrives on p. The listener it
// installs is removed on the first match, so later messages of the same
// type are not consumed by it. Nil messages and other types are ignored.
// WaitFor starts the port.
func WaitFor(ctx context.Context, p *Port, typ Type) (Message, error) {
	got := make(chan Message, 1)
	var once sync.Once
	var remove func()
	var removeMu sync.Mutex

	removeMu.Lock()
	remove = p.AddListener(func(msg Message) {
		if msg == nil || msg.MessageType() != typ {
			return
		}
		once.Do(func() {
			removeMu.Lock()
			remove()
			removeMu.Unlock()
			got <- msg
		})
	})
	removeMu.Unlock()
	p.Start()

	select {
	case msg := <-got:
		return msg, nil
	case <-ctx.Done():
		removeMu.Lock()
		remove()
		removeMu.Unlock()
		return nil, ctx.Err()
	case <-p.Done():
		return nil, errors.Closed(errors.PhaseProtocol, "port")
	}
}
