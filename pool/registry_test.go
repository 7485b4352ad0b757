package pool

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/errors"
)

func isKind(err error, kind errors.Kind) bool {
	var e *errors.Error
	return stderrors.As(err, &e) && e.Kind == kind
}

func TestRegistry_NewBuilder(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	a, err := reg.NewBuilder(2, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	b, err := reg.NewBuilder(3, &Options{QueueSize: 1})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	if a.Receiver() == 0 || a.Receiver() == b.Receiver() {
		t.Errorf("receivers %d and %d must be distinct and non-zero", a.Receiver(), b.Receiver())
	}
	if a.NumThreads() != 2 || b.NumThreads() != 3 {
		t.Errorf("NumThreads = %d, %d", a.NumThreads(), b.NumThreads())
	}
	if a.opts.QueueSize != DefaultQueueSize || b.opts.QueueSize != 1 {
		t.Errorf("queue sizes = %d, %d", a.opts.QueueSize, b.opts.QueueSize)
	}
	if got, ok := reg.Lookup(b.Receiver()); !ok || got != b {
		t.Error("Lookup did not return the registered builder")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestRegistry_NewBuilderInvalid(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []int{0, -1} {
		if _, err := reg.NewBuilder(n, nil); !isKind(err, errors.KindInvalidInput) {
			t.Errorf("NewBuilder(%d) = %v, want invalid input", n, err)
		}
	}

	reg.Close()
	if _, err := reg.NewBuilder(1, nil); !isKind(err, errors.KindClosed) {
		t.Errorf("NewBuilder on closed registry = %v, want closed", err)
	}
}

func TestBuilder_Close(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(1, nil)
	receiver := b.Receiver()

	b.Close()
	b.Close()

	if _, ok := reg.Lookup(receiver); ok {
		t.Error("closed builder still registered")
	}
	if _, err := b.Next(context.Background()); !isKind(err, errors.KindClosed) {
		t.Errorf("Next after Close = %v, want closed", err)
	}
	if _, err := b.Build(); !isKind(err, errors.KindClosed) {
		t.Errorf("Build after Close = %v, want closed", err)
	}
}

func TestBuilder_CloseDoesNotDropReissuedHandle(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.NewBuilder(1, nil)
	a.Close()

	b, _ := reg.NewBuilder(1, nil)
	if b.Receiver() != a.Receiver() {
		t.Fatalf("receiver %d was not reused (got %d)", a.Receiver(), b.Receiver())
	}
	a.Close()
	if _, ok := reg.Lookup(b.Receiver()); !ok {
		t.Error("closing a stale builder removed its successor")
	}
}

func TestBuilder_BuildOnce(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(2, nil)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Threads() != 2 {
		t.Errorf("Threads() = %d, want 2", p.Threads())
	}
	if _, err := b.Build(); !isKind(err, errors.KindInvalidInput) {
		t.Errorf("second Build = %v, want invalid input", err)
	}

	ctx := context.Background()
	seen := map[int]bool{}
	for range 2 {
		th, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[th.Index()] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("threads handed out = %v, want 0 and 1", seen)
	}
}

func TestBuilder_NextWaits(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Next(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next before Build = %v, want deadline exceeded", err)
	}

	got := make(chan *Thread, 1)
	go func() {
		th, _ := b.Next(context.Background())
		got <- th
	}()
	if _, err := b.Build(); err != nil {
		t.Fatal(err)
	}
	select {
	case th := <-got:
		if th == nil {
			t.Error("expected a thread")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Build")
	}
}

func TestRegistry_CloseReleasesWaiters(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(1, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := b.Next(context.Background())
		errc <- err
	}()

	reg.Close()
	select {
	case err := <-errc:
		if !isKind(err, errors.KindClosed) {
			t.Errorf("Next = %v, want closed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}
