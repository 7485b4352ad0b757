package instrument

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func TestMeasure_RecordsOnce(t *testing.T) {
	var c Collector
	clock := &fakeClock{t: time.Unix(0, 0)}
	rec := NewRecorder(WithSink(&c), WithClock(clock.now), WithID("ab12"))

	exit := rec.Measure("x", Roles{RoleThread})
	if rec.OpenMarks() != 1 {
		t.Fatalf("OpenMarks() = %d, want 1", rec.OpenMarks())
	}
	exit()
	exit()

	got := c.Measurements()
	if len(got) != 1 {
		t.Fatalf("recorded %d measurements, want 1", len(got))
	}
	if got[0].Label != "|x| (wasm-threads) [thread #ab12]" {
		t.Errorf("Label = %q", got[0].Label)
	}
	if got[0].Duration != time.Millisecond {
		t.Errorf("Duration = %v", got[0].Duration)
	}
	if rec.OpenMarks() != 0 {
		t.Errorf("mark leaked: OpenMarks() = %d", rec.OpenMarks())
	}
}

func TestMeasure_SequentialSpansDoNotInterfere(t *testing.T) {
	var c Collector
	rec := NewRecorder(WithSink(&c))

	first := rec.Measure("x", nil)
	first()
	second := rec.Measure("x", nil)
	second()

	got := c.Measurements()
	if len(got) != 2 {
		t.Fatalf("recorded %d measurements, want 2", len(got))
	}
	for _, m := range got {
		if !strings.Contains(m.Label, "|x|") {
			t.Errorf("label %q does not name the span", m.Label)
		}
	}
	if got[0].Mark == got[1].Mark {
		t.Errorf("spans share mark %q", got[0].Mark)
	}
	if rec.OpenMarks() != 0 {
		t.Errorf("OpenMarks() = %d, want 0", rec.OpenMarks())
	}
}

func TestMeasure_Interleaved(t *testing.T) {
	var c Collector
	rec := NewRecorder(WithSink(&c))

	outer := rec.Measure("outer", nil)
	inner := rec.Measure("inner", nil)
	if rec.OpenMarks() != 2 {
		t.Fatalf("OpenMarks() = %d, want 2", rec.OpenMarks())
	}
	inner()
	outer()

	got := c.Measurements()
	if len(got) != 2 || got[0].Name != "inner" || got[1].Name != "outer" {
		t.Fatalf("unexpected measurements %+v", got)
	}
}

func TestMeasure_Concurrent(t *testing.T) {
	var c Collector
	rec := NewRecorder(WithSink(&c))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Measure("job", Roles{RoleThread})()
		}()
	}
	wg.Wait()

	if n := len(c.Measurements()); n != 50 {
		t.Errorf("recorded %d, want 50", n)
	}
	if rec.OpenMarks() != 0 {
		t.Errorf("OpenMarks() = %d, want 0", rec.OpenMarks())
	}
}

func TestNilRecorder(t *testing.T) {
	var rec *Recorder
	rec.Measure("x", nil)()
	if rec.OpenMarks() != 0 || rec.ID() != "" {
		t.Error("nil recorder should be inert")
	}
}

func TestRecorderID(t *testing.T) {
	if id := NewRecorder().ID(); len(id) != 4 {
		t.Errorf("ID() = %q, want 4 characters", id)
	}
	if id := NewRecorder(WithID("main")).ID(); id != "main" {
		t.Errorf("ID() = %q, want main", id)
	}
}

func TestRoles(t *testing.T) {
	var base Roles
	thread := base.With(RoleThread)
	both := thread.With(RoleWasmHelper)

	if len(base) != 0 {
		t.Errorf("With modified the receiver: %v", base)
	}
	if thread.String() != "thread" {
		t.Errorf("thread = %q", thread)
	}
	if both.String() != "thread; wasm-helper" {
		t.Errorf("both = %q", both)
	}
	if again := both.With(RoleThread); len(again) != 2 {
		t.Errorf("With should not duplicate roles: %v", again)
	}
}
