package resource

import (
	"sync"
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable[string]()

	h := table.Insert("test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}

	if _, ok := table.Get(h); ok {
		t.Fatal("Get should fail after Remove")
	}
}

func TestTable_ZeroHandleInvalid(t *testing.T) {
	table := NewTable[int]()
	if _, ok := table.Get(0); ok {
		t.Error("Get(0) should fail")
	}
	if _, ok := table.Remove(0); ok {
		t.Error("Remove(0) should fail")
	}
	if _, ok := table.Get(99); ok {
		t.Error("Get of unknown handle should fail")
	}
}

func TestTable_HandleReuse(t *testing.T) {
	table := NewTable[int]()
	h1 := table.Insert(1)
	h2 := table.Insert(2)
	if h1 == h2 {
		t.Fatal("handles must be distinct")
	}

	table.Remove(h1)
	h3 := table.Insert(3)
	if h3 != h1 {
		t.Errorf("expected freed handle %d to be reused, got %d", h1, h3)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable[string]()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert("test")
	if len(obs.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[0].Handle != h {
		t.Fatalf("unexpected event %+v", obs.events[0])
	}

	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped {
		t.Fatal("Expected EventDropped")
	}

	table.Unsubscribe(obs)
	table.Insert("test2")
	if len(obs.events) != 2 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestTable_Each(t *testing.T) {
	table := NewTable[int]()
	table.Insert(1)
	h := table.Insert(2)
	table.Insert(3)
	table.Remove(h)

	sum := 0
	table.Each(func(_ Handle, v int) bool {
		sum += v
		return true
	})
	if sum != 4 {
		t.Errorf("sum = %d, want 4", sum)
	}

	visited := 0
	table.Each(func(Handle, int) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Each should stop early, visited %d", visited)
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestTable_Dropper(t *testing.T) {
	table := NewTable[*dropCounter]()
	d1 := &dropCounter{}
	d2 := &dropCounter{}

	h := table.Insert(d1)
	table.Insert(d2)

	table.Remove(h)
	if d1.count != 1 {
		t.Fatalf("Remove should drop value, count = %d", d1.count)
	}

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d2.count != 1 {
		t.Fatalf("Close should drop remaining values, count = %d", d2.count)
	}

	if h := table.Insert(&dropCounter{}); h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
}

func TestTable_Concurrent(t *testing.T) {
	table := NewTable[int]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			h := table.Insert(v)
			if got, ok := table.Get(h); !ok || got != v {
				t.Errorf("Get(%d) = %d, %v", h, got, ok)
			}
		}(i)
	}
	wg.Wait()

	if table.Len() != 32 {
		t.Errorf("Len() = %d, want 32", table.Len())
	}
}
