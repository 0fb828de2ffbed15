package i2c

import "testing"

func TestCommandQueue_CapacityBoundary(t *testing.T) {
	q := NewCommandQueue(3)
	for i := 0; i < 3; i++ {
		if !q.Push(Command{FutureID: uint8(i + 1)}) {
			t.Fatalf("push %d: expected room", i)
		}
	}
	if q.Push(Command{FutureID: 99}) {
		t.Fatalf("push beyond capacity: expected EAGAIN (false)")
	}
	if q.FreeSlots() != 0 {
		t.Fatalf("FreeSlots = %d, want 0", q.FreeSlots())
	}

	if _, ok := q.Pop(); !ok {
		t.Fatal("pop: expected a command")
	}
	if q.FreeSlots() != 1 {
		t.Fatalf("FreeSlots after pop = %d, want 1", q.FreeSlots())
	}
	if !q.Push(Command{FutureID: 42}) {
		t.Fatal("push after pop: expected room")
	}
}

func TestCommandQueue_FIFOOrder(t *testing.T) {
	q := NewCommandQueue(4)
	for i := 1; i <= 3; i++ {
		q.Push(Command{FutureID: uint8(i)})
	}
	for i := 1; i <= 3; i++ {
		c, ok := q.Pop()
		if !ok || c.FutureID != uint8(i) {
			t.Fatalf("pop %d: got %+v, ok=%v", i, c, ok)
		}
	}
	if !q.Empty() {
		t.Fatal("expected queue empty after draining")
	}
}

func TestCommandQueue_ClearTransaction(t *testing.T) {
	q := NewCommandQueue(8)
	q.Push(Command{FutureID: 1})
	q.Push(Command{FutureID: 1, ForceStop: true})
	q.Push(Command{FutureID: 2})

	dropped := q.ClearTransaction(1)
	if len(dropped) != 2 {
		t.Fatalf("dropped = %d, want 2", len(dropped))
	}
	c, ok := q.Peek()
	if !ok || c.FutureID != 2 {
		t.Fatalf("remaining head = %+v, ok=%v; want future 2", c, ok)
	}
}

func TestCommandQueue_ClearTransactionStopsAtBoundary(t *testing.T) {
	q := NewCommandQueue(8)
	q.Push(Command{FutureID: 1})
	q.Push(Command{FutureID: 2})
	q.Push(Command{FutureID: 1}) // not adjacent: must not be dropped

	dropped := q.ClearTransaction(1)
	if len(dropped) != 1 {
		t.Fatalf("dropped = %d, want 1 (stop at first non-matching future)", len(dropped))
	}
	if q.FreeSlots() != 6 {
		t.Fatalf("FreeSlots = %d, want 6", q.FreeSlots())
	}
}
