package i2c

import (
	"context"
	"testing"
	"time"

	"fastarduino/errcode"
)

type rtc struct {
	Seconds, Minutes, Hours byte
}

func TestFutureStore_RegisterReleaseCapacityBoundary(t *testing.T) {
	s := NewFutureStore(2)
	id1 := s.Register(nil, 0)
	id2 := s.Register(nil, 0)
	if id1 == NoID || id2 == NoID || id1 == id2 {
		t.Fatalf("expected two distinct live ids, got %d %d", id1, id2)
	}
	if id3 := s.Register(nil, 0); id3 != NoID {
		t.Fatalf("expected pool exhaustion (NoID), got %d", id3)
	}
	s.Release(id1)
	if id4 := s.Register(nil, 0); id4 != id1 {
		t.Fatalf("expected released slot %d to be reused, got %d", id1, id4)
	}
}

func TestFuture_WriteThenFinish(t *testing.T) {
	store := NewFutureStore(2)
	type void struct{}
	in := rtc{Seconds: 1, Minutes: 2, Hours: 3}
	f, ok := NewFuture[void, rtc](store, &in)
	if !ok {
		t.Fatal("register failed")
	}
	if store.InputRemaining(f.ID()) != 3 {
		t.Fatalf("InputRemaining = %d, want 3", store.InputRemaining(f.ID()))
	}
	for i := 0; i < 3; i++ {
		if _, ok := store.ConsumeInputByte(f.ID()); !ok {
			t.Fatalf("consume %d failed", i)
		}
	}
	if _, ok := store.ConsumeInputByte(f.ID()); ok {
		t.Fatal("consume beyond input: expected failure")
	}
	store.Finish(f.ID())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("Await = %v, %v; want Ready, nil", status, err)
	}
}

func TestFuture_ReadThenGet(t *testing.T) {
	store := NewFutureStore(2)
	f, ok := NewFuture[rtc, struct{}](store, nil)
	if !ok {
		t.Fatal("register failed")
	}
	want := []byte{10, 20, 30}
	for _, b := range want {
		if !store.ProduceOutputByte(f.ID(), b) {
			t.Fatal("produce failed")
		}
	}
	if store.ProduceOutputByte(f.ID(), 99) {
		t.Fatal("produce beyond declared output length: expected failure")
	}
	store.Finish(f.ID())

	var out rtc
	if !f.Get(&out) {
		t.Fatal("Get: expected success once Ready")
	}
	if out.Seconds != 10 || out.Minutes != 20 || out.Hours != 30 {
		t.Fatalf("Get result = %+v", out)
	}
}

func TestFuture_ErrorIsTerminalAndSticky(t *testing.T) {
	store := NewFutureStore(1)
	f, _ := NewFuture[struct{}, struct{}](store, nil)
	store.SetError(f.ID(), errcode.EPROTO)
	store.SetError(f.ID(), errcode.EILSEQ) // must not overwrite the first error
	if f.Error() != errcode.EPROTO {
		t.Fatalf("Error() = %v, want sticky EPROTO", f.Error())
	}
	store.Finish(f.ID()) // must not clear an error
	if f.Status() != StatusError {
		t.Fatalf("Status() = %v, want Error", f.Status())
	}
}

func TestFuture_AwaitRespectsContextCancellation(t *testing.T) {
	store := NewFutureStore(1)
	f, _ := NewFuture[struct{}, struct{}](store, nil) // never finished
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestRawFuture_VariableLengthRoundTrip(t *testing.T) {
	store := NewFutureStore(1)
	f, ok := NewRawFuture(store, []byte{0x3C}, 6) // HMC5883L-style 6-byte burst read
	if !ok {
		t.Fatal("register failed")
	}
	for i := 0; i < 6; i++ {
		store.ProduceOutputByte(f.ID(), byte(i))
	}
	store.Finish(f.ID())

	dst := make([]byte, 6)
	if !f.Get(dst) {
		t.Fatal("Get: expected success")
	}
	for i, b := range dst {
		if b != byte(i) {
			t.Fatalf("dst[%d] = %d, want %d", i, b, i)
		}
	}
}
