package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerCoalescesBursts(t *testing.T) {
	d := New(30 * time.Millisecond)
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	for _, term := range []string{"J", "Ja", "Jan", "Jane"} {
		term := term
		d.Trigger(func() {
			mu.Lock()
			got = append(got, term)
			mu.Unlock()
			close(done)
		})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call never ran")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "Jane" {
		t.Errorf("calls = %v, want [Jane]", got)
	}
}

func TestCancelDropsPending(t *testing.T) {
	d := New(20 * time.Millisecond)
	var calls int32
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })
	if !d.Pending() {
		t.Fatal("expected pending call")
	}
	d.Cancel()
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
	if d.Pending() {
		t.Error("expected nothing pending after Cancel")
	}
}

func TestStopIgnoresLaterTriggers(t *testing.T) {
	d := New(10 * time.Millisecond)
	var calls int32
	d.Stop()
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestZeroDelayRunsInline(t *testing.T) {
	d := New(0)
	ran := false
	d.Trigger(func() { ran = true })
	if !ran {
		t.Error("expected synchronous call")
	}
}
