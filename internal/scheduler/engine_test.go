package scheduler

import (
	"fmt"
	"testing"
	"time"
)

func TestEngineEmitsInFireOrder(t *testing.T) {
	engine := NewEngine(8)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(Firing{Handle: "later", FireAt: now.Add(80 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule later: %v", err)
	}
	if err := engine.Schedule(Firing{Handle: "sooner", FireAt: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule sooner: %v", err)
	}

	first := waitFiring(t, engine.C(), time.Second)
	second := waitFiring(t, engine.C(), time.Second)
	if first.Handle != "sooner" || second.Handle != "later" {
		t.Fatalf("unexpected order: first=%s second=%s", first.Handle, second.Handle)
	}
}

func TestEngineCancelRemovesPendingFiring(t *testing.T) {
	engine := NewEngine(8)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := engine.Schedule(Firing{Handle: fmt.Sprintf("h%d", i), FireAt: now.Add(time.Duration(30+i*10) * time.Millisecond)}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if !engine.Cancel("h2") {
		t.Fatal("expected h2 to be cancelled")
	}
	if engine.Cancel("h2") {
		t.Fatal("second cancel must report false")
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[waitFiring(t, engine.C(), time.Second).Handle] = true
	}
	if seen["h2"] {
		t.Fatal("cancelled firing was emitted")
	}
	select {
	case f := <-engine.C():
		t.Fatalf("unexpected extra firing %s", f.Handle)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestEngineRescheduleReplacesHandle(t *testing.T) {
	engine := NewEngine(8)
	now := time.Now().UTC()
	if err := engine.Schedule(Firing{Handle: "h", TaskID: "t", FireAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.Schedule(Firing{Handle: "h", TaskID: "t", FireAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	pending := engine.Pending()
	if len(pending) != 1 || !pending[0].FireAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected one replaced firing, got %#v", pending)
	}
}

func TestEngineHoldsFiringsForSlowConsumer(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	defer engine.Stop()

	at := time.Now().UTC().Add(20 * time.Millisecond)
	for i := 0; i < 25; i++ {
		if err := engine.Schedule(Firing{Handle: fmt.Sprintf("evt-%d", i), FireAt: at}); err != nil {
			t.Fatalf("schedule firing: %v", err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		seen[waitFiring(t, engine.C(), time.Second).Handle] = true
	}
	if len(seen) != 25 {
		t.Fatalf("expected 25 distinct firings, got %d", len(seen))
	}
}

func TestEngineStopUnblocksFullBuffer(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()

	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := engine.Schedule(Firing{Handle: fmt.Sprintf("evt-%d", i), FireAt: at}); err != nil {
			t.Fatalf("schedule firing: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		engine.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on a full buffer")
	}
}

func TestScheduleValidatesFiring(t *testing.T) {
	engine := NewEngine(1)
	if err := engine.Schedule(Firing{Handle: "bad"}); err != ErrInvalidFireTime {
		t.Fatalf("expected ErrInvalidFireTime, got %v", err)
	}
	if err := engine.Schedule(Firing{FireAt: time.Now()}); err != ErrMissingHandle {
		t.Fatalf("expected ErrMissingHandle, got %v", err)
	}
	engine.Start()
	engine.Stop()
	if err := engine.Schedule(Firing{Handle: "late", FireAt: time.Now()}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func waitFiring(t *testing.T, ch <-chan Firing, timeout time.Duration) Firing {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for firing")
		return Firing{}
	}
}
