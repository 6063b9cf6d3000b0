// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if got := fake.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	fake.Advance(90 * time.Second)
	if got := fake.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now() after advance = %v", got)
	}
}

func TestFakeAfterFunc(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := 0
	fake.AfterFunc(3*time.Second, func() { fired++ })

	fake.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatal("timer fired early")
	}
	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	// A fired one-shot timer must not fire again.
	fake.Advance(10 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d after further advance, want 1", fired)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(3*time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on armed timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	fake.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeAfterFuncReset(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := 0
	timer := fake.AfterFunc(3*time.Second, func() { fired++ })

	// Reset before the deadline pushes the deadline out.
	fake.Advance(2 * time.Second)
	if !timer.Reset(3 * time.Second) {
		t.Fatal("Reset on armed timer returned false")
	}
	fake.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatal("timer fired before the reset deadline")
	}
	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Reset after firing re-arms the timer.
	if timer.Reset(time.Second) {
		t.Fatal("Reset on fired timer returned true")
	}
	fake.Advance(time.Second)
	if fired != 2 {
		t.Fatalf("fired = %d after re-arm, want 2", fired)
	}
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(5 * time.Second)
	defer ticker.Stop()

	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after one interval")
	}

	// Spanning several intervals with nobody draining drops the
	// overflow but leaves exactly one buffered tick.
	fake.Advance(20 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick after multiple intervals")
	}

	ticker.Stop()
	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestFakeAfterImmediate(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not deliver immediately")
	}
}

func TestFakePendingCount(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	timer := fake.AfterFunc(time.Second, func() {})
	fake.NewTicker(time.Second)
	if got := fake.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
	timer.Stop()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount after Stop = %d, want 1", got)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		fake.AfterFunc(time.Second, func() {})
		close(done)
	}()

	fake.WaitForTimers(1)
	<-done
	if fake.PendingCount() != 1 {
		t.Fatal("timer not registered after WaitForTimers returned")
	}
}
