package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"taskbot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Workers: 2, QueueSize: 16}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
		cancel()
	})
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestAtFires(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Int32
	s.At(time.Now().Add(10*time.Millisecond), "t", func(context.Context) error {
		fired.Add(1)
		return nil
	})

	waitFor(t, func() bool { return fired.Load() == 1 }, "one-shot to fire")
	if n := s.PendingTimers(); n != 0 {
		t.Fatalf("PendingTimers after fire = %d", n)
	}
}

func TestAtPastInstantFiresImmediately(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Int32
	s.At(time.Now().Add(-time.Hour), "t", func(context.Context) error {
		fired.Add(1)
		return nil
	})
	waitFor(t, func() bool { return fired.Load() == 1 }, "past-due one-shot to fire")
}

func TestCancelPreventsFire(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Int32
	h := s.At(time.Now().Add(30*time.Millisecond), "t", func(context.Context) error {
		fired.Add(1)
		return nil
	})
	h.Cancel()

	if n := s.PendingTimers(); n != 0 {
		t.Fatalf("PendingTimers after cancel = %d", n)
	}
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("cancelled action fired")
	}
}

func TestCancelIsIdempotentAndNilSafe(t *testing.T) {
	s := newTestService(t)

	h := s.At(time.Now().Add(time.Hour), "t", func(context.Context) error { return nil })
	h.Cancel()
	h.Cancel()

	var nilHandle *Handle
	nilHandle.Cancel()
}

func TestEveryRejectsBadSpec(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if err := s.Every("k", "not a spec", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEveryFiresRepeatedly(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Int32
	if err := s.Every("tick", "@every 20ms", func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	waitFor(t, func() bool { return fired.Load() >= 2 }, "recurring entry to fire twice")

	if !s.HasEntry("tick") || s.HasEntry("other") {
		t.Fatalf("HasEntry: tick=%v other=%v", s.HasEntry("tick"), s.HasEntry("other"))
	}
	s.Remove("tick")
	if s.HasEntry("tick") {
		t.Fatalf("entry still registered after Remove")
	}
	n := fired.Load()
	time.Sleep(60 * time.Millisecond)
	if fired.Load() > n+1 {
		t.Fatalf("entry kept firing after Remove")
	}
}

func TestScheduleReplaceSwapsEntry(t *testing.T) {
	s := newTestService(t)

	var first, second atomic.Int32
	if err := s.Every("k", "@every 20ms", func(context.Context) error {
		first.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := s.Every("k", "@every 20ms", func(context.Context) error {
		second.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	waitFor(t, func() bool { return second.Load() >= 2 }, "replacement entry to fire")
	if first.Load() > 1 {
		t.Fatalf("replaced entry still firing (%d)", first.Load())
	}
}

func TestStopDropsPendingTimers(t *testing.T) {
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	var fired atomic.Int32
	s.At(time.Now().Add(30*time.Millisecond), "t", func(context.Context) error {
		fired.Add(1)
		return nil
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)

	if n := s.PendingTimers(); n != 0 {
		t.Fatalf("PendingTimers after Stop = %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("one-shot fired after Stop")
	}
}

func TestEntriesSurviveRestart(t *testing.T) {
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	var fired atomic.Int32
	if err := s.Every("tick", "@every 20ms", func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	s.Stop(stopCtx)
	cancel()

	s.Start(context.Background())
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(stopCtx)
	}()

	base := fired.Load()
	waitFor(t, func() bool { return fired.Load() > base }, "entry to fire after restart")
}

func TestPanicInJobDoesNotKillWorker(t *testing.T) {
	s := newTestService(t)

	s.At(time.Now(), "boom", func(context.Context) error { panic("boom") })

	var fired atomic.Int32
	s.At(time.Now().Add(20*time.Millisecond), "after", func(context.Context) error {
		fired.Add(1)
		return nil
	})
	waitFor(t, func() bool { return fired.Load() == 1 }, "job after panic to run")
}
