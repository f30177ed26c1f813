package gate

import (
	"context"
	"testing"
	"time"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	g := New(2, 4)
	ctx := context.Background()

	p1, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if g.ActiveJobs() != 1 {
		t.Errorf("ActiveJobs() = %d, want 1", g.ActiveJobs())
	}
	p1.Release()
	if g.ActiveJobs() != 0 {
		t.Errorf("ActiveJobs() = %d, want 0 after release", g.ActiveJobs())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(1, 2)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release()
	p.Release() // must not panic or double-decrement
	if g.ActiveJobs() != 0 {
		t.Errorf("ActiveJobs() = %d, want 0", g.ActiveJobs())
	}
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	g := New(1, 1)
	ctx := context.Background()

	p, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release()

	start := time.Now()
	_, err = g.Acquire(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Overloaded error when queue is full")
	}
	pe, ok := pareerr.As(err)
	if !ok || pe.Kind != pareerr.KindOverloaded {
		t.Errorf("error kind = %v, want Overloaded", err)
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("Acquire() took %v, want <10ms (non-blocking rejection)", elapsed)
	}
}

func TestAcquireBlocksUntilPermitAvailable(t *testing.T) {
	g := New(1, 2)
	p1, _ := g.Acquire(context.Background())

	done := make(chan struct{})
	go func() {
		p2, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("second Acquire() error = %v", err)
			return
		}
		p2.Release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second acquire should still be blocked")
	default:
	}

	p1.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestAcquireCancellationReleasesQueueSlot(t *testing.T) {
	g := New(1, 2)
	p1, _ := g.Acquire(context.Background())
	defer p1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// the only permit is held, so this waiter takes the second queue slot
	// and blocks until its context expires
	_, err := g.Acquire(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pareerr.Is(err, pareerr.KindCancelled) {
		t.Errorf("error kind = %v, want Cancelled", err)
	}
	if g.QueuedJobs() != 0 {
		t.Errorf("QueuedJobs() = %d, want 0 after the cancelled waiter left", g.QueuedJobs())
	}
}
