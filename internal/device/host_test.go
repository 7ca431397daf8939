package device

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestHostLaunchCoversEveryItemOnce(t *testing.T) {
	t.Parallel()

	h, err := NewHost(HostOptions{MemoryBudget: 1 << 20, Workers: 4})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	for _, tc := range []struct{ n, grain int }{{1, 1}, {7, 3}, {1000, 32}, {1001, 1}, {5, 64}} {
		hits := make([]int32, tc.n)
		err := h.Launch(context.Background(), tc.n, tc.grain, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		if err != nil {
			t.Fatalf("Launch(n=%d, grain=%d): %v", tc.n, tc.grain, err)
		}
		for i, v := range hits {
			if v != 1 {
				t.Fatalf("n=%d grain=%d: item %d visited %d times", tc.n, tc.grain, i, v)
			}
		}
	}
}

func TestHostLaunchBlocksAreWhole(t *testing.T) {
	t.Parallel()

	h, err := NewHost(HostOptions{MemoryBudget: 1 << 20, Workers: 3})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	const grain = 8
	var bad atomic.Bool
	err = h.Launch(context.Background(), 100, grain, func(lo, hi int) {
		if lo%grain != 0 || (hi != 100 && hi%grain != 0) {
			bad.Store(true)
		}
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if bad.Load() {
		t.Fatalf("a worker received a range that splits a block")
	}
}

func TestHostLaunchPanicBecomesError(t *testing.T) {
	t.Parallel()

	h, err := NewHost(HostOptions{MemoryBudget: 1 << 20, Workers: 2})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	err = h.Launch(context.Background(), 64, 1, func(lo, hi int) {
		if lo == 0 {
			panic("boom")
		}
	})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Launch: got %v want %v", err, ErrLaunch)
	}
}

func TestHostLaunchCanceled(t *testing.T) {
	t.Parallel()

	h, err := NewHost(HostOptions{MemoryBudget: 1 << 20})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = h.Launch(ctx, 10, 1, func(lo, hi int) { called = true })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Launch: got %v want %v", err, context.Canceled)
	}
	if called {
		t.Fatalf("kernel ran after cancellation")
	}
}

func TestHostMemoryAccounting(t *testing.T) {
	t.Parallel()

	h, err := NewHost(HostOptions{MemoryBudget: 4096})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	buf, err := h.AllocFloat64(256)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	free, total, err := h.MemInfo()
	if err != nil {
		t.Fatalf("MemInfo: %v", err)
	}
	if free != 2048 || total != 4096 {
		t.Fatalf("MemInfo: got free=%d total=%d want 2048/4096", free, total)
	}
	if err := h.Reset(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Reset with live buffer: got %v want %v", err, ErrBusy)
	}
	if _, err := h.AllocFloat64(512); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("over budget: got %v want %v", err, ErrOutOfMemory)
	}
	if err := buf.Free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := h.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}
