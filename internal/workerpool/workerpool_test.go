package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestWorkerPool(t *testing.T) {
	pool := New[int, int](4, 10)
	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	pool.Start(func(n int) int { return n * n })
	for i := 1; i <= 10; i++ {
		pool.Submit(i)
	}
	pool.Close()

	sum := 0
	for r := range pool.Results() {
		sum += r
	}
	if sum != 385 {
		t.Errorf("sum of squares = %d, want 385", sum)
	}
}

func TestNewSizing(t *testing.T) {
	if got := New[int, int](8, 3).Workers(); got != 3 {
		t.Errorf("Workers() = %d, want 3 (capped by job count)", got)
	}
	if got := New[int, int](0, 0).Workers(); got != DefaultWorkers() {
		t.Errorf("Workers() = %d, want %d", got, DefaultWorkers())
	}
}

func TestMapPreservesOrder(t *testing.T) {
	jobs := []string{"c", "bb", "aaa", "", "eeeee"}
	got, err := Map(context.Background(), 3, jobs, func(s string) int { return len(s) })
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	want := []int{1, 2, 3, 0, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Map()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := Map(ctx, 2, []int{1, 2, 3}, func(n int) int {
		calls.Add(1)
		return n
	})
	if err != context.Canceled {
		t.Errorf("Map() error = %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Errorf("fn called %d times after cancellation, want 0", calls.Load())
	}
}

func TestMapEmpty(t *testing.T) {
	got, err := Map(context.Background(), 2, nil, func(n int) int { return n })
	if err != nil || len(got) != 0 {
		t.Errorf("Map(nil) = %v, %v", got, err)
	}
}
