package dispatch_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-bus/dispatch"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := dispatch.NewPool(4)
	defer p.Close()

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			atomic.AddInt64(&ran, 1)
			wg.Done()
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&ran); got != 32 {
		t.Errorf("ran = %d, want 32", got)
	}
	stats := p.Stats()
	if stats["submitted_tasks"] != 32 {
		t.Errorf("submitted_tasks = %d", stats["submitted_tasks"])
	}
	if stats["num_workers"] != 4 {
		t.Errorf("num_workers = %d", stats["num_workers"])
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := dispatch.NewPool(1)
	defer p.Close()

	if err := p.Submit(func() { panic("boom") }); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := dispatch.NewPool(2)
	p.Close()
	p.Close() // closing twice is harmless

	if err := p.Submit(func() {}); err != dispatch.ErrPoolClosed {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	p := dispatch.NewPool(0)
	defer p.Close()
	if p.NumWorkers() < 1 {
		t.Errorf("NumWorkers = %d", p.NumWorkers())
	}
}
