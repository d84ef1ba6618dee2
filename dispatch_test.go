package centrifuge

import (
	"testing"
	"time"
)

func TestDispatcherPreservesOrder(t *testing.T) {
	d := newDispatcher(0)
	go d.run()
	defer d.stop()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		d.enqueue(func() {
			order = append(order, i)
			if i == 49 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatcher to drain")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestDispatcherDrainsQueuedWorkOnStop(t *testing.T) {
	d := newDispatcher(4)
	go d.run()

	ran := make(chan int, 4)
	for i := 0; i < 4; i++ {
		i := i
		d.enqueue(func() { ran <- i })
	}
	d.stop()

	if len(ran) != 4 {
		t.Fatalf("expected all 4 queued tasks to run before stop returned, got %d", len(ran))
	}
}
