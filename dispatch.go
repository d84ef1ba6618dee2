package centrifuge

// dispatcher serializes inbound reply/push processing onto a single
// goroutine, so the transport's own read goroutine never blocks on user
// event handlers and every frame is still processed in the exact order it
// arrived on the wire (spec.md §4.4/§5's ordering guarantee). This is the
// same shape as go-ethereum's rpc/client.go dispatch() loop: one goroutine
// draining a channel, each queued continuation run to completion before
// the next is even read off the channel, rather than fanning work out
// across goroutines and risking reordering.
type dispatcher struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &dispatcher{
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case next := <-d.tasks:
			next()
		case <-d.quit:
			// Drain whatever is already queued before exiting, so a
			// disconnect processed just after a batch of pushes still
			// delivers them in order instead of silently swallowing
			// the tail of the queue.
			for {
				select {
				case next := <-d.tasks:
					next()
				default:
					return
				}
			}
		}
	}
}

// enqueue schedules fn to run after every previously enqueued task has
// completed. Safe to call from any goroutine, including the dispatcher's
// own (a handler that needs to schedule follow-up work after the rest of
// the current batch drains).
func (d *dispatcher) enqueue(fn func()) {
	select {
	case d.tasks <- fn:
	case <-d.quit:
	}
}

// stop signals the dispatcher to drain and exit, and blocks until it has.
// Not safe to call twice.
func (d *dispatcher) stop() {
	close(d.quit)
	<-d.done
}
