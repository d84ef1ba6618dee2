package centrifuge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// callResult is what a pending command resolves to: either a Result
// payload or an Error, following spec.md §4.2's two possible outcomes for
// an ID'd command (a third, TIMEOUT, is synthesized locally and never
// comes from the wire).
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one in-flight ID'd command, the local bookkeeping
// equivalent of the reference client's `requests map[uint32]request` and
// go-ethereum rpc/client.go's respWait map.
type pendingCall struct {
	method  Method
	started time.Time
	ch      chan callResult
	once    sync.Once
	timer   *time.Timer
}

func (p *pendingCall) resolve(r callResult) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- r
	})
}

// commandMux allocates command IDs and multiplexes replies back to their
// callers. One instance is owned by Client and lives for the process
// lifetime of the Client (not recreated per-reconnect), so IDs stay
// globally unique across reconnects per spec.md §8's invariant.
type commandMux struct {
	nextID  uint32
	mu      sync.Mutex
	pending map[uint32]*pendingCall
}

func newCommandMux() *commandMux {
	return &commandMux{pending: make(map[uint32]*pendingCall)}
}

// allocateID returns the next monotonically increasing, non-zero command
// ID. IDs are never reused even after their pendingCall is resolved.
func (m *commandMux) allocateID() uint32 {
	return atomic.AddUint32(&m.nextID, 1)
}

// register records a pendingCall for id and returns the channel it will
// resolve on. Used both for normal ID'd commands and for the "fake call"
// emulation primitive (spec.md §4.8/§9): registering without ever calling
// send, because the reply arrives out-of-band over the emulation side
// channel instead of this transport's own read path.
func (m *commandMux) register(id uint32, method Method) *pendingCall {
	p := &pendingCall{method: method, started: time.Now(), ch: make(chan callResult, 1)}
	m.mu.Lock()
	m.pending[id] = p
	m.mu.Unlock()
	return p
}

func (m *commandMux) forget(id uint32) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// resolve delivers a reply to its pendingCall, if still registered, and
// reports the call's method and latency so the caller can update metrics
// without this package needing its own reference to a MetricsCollector.
// A reply for an unknown (already-timed-out, or never-issued) ID is
// silently dropped, matching the reference client's behaviour of
// ignoring stale replies.
func (m *commandMux) resolve(id uint32, result json.RawMessage, replyErr *Error) (method Method, latency time.Duration, found bool) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return "", 0, false
	}
	var err error
	if replyErr != nil {
		err = replyErr
	}
	p.resolve(callResult{result: result, err: err})
	return p.method, time.Since(p.started), true
}

// drain rejects every currently pending call with err, the way a
// disconnect must fail every in-flight command per spec.md §4.2/§8.
func (m *commandMux) drain(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint32]*pendingCall)
	m.mu.Unlock()
	for _, p := range pending {
		p.resolve(callResult{err: err})
	}
}

// sender abstracts "encode this command and hand the frame to the
// transport", implemented by Client so commandMux stays transport-
// agnostic and easily fakeable in tests.
type sender interface {
	sendCommand(cmd *Command) error
}

// call issues an ID'd command and blocks until its reply, ctx's
// cancellation, or timeout elapses, whichever comes first. A non-nil
// error is one of: the wire Error from the server, ErrTimeout, or
// whatever sendCommand/drain reported (ErrClientDisconnected,
// ErrTransportWriteSync, ctx.Err()).
func (m *commandMux) call(ctx context.Context, s sender, method Method, params any, timeout time.Duration) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("centrifuge: encode %s params: %w", method, err)
		}
		raw = b
	}
	id := m.allocateID()
	p := m.register(id, method)

	if err := s.sendCommand(&Command{ID: id, Method: method, Params: raw}); err != nil {
		m.forget(id)
		return nil, err
	}

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			p.resolve(callResult{err: ErrTimeout})
			m.forget(id)
		})
	}

	select {
	case r := <-p.ch:
		return r.result, r.err
	case <-ctx.Done():
		m.forget(id)
		return nil, ctx.Err()
	}
}

// send issues a fire-and-forget command (spec.md §4.2: Method send,
// unsubscribe, and client pong all carry ID 0 and expect no reply).
func (m *commandMux) send(s sender, method Method, params any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("centrifuge: encode %s params: %w", method, err)
		}
		raw = b
	}
	return s.sendCommand(&Command{Method: method, Params: raw})
}
