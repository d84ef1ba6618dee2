package centrifuge

import (
	"sync"
)

// fakeTransport is a scripted Transport double, following the style of
// apcera-nats's own test fakes (test/drain_test.go builds a throwaway
// nats-server instead, but the emulation/websocket split here calls for
// a pure in-memory double instead of a real socket). Tests drive the
// server side by calling deliver() with raw frames and read what the
// client sent via sent().
type fakeTransport struct {
	mu        sync.Mutex
	sentMu    sync.Mutex
	sentFrames [][]byte
	closed    bool
	callbacks TransportCallbacks

	initializeErr error
	sendErr       error
	emulation     bool
}

func (f *fakeTransport) Name() string    { return "fake" }
func (f *fakeTransport) SubName() string { return "" }
func (f *fakeTransport) Supported() bool { return true }
func (f *fakeTransport) Emulation() bool { return f.emulation }

func (f *fakeTransport) Initialize(_ Protocol, callbacks TransportCallbacks, initialFrame []byte) error {
	if f.initializeErr != nil {
		return f.initializeErr
	}
	f.mu.Lock()
	f.callbacks = callbacks
	f.mu.Unlock()
	if callbacks.OnOpen != nil {
		callbacks.OnOpen()
	}
	if initialFrame != nil {
		return f.Send(initialFrame, "", "")
	}
	return nil
}

func (f *fakeTransport) Send(frame []byte, _, _ string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentMu.Lock()
	f.sentFrames = append(f.sentFrames, append([]byte(nil), frame...))
	f.sentMu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	already := f.closed
	f.closed = true
	cb := f.callbacks.OnClose
	f.mu.Unlock()
	if !already && cb != nil {
		cb(0, "closed", false)
	}
	return nil
}

// deliver simulates an inbound frame arriving from the server.
func (f *fakeTransport) deliver(frame []byte) {
	f.mu.Lock()
	cb := f.callbacks.OnMessage
	f.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// deliverClose simulates the server/transport closing the connection.
func (f *fakeTransport) deliverClose(code uint32, reason string, reconnect bool) {
	f.mu.Lock()
	already := f.closed
	f.closed = true
	cb := f.callbacks.OnClose
	f.mu.Unlock()
	if !already && cb != nil {
		cb(code, reason, reconnect)
	}
}

func (f *fakeTransport) sent() [][]byte {
	f.sentMu.Lock()
	defer f.sentMu.Unlock()
	out := make([][]byte, len(f.sentFrames))
	copy(out, f.sentFrames)
	return out
}

func (f *fakeTransport) lastSent() []byte {
	s := f.sent()
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
