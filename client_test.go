package centrifuge

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func testClient(ft *fakeTransport, extra func(*Config)) *Client {
	cfg := Config{
		Transport:         ft,
		Timeout:           200 * time.Millisecond,
		MinReconnectDelay: 5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		Logger:            noopLogger{},
		Metrics:           noopMetrics{},
	}
	if extra != nil {
		extra(&cfg)
	}
	return NewClient(cfg)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

// Test 1: fresh connect completes once the server replies to the connect
// command, and the client reports CONNECTED with the server's client ID.
func TestClientFreshConnect(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1","version":"1.0.0"}}`))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected connect error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Connect to return")
	}

	if c.State() != StateConnected {
		t.Fatalf("expected StateConnected, got %v", c.State())
	}
	if c.ClientID() != "c1" {
		t.Fatalf("expected client id c1, got %q", c.ClientID())
	}
}

// Test 2: commands issued before the client reaches CONNECTED are gated
// with ErrClientDisconnected rather than blocking or panicking.
func TestClientCallGatingBeforeConnect(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)
	defer c.Close()

	if err := c.Publish(context.Background(), "news", []byte("x")); err != ErrClientDisconnected {
		t.Fatalf("expected ErrClientDisconnected, got %v", err)
	}
}

// Test 3: a connect attempt that never receives a reply fails with
// ErrTimeout once cfg.Timeout elapses.
func TestClientConnectTimesOut(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.MinReconnectDelay = 200 * time.Millisecond
		cfg.MaxReconnectDelay = 200 * time.Millisecond
	})

	err := c.Connect(context.Background())
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected StateDisconnected after a failed connect, got %v", c.State())
	}
	c.Close()
}

// Test 4: a transport close reporting reconnect=true triggers an automatic
// reconnect attempt using the same Config.Transport.
func TestClientReconnectsAfterRecoverableDisconnect(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1"}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	ft.deliverClose(0, "server restart", true)
	waitFor(t, time.Second, func() bool { return c.State() == StateDisconnected || c.State() == StateConnecting })

	// Backoff fires another Connect in the background; it will dial the
	// same fake transport, issuing a second connect command.
	waitFor(t, time.Second, func() bool { return len(ft.sent()) >= 2 })
	ft.deliver([]byte(`{"id":2,"result":{"client":"c1"}}`))
	waitFor(t, time.Second, func() bool { return c.State() == StateConnected })
}

// A recoverable server subscription announced on the first connect is
// carried into the connect command's Subs map on reconnect, with its
// last known offset/epoch and recover requested (spec.md §4.6 step 3).
func TestClientReconnectResendsServerSubRecoveryState(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1","subs":{"news":{"recoverable":true,"offset":42,"epoch":"e1"}}}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	ft.deliverClose(0, "server restart", true)
	waitFor(t, time.Second, func() bool { return len(ft.sent()) >= 2 })
	ft.deliver([]byte(`{"id":2,"result":{"client":"c1"}}`))
	waitFor(t, time.Second, func() bool { return c.State() == StateConnected })

	var cmd Command
	if err := json.Unmarshal(ft.sent()[1], &cmd); err != nil {
		t.Fatalf("unmarshal second connect command: %v", err)
	}
	var req ConnectRequest
	if err := json.Unmarshal(cmd.Params, &req); err != nil {
		t.Fatalf("unmarshal connect params: %v", err)
	}
	sub, ok := req.Subs["news"]
	if !ok {
		t.Fatalf("expected reconnect to carry server sub \"news\", got subs=%+v", req.Subs)
	}
	if !sub.Recover || sub.Offset != 42 || sub.Epoch != "e1" {
		t.Fatalf("expected recover=true offset=42 epoch=e1, got %+v", sub)
	}
}

// Test 5: a transport close reporting reconnect=false closes the client
// for good; no further connect attempts follow and the close reason
// reflects the close code.
func TestClientNonRecoverableDisconnectClosesClient(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)

	closeReasons := make(chan CloseReason, 1)
	c.OnClose(func(_ *Client, e CloseEvent) { closeReasons <- e.Reason })

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1"}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	ft.deliverClose(errCodeUnrecoverablePosition, "bad position", false)

	select {
	case reason := <-closeReasons:
		if reason != CloseReasonUnrecoverablePosition {
			t.Fatalf("expected CloseReasonUnrecoverablePosition, got %v", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CloseEvent")
	}
	waitFor(t, time.Second, func() bool { return c.State() == StateClosed })
}

// A connect reply carrying an unrecoverable-position error (code 112)
// fatal-closes with CloseReasonUnrecoverablePosition specifically, rather
// than the generic CloseReasonConnectFailed.
func TestClientConnectReplyUnrecoverablePositionClosesClient(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)

	closeReasons := make(chan CloseReason, 1)
	c.OnClose(func(_ *Client, e CloseEvent) { closeReasons <- e.Reason })

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"error":{"code":112,"message":"unrecoverable position"}}`))

	err := <-done
	if !isUnrecoverablePositionError(err) {
		t.Fatalf("expected unrecoverable position error, got %v", err)
	}

	select {
	case reason := <-closeReasons:
		if reason != CloseReasonUnrecoverablePosition {
			t.Fatalf("expected CloseReasonUnrecoverablePosition, got %v", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CloseEvent")
	}
	waitFor(t, time.Second, func() bool { return c.State() == StateClosed })
}

// Test 6: no server ping arriving within the watchdog window is treated
// as a dead connection and triggers a reconnect.
func TestClientServerPingWatchdogFiresOnSilence(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, func(cfg *Config) { cfg.MaxServerPingDelay = 15 * time.Millisecond })
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	// A 1-second announced server ping interval plus the 15ms watchdog
	// margin above means the watchdog fires about 1s after connect, since
	// no ping is ever delivered, well inside the 2s wait below.
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1","ping":1}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(ft.sent()) >= 2 })
}

// When the server does not drive pings (ConnectResult.Ping == 0), the
// client falls back to sending its own pings and arming a pong watchdog
// on each one; if nothing arrives before PongWaitTimeout, the connection
// is treated as dead and disconnected for reconnect.
func TestClientDrivenPongWatchdogFiresOnSilence(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, func(cfg *Config) {
		cfg.PingInterval = 10 * time.Millisecond
		cfg.PongWaitTimeout = 10 * time.Millisecond
	})
	defer c.Close()

	disconnects := make(chan DisconnectEvent, 4)
	c.OnDisconnect(func(_ *Client, e DisconnectEvent) { disconnects <- e })

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	// No "ping" field: the server does not drive pings.
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1"}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	select {
	case e := <-disconnects:
		if e.Reason != "no ping" {
			t.Fatalf("expected the pong watchdog's \"no ping\" disconnect, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong watchdog to fire")
	}
}

// Close is idempotent and leaves the client in StateClosed with exactly
// one CloseEvent.
func TestClientCloseIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	c := testClient(ft, nil)

	var closes int
	c.OnClose(func(_ *Client, _ CloseEvent) { closes++ })

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", c.State())
	}
	if closes != 1 {
		t.Fatalf("expected exactly one CloseEvent, got %d", closes)
	}
}
