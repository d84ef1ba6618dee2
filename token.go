package centrifuge

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// refreshRetryMin/Max bound the jittered backoff between retries of a
// transient refresh failure, per spec.md §4.10 ("back off and retry,
// 5-10s with jitter"). maxRefreshRetries caps how many times a single
// refresh cycle retries before giving up and closing the client —
// without a cap, a provider that always fails would retry forever and
// the client would never surface that it is unauthenticated.
const (
	refreshRetryMin   = 5 * time.Second
	refreshRetryMax   = 10 * time.Second
	maxRefreshRetries = 5
)

// tokenRefresher schedules connection-level token refresh per spec.md
// §4.10: a timer derived from ConnectResult.TTL (or a RefreshResult.TTL
// on subsequent refreshes) that calls Config.GetToken, sends a refresh
// command, and reschedules itself. A refresher is owned by one
// connection's lifetime — the Client creates a fresh one on every
// successful connect and stops the old one first, so a stale timer from a
// previous clientID can never fire a refresh against a newer connection
// (spec.md §4.10's "discard on client ID change").
type tokenRefresher struct {
	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	client   *Client
	clientID string
	retries  int
}

func newTokenRefresher(c *Client, clientID string) *tokenRefresher {
	return &tokenRefresher{client: c, clientID: clientID}
}

func (t *tokenRefresher) scheduleAfter(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(clampTimerDuration(d), t.fire)
}

func (t *tokenRefresher) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if t.client.cfg.GetToken == nil {
		t.client.fatalClose(CloseReasonUnauthorized, "token expiring with no GetToken configured")
		return
	}
	token, err := t.client.cfg.GetToken()
	if err != nil || token == "" {
		t.retryOrGiveUp("GetToken failed during scheduled refresh")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.client.cfg.Timeout)
	defer cancel()
	result, err := t.client.callRefresh(ctx, &RefreshRequest{Token: token})
	if err != nil {
		if isTokenExpiredError(err) {
			// The server rejected the token we just obtained: the provider
			// itself is handing out bad credentials, a permanent failure.
			t.client.fatalClose(CloseReasonRefreshFailed, "server rejected refreshed token")
			return
		}
		// Any other error (timeout, disconnected, transient server error)
		// is treated as transient and retried with backoff.
		t.retryOrGiveUp("refresh command failed: " + err.Error())
		return
	}

	t.mu.Lock()
	if t.stopped || result.Client != t.clientID {
		t.mu.Unlock()
		return
	}
	t.retries = 0
	t.mu.Unlock()

	if result.Expires && result.TTL > 0 {
		t.scheduleAfter(time.Duration(result.TTL) * time.Second)
	}
}

// retryOrGiveUp backs off and retries a transient refresh failure with
// jitter per spec.md §4.10, up to maxRefreshRetries attempts, after which
// it gives up and closes the client — a provider or server that never
// recovers must not retry forever.
func (t *tokenRefresher) retryOrGiveUp(reason string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.retries++
	retries := t.retries
	t.mu.Unlock()

	if retries > maxRefreshRetries {
		t.client.fatalClose(CloseReasonRefreshFailed, reason)
		return
	}
	t.scheduleAfter(jitteredRefreshDelay())
}

func jitteredRefreshDelay() time.Duration {
	return refreshRetryMin + time.Duration(rand.Int63n(int64(refreshRetryMax-refreshRetryMin)))
}

func (t *tokenRefresher) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
