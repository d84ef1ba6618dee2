package centrifuge

import (
	"sync"
	"time"
)

// keepalive implements the dual-layer liveness check spec.md §4.9
// describes: when the server drives pings (ConnectResult.Ping > 0) the
// client only has to watch a deadline and, if ConnectResult.Pong is set,
// answer each server ping with an empty pong command. When the server
// does not drive pings, the client falls back to sending its own empty
// ping commands on a fixed interval so NAT/load-balancer idle timeouts
// don't silently drop the connection.
type keepalive struct {
	mu sync.Mutex

	serverDriven    bool
	sendPongOnPing  bool
	watchdog        *time.Timer
	watchdogTimeout time.Duration

	clientTicker    *time.Ticker
	stopClient      chan struct{}
	pongWatchdog    *time.Timer
	pongWaitTimeout time.Duration

	onTimeout    func()
	sendPong     func()
	sendPing     func()
}

func newKeepalive(onTimeout func(), sendPong func(), sendPing func()) *keepalive {
	return &keepalive{onTimeout: onTimeout, sendPong: sendPong, sendPing: sendPing}
}

// start is called once per successful connect with the server's
// announced ping interval (0 if the server does not drive pings), whether
// the server expects a pong reply to each of its pings, and the
// client-driven fallback's own ping interval and pong wait timeout.
func (k *keepalive) start(serverPingInterval time.Duration, needsPong bool, maxServerPingDelay, clientPingInterval, pongWaitTimeout time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if serverPingInterval > 0 {
		k.serverDriven = true
		k.watchdogTimeout = serverPingInterval + maxServerPingDelay
		k.watchdog = time.AfterFunc(k.watchdogTimeout, k.fireTimeout)
		k.sendPongOnPing = needsPong
		return
	}

	k.serverDriven = false
	k.pongWaitTimeout = pongWaitTimeout
	k.stopClient = make(chan struct{})
	ticker := time.NewTicker(clientPingInterval)
	k.clientTicker = ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				if k.sendPing != nil {
					k.sendPing()
				}
				k.armPongWatchdog()
			case <-k.stopClient:
				return
			}
		}
	}()
}

// armPongWatchdog is called every time the client issues its own ping
// (client-driven mode only); if no inbound frame arrives within
// pongWaitTimeout, the connection is treated as dead per spec.md §4.9.
// A watchdog still armed by an earlier, unanswered ping keeps its deadline.
func (k *keepalive) armPongWatchdog() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.serverDriven {
		return
	}
	if k.pongWatchdog != nil {
		return
	}
	k.pongWatchdog = time.AfterFunc(k.pongWaitTimeout, k.fireTimeout)
}

func (k *keepalive) fireTimeout() {
	if k.onTimeout != nil {
		k.onTimeout()
	}
}

// onServerPing is invoked every time an empty reply (server ping, spec.md
// §4.4) arrives. It resets the watchdog and, if the connect handshake
// asked for pongs, fires one back.
func (k *keepalive) onServerPing() {
	k.mu.Lock()
	serverDriven := k.serverDriven
	needsPong := k.sendPongOnPing
	if serverDriven && k.watchdog != nil {
		k.watchdog.Reset(k.watchdogTimeout)
	}
	k.mu.Unlock()

	if serverDriven && needsPong && k.sendPong != nil {
		k.sendPong()
	}
}

// onAnyFrame resets the watchdog on every inbound frame, not only pings —
// a busy channel with frequent publications is itself proof of liveness
// and shouldn't need an additional idle ping to avoid tripping the
// watchdog (mirrors transport_websocket.go's RestartPing callback, which
// this method is wired to). In client-driven mode, any inbound frame
// disarms the pong watchdog armed by the last outgoing ping.
func (k *keepalive) onAnyFrame() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.serverDriven {
		if k.watchdog != nil {
			k.watchdog.Reset(k.watchdogTimeout)
		}
		return
	}
	if k.pongWatchdog != nil {
		k.pongWatchdog.Stop()
		k.pongWatchdog = nil
	}
}

func (k *keepalive) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.watchdog != nil {
		k.watchdog.Stop()
		k.watchdog = nil
	}
	if k.pongWatchdog != nil {
		k.pongWatchdog.Stop()
		k.pongWatchdog = nil
	}
	if k.clientTicker != nil {
		k.clientTicker.Stop()
		close(k.stopClient)
		k.clientTicker = nil
	}
}
