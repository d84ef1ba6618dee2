package centrifuge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/centrifuge-go/centrifuge/internal/idgen"
)

// State is the Client's top-level session state machine (spec.md §4.1).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a Centrifuge connection: one session state machine driving a
// single Transport at a time, multiplexing commands and routing pushes,
// following the shape of nats.go's Conn (one mutex-guarded struct holding
// the live connection plus all bookkeeping needed to reconnect it) rather
// than splitting connection and session into separate types.
type Client struct {
	cfg     Config
	traceID string

	mu        sync.RWMutex
	state     State
	transport Transport
	codec     Codec
	clientID  string
	closing   bool

	mux        *commandMux
	dispatcher *dispatcher
	serverSubs *serverSubRegistry
	subs       map[string]*Subscription

	eventsMu sync.Mutex
	events   eventHub

	backoff        *backoff
	keepalive      *keepalive
	tokenRefresher *tokenRefresher

	batchMu  sync.Mutex
	batching bool
	batchBuf []*Command
}

// NewClient constructs a Client in the DISCONNECTED state. Call Connect to
// dial. Config fields left zero take the package defaults (config.go's
// withDefaults), mirroring nats.go's Connect(url, opts...) defaulting.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:        cfg,
		traceID:    idgen.New().Next(),
		state:      StateDisconnected,
		mux:        newCommandMux(),
		dispatcher: newDispatcher(0),
		serverSubs: newServerSubRegistry(),
		subs:       make(map[string]*Subscription),
		backoff:    newBackoff(cfg.MinReconnectDelay, cfg.MaxReconnectDelay),
	}
	c.keepalive = newKeepalive(c.onKeepaliveTimeout, c.sendPong, c.sendClientPing)
	go c.dispatcher.run()
	return c
}

func (c *Client) metrics() MetricsCollector { return c.cfg.Metrics }

// State reports the client's current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// --- event registration ---

func (c *Client) OnStateChange(h StateChangeHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onStateChange = func(e StateChangeEvent) { h(c, e) }
}
func (c *Client) OnConnect(h ConnectHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onConnect = func(e ConnectEvent) { h(c, e) }
}
func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onDisconnect = func(e DisconnectEvent) { h(c, e) }
}
func (c *Client) OnClose(h CloseHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onClose = func(e CloseEvent) { h(c, e) }
}
func (c *Client) OnMessage(h MessageHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onMessage = func(e MessageEvent) { h(c, e) }
}
func (c *Client) OnError(h ClientErrorHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onError = func(e ErrorEvent) { h(c, e) }
}
func (c *Client) OnServerPublication(h ServerPublicationHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onServerPublication = func(e ServerPublicationEvent) { h(c, e) }
}
func (c *Client) OnServerJoin(h ServerJoinHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onServerJoin = func(e ServerJoinEvent) { h(c, e) }
}
func (c *Client) OnServerLeave(h ServerLeaveHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onServerLeave = func(e ServerLeaveEvent) { h(c, e) }
}
func (c *Client) OnServerSubscribe(h ServerSubscribeHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onServerSubscribe = func(e ServerSubscribeEvent) { h(c, e) }
}
func (c *Client) OnServerUnsubscribe(h ServerUnsubscribeHandler) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.onServerUnsubscribe = func(e ServerUnsubscribeEvent) { h(c, e) }
}

func (c *Client) emitStateChange(ev StateChangeEvent) {
	c.eventsMu.Lock()
	h := c.events.onStateChange
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitConnect(ev ConnectEvent) {
	c.eventsMu.Lock()
	h := c.events.onConnect
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitDisconnect(ev DisconnectEvent) {
	c.eventsMu.Lock()
	h := c.events.onDisconnect
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitClose(ev CloseEvent) {
	c.eventsMu.Lock()
	h := c.events.onClose
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitMessage(ev MessageEvent) {
	c.eventsMu.Lock()
	h := c.events.onMessage
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitError(ev ErrorEvent) {
	c.eventsMu.Lock()
	h := c.events.onError
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitServerPublication(ev ServerPublicationEvent) {
	c.eventsMu.Lock()
	h := c.events.onServerPublication
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitServerJoin(ev ServerJoinEvent) {
	c.eventsMu.Lock()
	h := c.events.onServerJoin
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitServerLeave(ev ServerLeaveEvent) {
	c.eventsMu.Lock()
	h := c.events.onServerLeave
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitServerSubscribe(ev ServerSubscribeEvent) {
	c.eventsMu.Lock()
	h := c.events.onServerSubscribe
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}
func (c *Client) emitServerUnsubscribe(ev ServerUnsubscribeEvent) {
	c.eventsMu.Lock()
	h := c.events.onServerUnsubscribe
	c.eventsMu.Unlock()
	if h != nil {
		h(ev)
	}
}

// --- subscriptions ---

// NewSubscription creates (but does not yet subscribe) a Subscription for
// channel. Returns ErrDuplicateSubscription if one already exists for
// that channel, matching the reference client's one-subscription-per-
// channel invariant.
func (c *Client) NewSubscription(channel string, opts SubscriptionOpts) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.subs[channel]; exists {
		return nil, ErrDuplicateSubscription
	}
	sub := newSubscription(c, channel, opts)
	c.subs[channel] = sub
	return sub, nil
}

func (c *Client) GetSubscription(channel string) (*Subscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subs[channel]
	return sub, ok
}

func (c *Client) RemoveSubscription(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
}

// --- command gating (spec.md §4.7) ---

func (c *Client) ensureConnected() error {
	switch c.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClientClosed
	default:
		return ErrClientDisconnected
	}
}

// sendCommand implements the sender interface commandMux and Subscription
// use; it honors StartBatching/StopBatching by deferring the actual
// transport write until the batch is flushed.
func (c *Client) sendCommand(cmd *Command) error {
	c.batchMu.Lock()
	if c.batching {
		c.batchBuf = append(c.batchBuf, cmd)
		c.batchMu.Unlock()
		return nil
	}
	c.batchMu.Unlock()
	return c.sendFrame([]*Command{cmd})
}

func (c *Client) sendFrame(cmds []*Command) error {
	c.mu.RLock()
	transport, codec, clientID := c.transport, c.codec, c.clientID
	c.mu.RUnlock()
	if transport == nil || codec == nil {
		return ErrClientDisconnected
	}
	frame, err := codec.EncodeCommands(cmds)
	if err != nil {
		return fmt.Errorf("centrifuge: encode frame: %w", err)
	}
	if err := transport.Send(frame, clientID, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWriteSync, err)
	}
	for _, cmd := range cmds {
		c.cfg.Metrics.CommandSent(cmd.Method)
	}
	return nil
}

// StartBatching defers all subsequent outbound commands into a single
// frame, flushed by StopBatching, following spec.md §4.3 — useful when an
// application issues several subscribe/publish calls back to back and
// wants them to hit the wire as one WebSocket frame instead of several.
func (c *Client) StartBatching() {
	c.batchMu.Lock()
	c.batching = true
	c.batchBuf = nil
	c.batchMu.Unlock()
}

// StopBatching flushes the batch started by StartBatching as a single
// frame. Safe to call even if nothing was batched.
func (c *Client) StopBatching() error {
	c.batchMu.Lock()
	cmds := c.batchBuf
	c.batching = false
	c.batchBuf = nil
	c.batchMu.Unlock()
	if len(cmds) == 0 {
		return nil
	}
	return c.sendFrame(cmds)
}

// --- public RPC-style operations ---

func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	_, err := c.mux.call(ctx, c, MethodPublish, &PublishRequest{Channel: channel, Data: data}, c.cfg.Timeout)
	return err
}

func (c *Client) History(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	raw, err := c.mux.call(ctx, c, MethodHistory, &req, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res HistoryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Client) Presence(ctx context.Context, channel string) (*PresenceResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	raw, err := c.mux.call(ctx, c, MethodPresence, &PresenceRequest{Channel: channel}, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res PresenceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Client) PresenceStats(ctx context.Context, channel string) (*PresenceStatsResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	raw, err := c.mux.call(ctx, c, MethodPresenceStats, &PresenceStatsRequest{Channel: channel}, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res PresenceStatsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

// RPC calls an application-defined server method. NamedRPC is the same
// call with an explicit method name, kept distinct from Send (see Send
// below) per the reference client's RPC/NamedRPC/Send three-way split.
func (c *Client) RPC(ctx context.Context, data []byte) (*RPCResult, error) {
	return c.NamedRPC(ctx, "", data)
}

func (c *Client) NamedRPC(ctx context.Context, method string, data []byte) (*RPCResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	raw, err := c.mux.call(ctx, c, MethodRPC, &RPCRequest{Method: method, Data: data}, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res RPCResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

// Send issues a fire-and-forget asynchronous message: no ID, no reply
// expected, distinct from RPC's request/response shape (spec.md §4.2).
func (c *Client) Send(data []byte) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	return c.mux.send(c, MethodSend, &SendRequest{Data: data})
}

// --- helpers used by subscription.go / token.go ---

func (c *Client) callSubscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResult, error) {
	raw, err := c.mux.call(ctx, c, MethodSubscribe, req, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res SubscribeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Client) callSubRefresh(ctx context.Context, req *SubRefreshRequest) (*SubRefreshResult, error) {
	raw, err := c.mux.call(ctx, c, MethodSubRefresh, req, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res SubRefreshResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Client) callRefresh(ctx context.Context, req *RefreshRequest) (*RefreshResult, error) {
	raw, err := c.mux.call(ctx, c, MethodRefresh, req, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var res RefreshResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Client) sendUnsubscribe(req *UnsubscribeRequest) error {
	if err := c.ensureConnected(); err != nil {
		return nil // already disconnected: server forgot us already
	}
	return c.mux.send(c, MethodUnsubscribe, req)
}

// --- keepalive callbacks ---

func (c *Client) onKeepaliveTimeout() {
	c.cfg.Logger.Warn("server ping watchdog expired, treating connection as dead")
	c.handleDisconnect(0, "no ping", true)
}

func (c *Client) sendPong() {
	// A pong is a bare empty command (no id, no method, no params) per
	// spec.md §4.9 — the protocol's version of a transport-level pong
	// frame, just routed through the same command channel as everything
	// else.
	_ = c.sendCommand(&Command{})
}

func (c *Client) sendClientPing() {
	_ = c.sendCommand(&Command{Method: MethodPing})
}

// --- connect / reconnect ---

// Connect dials the server and blocks until the connect handshake
// completes or ctx is done. Once CONNECTED, disconnects are retried
// automatically in the background using backoff.go until Close is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	}
	prev := c.state
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()

	c.cfg.Metrics.StateChanged(StateConnecting)
	c.emitStateChange(StateChangeEvent{State: StateConnecting, PrevState: prev})

	return c.doConnect(ctx)
}

// doConnect runs the handshake, with exactly one retry on a token-expired
// connect error (SUPPLEMENTED FEATURES: the reference client's
// isTokenExpiredError-driven retry on the connect reply itself).
func (c *Client) doConnect(ctx context.Context) error {
	token := c.cfg.Token
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if token == "" && c.cfg.GetToken != nil {
			token, err = c.cfg.GetToken()
			if err != nil {
				return c.failConnect(fmt.Errorf("centrifuge: get token: %w", err))
			}
			if token == "" {
				c.mu.Lock()
				c.state = StateDisconnected
				c.mu.Unlock()
				c.cfg.Metrics.StateChanged(StateDisconnected)
				c.emitStateChange(StateChangeEvent{State: StateDisconnected, PrevState: StateConnecting})
				c.fatalClose(CloseReasonUnauthorized, "empty connection token")
				return ErrClientClosed
			}
		}
		err = c.attemptConnect(ctx, token)
		if err == nil {
			return nil
		}
		if isTokenExpiredError(err) && c.cfg.GetToken != nil && attempt == 0 {
			token = ""
			continue
		}
		break
	}
	return c.failConnect(err)
}

func (c *Client) failConnect(err error) error {
	c.mu.Lock()
	closing := c.closing
	if !closing {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	if !closing {
		c.cfg.Metrics.StateChanged(StateDisconnected)
		c.emitStateChange(StateChangeEvent{State: StateDisconnected, PrevState: StateConnecting})
		switch {
		case isUnrecoverablePositionError(err):
			c.fatalClose(CloseReasonUnrecoverablePosition, err.Error())
		case isRetryableConnectError(err):
			c.scheduleReconnect()
		default:
			c.fatalClose(CloseReasonConnectFailed, err.Error())
		}
	}
	return err
}

func (c *Client) selectTransport() (Transport, error) {
	if len(c.cfg.Emulation) > 0 {
		for _, ep := range c.cfg.Emulation {
			if ep.Transport != nil && ep.Transport.Supported() {
				return ep.Transport, nil
			}
		}
		return nil, errors.New("centrifuge: no supported emulation transport configured")
	}
	if c.cfg.Transport != nil {
		return c.cfg.Transport, nil
	}
	return nil, errors.New("centrifuge: no transport configured")
}

// buildSubs collects the current client Subscriptions, plus any
// recoverable server subscriptions tracked in c.serverSubs, into the Subs
// map bundled with the connect command, so reconnecting resubscribes and
// resumes server subscriptions in the same round trip as the connect
// handshake itself (spec.md §4.6 steps 3 and 7).
func (c *Client) buildSubs() map[string]*SubscribeRequest {
	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	serverSubs := c.serverSubs.snapshot()

	if len(subs) == 0 && len(serverSubs) == 0 {
		return nil
	}
	out := make(map[string]*SubscribeRequest, len(subs)+len(serverSubs))
	for _, sub := range subs {
		req, err := sub.buildSubscribeRequest()
		if err != nil {
			continue
		}
		out[sub.Channel()] = req
	}
	for channel, st := range serverSubs {
		if _, ok := out[channel]; ok {
			continue
		}
		if !st.Recoverable {
			continue
		}
		out[channel] = &SubscribeRequest{Channel: channel, Recover: true, Offset: st.Offset, Epoch: st.Epoch}
	}
	return out
}

func (c *Client) attemptConnect(ctx context.Context, token string) error {
	codec, err := NewCodec(c.cfg.Protocol)
	if err != nil {
		return err
	}
	transport, err := c.selectTransport()
	if err != nil {
		return err
	}

	req := &ConnectRequest{Token: token, Data: c.cfg.Data, Name: c.cfg.Name, Version: c.cfg.Version, Subs: c.buildSubs()}
	paramsRaw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("centrifuge: encode connect params: %w", err)
	}

	id := c.mux.allocateID()
	pending := c.mux.register(id, MethodConnect)
	frame, err := codec.EncodeCommands([]*Command{{ID: id, Method: MethodConnect, Params: paramsRaw}})
	if err != nil {
		c.mux.forget(id)
		return err
	}

	callbacks := TransportCallbacks{
		OnError: func(err error) { c.cfg.Logger.Warn("transport error", "err", err) },
		OnClose: func(code uint32, reason string, reconnect bool) { c.handleDisconnect(code, reason, reconnect) },
		OnMessage: func(msg []byte) { c.onFrame(codec, msg) },
		RestartPing: func() { c.keepalive.onAnyFrame() },
	}

	if err := transport.Initialize(c.cfg.Protocol, callbacks, frame); err != nil {
		c.mux.forget(id)
		return fmt.Errorf("centrifuge: transport initialize: %w", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.codec = codec
	c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	select {
	case r := <-pending.ch:
		if r.err != nil {
			_ = transport.Close()
			return r.err
		}
		var res ConnectResult
		if err := json.Unmarshal(r.result, &res); err != nil {
			_ = transport.Close()
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.onConnected(&res)
		return nil
	case <-connectCtx.Done():
		c.mux.forget(id)
		_ = transport.Close()
		return ErrTimeout
	}
}

func (c *Client) onConnected(res *ConnectResult) {
	c.mu.Lock()
	c.clientID = res.Client
	c.state = StateConnected
	c.mu.Unlock()

	c.backoff.reset()
	c.cfg.Metrics.StateChanged(StateConnected)
	c.cfg.Logger.Info("connected", "trace_id", c.traceID, "client", res.Client, "node", res.Node)

	c.keepalive.start(time.Duration(res.Ping)*time.Second, res.Pong, c.cfg.MaxServerPingDelay, c.cfg.PingInterval, c.cfg.PongWaitTimeout)

	if c.tokenRefresher != nil {
		c.tokenRefresher.stop()
		c.tokenRefresher = nil
	}
	if res.Expires && res.TTL > 0 {
		c.tokenRefresher = newTokenRefresher(c, res.Client)
		c.tokenRefresher.scheduleAfter(time.Duration(res.TTL) * time.Second)
	}

	c.mu.RLock()
	clientChannels := make(map[string]*Subscription, len(c.subs))
	for ch, sub := range c.subs {
		clientChannels[ch] = sub
	}
	c.mu.RUnlock()

	for ch, sr := range res.Subs {
		if sub, ok := clientChannels[ch]; ok {
			sub.applySubscribeResult(sr, true)
			continue
		}
		// Not a channel this Client ever called NewSubscription for: a
		// server subscription (spec.md §3/§4.6 step 7).
		c.serverSubs.set(ch, &serverSubState{Offset: sr.Offset, Epoch: sr.Epoch, Recoverable: sr.Recoverable})
		c.emitServerSubscribe(ServerSubscribeEvent{
			Channel:        ch,
			Resubscribed:   true,
			Recovered:      sr.Recovered,
			StreamPosition: StreamPosition{Offset: sr.Offset, Epoch: sr.Epoch},
		})
	}

	for ch, sub := range clientChannels {
		if _, bundled := res.Subs[ch]; bundled {
			continue
		}
		if sub.State() == SubscriptionUnsubscribed {
			continue
		}
		go sub.resubscribe(context.Background())
	}

	c.emitStateChange(StateChangeEvent{State: StateConnected, PrevState: StateConnecting})
	c.emitConnect(ConnectEvent{ClientID: res.Client, Version: res.Version, Data: res.Data})
}

// scheduleReconnect arranges a fresh Connect attempt after backoff.next().
func (c *Client) scheduleReconnect() {
	c.cfg.Metrics.ReconnectAttempt()
	delay := c.backoff.next()
	time.AfterFunc(delay, func() {
		c.mu.RLock()
		closing := c.closing
		state := c.state
		c.mu.RUnlock()
		if closing || state == StateClosed {
			return
		}
		_ = c.Connect(context.Background())
	})
}

// --- inbound frame / push handling ---

func (c *Client) onFrame(codec Decoder, frame []byte) {
	replies, err := codec.DecodeReplies(frame)
	if err != nil {
		c.cfg.Logger.Error("decode frame", err)
		c.emitError(ErrorEvent{Error: err})
		return
	}
	for _, r := range replies {
		reply := r
		c.dispatcher.enqueue(func() { c.handleReply(reply) })
	}
}

func (c *Client) handleReply(reply *Reply) {
	if reply.isServerPing() {
		c.keepalive.onServerPing()
		return
	}
	if reply.Push != nil {
		c.handlePush(reply.Push)
		return
	}
	method, latency, found := c.mux.resolve(reply.ID, reply.Result, reply.Error)
	if !found {
		return
	}
	if reply.Error != nil {
		c.cfg.Metrics.CommandFailed(method, reply.Error.Code)
	} else {
		c.cfg.Metrics.ReplyReceived(method, latency.Seconds())
	}
}

func (c *Client) handlePush(push *Push) {
	c.cfg.Metrics.PushReceived(push.Type)

	switch push.Type {
	case PushTypePublication:
		var pp PublicationPush
		if err := json.Unmarshal(push.Data, &pp); err != nil {
			c.emitError(ErrorEvent{Error: fmt.Errorf("%w: publication push: %v", ErrProtocol, err)})
			return
		}
		if sub, ok := c.GetSubscription(push.Channel); ok {
			sub.deliverPublication(pp.toPublication())
			return
		}
		if st, ok := c.serverSubs.get(push.Channel); ok {
			pub := pp.toPublication()
			c.serverSubs.updateOffset(push.Channel, pub.Offset, st.Epoch)
			c.emitServerPublication(ServerPublicationEvent{Channel: push.Channel, Publication: pub})
		}

	case PushTypeJoin:
		var jp joinLeavePush
		if err := json.Unmarshal(push.Data, &jp); err != nil {
			return
		}
		info := jp.Info.toClientInfo()
		if sub, ok := c.GetSubscription(push.Channel); ok {
			sub.deliverJoin(info)
			return
		}
		c.emitServerJoin(ServerJoinEvent{Channel: push.Channel, ClientInfo: info})

	case PushTypeLeave:
		var lp joinLeavePush
		if err := json.Unmarshal(push.Data, &lp); err != nil {
			return
		}
		info := lp.Info.toClientInfo()
		if sub, ok := c.GetSubscription(push.Channel); ok {
			sub.deliverLeave(info)
			return
		}
		c.emitServerLeave(ServerLeaveEvent{Channel: push.Channel, ClientInfo: info})

	case PushTypeSubscribe:
		var sp subscribePush
		if err := json.Unmarshal(push.Data, &sp); err != nil {
			return
		}
		c.serverSubs.set(push.Channel, &serverSubState{Offset: sp.Offset, Epoch: sp.Epoch, Recoverable: sp.Recoverable})
		c.emitServerSubscribe(ServerSubscribeEvent{
			Channel:        push.Channel,
			Recovered:      sp.Recovered,
			StreamPosition: StreamPosition{Offset: sp.Offset, Epoch: sp.Epoch},
		})

	case PushTypeUnsubscribe:
		var up unsubscribePush
		if err := json.Unmarshal(push.Data, &up); err != nil {
			return
		}
		if sub, ok := c.GetSubscription(push.Channel); ok {
			sub.deliverServerUnsubscribe(up.Code, up.Reason)
			return
		}
		c.serverSubs.remove(push.Channel)
		c.emitServerUnsubscribe(ServerUnsubscribeEvent{Channel: push.Channel})

	case PushTypeMessage:
		var mp messagePush
		if err := json.Unmarshal(push.Data, &mp); err != nil {
			return
		}
		c.emitMessage(MessageEvent{Data: mp.Data})

	case PushTypeDisconnect:
		var dp disconnectPush
		if err := json.Unmarshal(push.Data, &dp); err != nil {
			return
		}
		c.handleDisconnect(dp.Code, dp.Reason, dp.Reconnect)

	case PushTypeRefresh:
		var rp refreshPush
		if err := json.Unmarshal(push.Data, &rp); err != nil {
			return
		}
		if rp.Expires && c.tokenRefresher != nil {
			c.tokenRefresher.scheduleAfter(0)
		}
	}
}

// handleDisconnect is the single funnel for every way a connection can
// end: transport-level close, a server disconnect push, or the keepalive
// watchdog. Mirrors the reference client's handleDisconnect.
func (c *Client) handleDisconnect(code uint32, reason string, reconnect bool) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting && !c.closing {
		// The transport of a connect attempt went away before the attempt
		// finished: attemptConnect and failConnect decide what follows.
		c.transport = nil
		c.mu.Unlock()
		return
	}
	closing := c.closing
	c.state = StateDisconnected
	c.transport = nil
	c.mu.Unlock()

	c.keepalive.stop()
	if c.tokenRefresher != nil {
		c.tokenRefresher.stop()
		c.tokenRefresher = nil
	}
	c.mux.drain(ErrClientDisconnected)

	closeReason := closeReasonFromCode(code, reason)
	if !closeReason.preservesServerSubs() {
		c.serverSubs.clear()
	}

	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()
	for _, sub := range subs {
		sub.onDisconnect()
	}

	c.cfg.Metrics.StateChanged(StateDisconnected)
	c.emitStateChange(StateChangeEvent{State: StateDisconnected, PrevState: StateConnected})
	c.emitDisconnect(DisconnectEvent{Code: code, Reason: reason, Reconnect: reconnect})

	if closing {
		c.fatalClose(CloseReasonClient, "client closed")
		return
	}
	if !reconnect {
		c.fatalClose(closeReason, reason)
		return
	}
	c.scheduleReconnect()
}

// closeReasonFromCode maps a server disconnect code to a CloseReason.
// Codes below 3000 are connection-level protocol errors; the 3000-3499
// range is the server's own "advice" range where reconnect is still
// generally appropriate and is governed entirely by the push's Reconnect
// flag instead.
func closeReasonFromCode(code uint32, reason string) CloseReason {
	switch {
	case code == errCodeUnrecoverablePosition:
		return CloseReasonUnrecoverablePosition
	case code == errCodeTokenExpired:
		return CloseReasonRefreshFailed
	case code != 0 && code < 3000:
		return CloseReasonUnauthorized
	default:
		return CloseReasonServer
	}
}

// Disconnect closes the current transport without entering CLOSED: the
// client can be reconnected later with another call to Connect. Pending
// calls fail with ErrClientDisconnected; Subscriptions keep their
// recovery offsets.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.closing = true
	c.mu.Unlock()
	if transport != nil {
		return transport.Close()
	}
	c.handleDisconnect(0, "client disconnect", false)
	return nil
}

// Close tears the client down permanently: no further reconnect attempts,
// CloseEvent fires exactly once, and every method afterward returns
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	transport := c.transport
	c.closing = true
	c.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}
	c.fatalClose(CloseReasonClient, "client closed")
	return nil
}

func (c *Client) fatalClose(reason CloseReason, msg string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.keepalive.stop()
	if c.tokenRefresher != nil {
		c.tokenRefresher.stop()
		c.tokenRefresher = nil
	}
	c.mux.drain(ErrClientClosed)
	if transport != nil {
		_ = transport.Close()
	}
	c.dispatcher.stop()

	c.cfg.Logger.Info("closed", "reason", string(reason), "detail", msg)
	c.cfg.Metrics.StateChanged(StateClosed)
	c.emitStateChange(StateChangeEvent{State: StateClosed, PrevState: StateDisconnected})
	c.emitClose(CloseEvent{Reason: reason})
}
