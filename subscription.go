package centrifuge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SubscriptionState is the per-channel state machine (spec.md §4.5),
// independent of the Client's own State: a Subscription can be
// UNSUBSCRIBED while the Client is CONNECTED (not yet asked to subscribe,
// or explicitly unsubscribed) just as easily as while DISCONNECTED.
type SubscriptionState int

const (
	SubscriptionUnsubscribed SubscriptionState = iota
	SubscriptionSubscribing
	SubscriptionSubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionUnsubscribed:
		return "unsubscribed"
	case SubscriptionSubscribing:
		return "subscribing"
	case SubscriptionSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// SubscriptionOpts configures one Subscription. Token/GetToken override
// Config.GetSubscriptionToken for this channel only, following the
// reference client's distinction between a connection-wide token
// provider and per-channel `privateSign`.
type SubscriptionOpts struct {
	Token    string
	GetToken SubscriptionTokenGetter
	Data     []byte
	// Recover requests history replay from the last known offset/epoch on
	// (re)subscribe, once one is known (spec.md §4.5).
	Recover bool
}

// Subscription represents one client-side channel subscription. Created
// via Client.NewSubscription; never constructed directly, mirroring the
// reference client's NewSubscription/addSub pair.
type Subscription struct {
	mu      sync.Mutex
	channel string
	client  *Client
	opts    SubscriptionOpts
	state   SubscriptionState

	recoverable bool
	offset      uint64
	epoch       string

	events subEventHub
}

func newSubscription(c *Client, channel string, opts SubscriptionOpts) *Subscription {
	return &Subscription{client: c, channel: channel, opts: opts}
}

func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) OnSubscribe(h func(SubscribeEvent))          { s.events.onSubscribe = h }
func (s *Subscription) OnError(h func(SubscriptionErrorEvent))      { s.events.onError = h }
func (s *Subscription) OnUnsubscribe(h func(UnsubscribeEvent))      { s.events.onUnsubscribe = h }
func (s *Subscription) OnPublication(h func(Publication))           { s.events.onPublication = h }
func (s *Subscription) OnJoin(h func(JoinEvent))                    { s.events.onJoin = h }
func (s *Subscription) OnLeave(h func(LeaveEvent))                  { s.events.onLeave = h }

func (s *Subscription) isPrivate() bool {
	return strings.HasPrefix(s.channel, s.client.cfg.PrivateChannelPrefix)
}

// token resolves the token to present on (re)subscribe/sub_refresh: a
// per-subscription static Token, then a per-subscription GetToken, then
// the client-wide GetSubscriptionToken, in that order, matching the
// reference client's privateSign fallback chain.
func (s *Subscription) token() (string, error) {
	if s.opts.Token != "" {
		return s.opts.Token, nil
	}
	if s.opts.GetToken != nil {
		return s.opts.GetToken(s.channel)
	}
	if !s.isPrivate() {
		return "", nil
	}
	if s.client.cfg.GetSubscriptionToken == nil {
		return "", ErrTokenProviderRequired
	}
	return s.client.cfg.GetSubscriptionToken(s.channel)
}

// buildSubscribeRequest produces the params for a subscribe command,
// including recovery hints when a prior offset/epoch is known.
func (s *Subscription) buildSubscribeRequest() (*SubscribeRequest, error) {
	tok, err := s.token()
	if err != nil {
		return nil, err
	}
	req := &SubscribeRequest{Channel: s.channel, Token: tok, Data: s.opts.Data}

	s.mu.Lock()
	if s.opts.Recover && s.recoverable && s.epoch != "" {
		req.Recover = true
		req.Offset = s.offset
		req.Epoch = s.epoch
	}
	s.mu.Unlock()
	return req, nil
}

// Subscribe asks the server to subscribe this channel. It is idempotent:
// calling it while already SUBSCRIBING or SUBSCRIBED is a no-op success
// (spec.md §8).
func (s *Subscription) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SubscriptionUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = SubscriptionSubscribing
	s.mu.Unlock()
	s.client.metrics().SubscriptionStateChanged(SubscriptionSubscribing)

	req, err := s.buildSubscribeRequest()
	if err != nil {
		s.setUnsubscribed()
		s.notifyError(err)
		return err
	}
	result, err := s.client.callSubscribe(ctx, req)
	if err != nil {
		s.setUnsubscribed()
		s.notifyError(err)
		return err
	}
	s.applySubscribeResult(result, false)
	return nil
}

func (s *Subscription) applySubscribeResult(result *SubscribeResult, resubscribed bool) {
	s.mu.Lock()
	s.state = SubscriptionSubscribed
	s.recoverable = result.Recoverable
	s.offset = result.Offset
	s.epoch = result.Epoch
	s.mu.Unlock()
	s.client.metrics().SubscriptionStateChanged(SubscriptionSubscribed)

	for _, pub := range result.Publications {
		s.client.dispatcher.enqueue(func() {
			s.deliverPublication(pub.toPublication())
		})
	}
	if s.events.onSubscribe != nil {
		s.events.onSubscribe(SubscribeEvent{
			StreamPosition: StreamPosition{Offset: result.Offset, Epoch: result.Epoch},
			Data:           result.Data,
			Recovered:      result.Recovered,
		})
	}
	if resubscribed && result.TTL > 0 {
		s.scheduleSubRefresh(clampTimerDuration(time.Duration(result.TTL) * time.Second))
	}
}

func (s *Subscription) scheduleSubRefresh(after time.Duration) {
	time.AfterFunc(after, func() {
		s.refresh(context.Background())
	})
}

func (s *Subscription) refresh(ctx context.Context) {
	s.mu.Lock()
	if s.state != SubscriptionSubscribed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	tok, err := s.token()
	if err != nil || tok == "" {
		s.notifyError(fmt.Errorf("centrifuge: sub refresh token: %w", err))
		return
	}
	res, err := s.client.callSubRefresh(ctx, &SubRefreshRequest{Channel: s.channel, Token: tok})
	if err != nil {
		s.notifyError(err)
		return
	}
	if res.Expires && res.TTL > 0 {
		s.scheduleSubRefresh(clampTimerDuration(time.Duration(res.TTL) * time.Second))
	}
}

func (s *Subscription) setUnsubscribed() {
	s.mu.Lock()
	s.state = SubscriptionUnsubscribed
	s.mu.Unlock()
	s.client.metrics().SubscriptionStateChanged(SubscriptionUnsubscribed)
}

// Unsubscribe tells the server to drop this channel. Idempotent.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SubscriptionUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.client.sendUnsubscribe(&UnsubscribeRequest{Channel: s.channel})
	s.setUnsubscribed()
	if s.events.onUnsubscribe != nil {
		s.events.onUnsubscribe(UnsubscribeEvent{})
	}
	return err
}

// onDisconnect moves a SUBSCRIBED/SUBSCRIBING subscription to SUBSCRIBING
// when the connection drops, preserving offset/epoch for a later recovery
// attempt on reconnect (spec.md §4.5/§4.6). UNSUBSCRIBED ones stay as they
// are.
func (s *Subscription) onDisconnect() {
	s.mu.Lock()
	wasActive := s.state != SubscriptionUnsubscribed
	if wasActive {
		s.state = SubscriptionSubscribing
	}
	s.mu.Unlock()
	if wasActive {
		s.client.metrics().SubscriptionStateChanged(SubscriptionSubscribing)
	}
}

// resubscribe is invoked by the Client on every successful reconnect for
// each previously-active Subscription (spec.md §4.6).
func (s *Subscription) resubscribe(ctx context.Context) {
	s.mu.Lock()
	s.state = SubscriptionSubscribing
	s.mu.Unlock()

	req, err := s.buildSubscribeRequest()
	if err != nil {
		s.setUnsubscribed()
		s.notifyError(err)
		return
	}
	result, err := s.client.callSubscribe(ctx, req)
	if err != nil {
		s.setUnsubscribed()
		if isUnrecoverablePositionError(err) {
			s.mu.Lock()
			s.recoverable = false
			s.offset = 0
			s.epoch = ""
			s.mu.Unlock()
			s.notifyError(ErrUnrecoverablePosition)
		} else {
			s.notifyError(err)
		}
		return
	}
	s.applySubscribeResult(result, true)
}

func (s *Subscription) notifyError(err error) {
	if s.events.onError != nil {
		s.events.onError(SubscriptionErrorEvent{Error: err})
	}
}

func (s *Subscription) deliverPublication(pub Publication) {
	s.mu.Lock()
	if pub.Offset > 0 {
		s.offset = pub.Offset
	}
	s.mu.Unlock()
	if s.events.onPublication != nil {
		s.events.onPublication(pub)
	}
}

func (s *Subscription) deliverJoin(info ClientInfo) {
	if s.events.onJoin != nil {
		s.events.onJoin(JoinEvent{ClientInfo: info})
	}
}

func (s *Subscription) deliverLeave(info ClientInfo) {
	if s.events.onLeave != nil {
		s.events.onLeave(LeaveEvent{ClientInfo: info})
	}
}

func (s *Subscription) deliverServerUnsubscribe(code uint32, reason string) {
	s.setUnsubscribed()
	if s.events.onUnsubscribe != nil {
		s.events.onUnsubscribe(UnsubscribeEvent{Code: code, Reason: reason})
	}
}

// Publish, History, Presence and PresenceStats are thin wrappers over the
// Client's generic call machinery, scoped to this channel.
func (s *Subscription) Publish(ctx context.Context, data []byte) error {
	return s.client.Publish(ctx, s.channel, data)
}

func (s *Subscription) History(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	req.Channel = s.channel
	return s.client.History(ctx, req)
}

func (s *Subscription) Presence(ctx context.Context) (*PresenceResult, error) {
	return s.client.Presence(ctx, s.channel)
}

func (s *Subscription) PresenceStats(ctx context.Context) (*PresenceStatsResult, error) {
	return s.client.PresenceStats(ctx, s.channel)
}
