package centrifuge

// StreamPosition identifies a point in a channel's publication log
// (GLOSSARY: Offset / epoch).
type StreamPosition struct {
	Offset uint64
	Epoch  string
}

// ClientInfo carries the identity the server attaches to join/leave/
// publication events.
type ClientInfo struct {
	ClientID string
	UserID   string
	ConnInfo []byte
	ChanInfo []byte
}

// Publication is a message delivered on a channel.
type Publication struct {
	Data []byte
	Info *ClientInfo
	// Offset is non-zero for channels with a recoverable history.
	Offset uint64
	Tags   map[string]string
}

// JoinEvent / LeaveEvent report presence changes on a channel.
type JoinEvent struct{ ClientInfo ClientInfo }
type LeaveEvent struct{ ClientInfo ClientInfo }

// StateChangeEvent is emitted on every Client state transition.
type StateChangeEvent struct {
	State     State
	PrevState State
}

// ConnectEvent is emitted once the connect command succeeds.
type ConnectEvent struct {
	ClientID string
	Version  string
	Data     []byte
}

// DisconnectEvent is emitted once per distinct disconnect cause.
type DisconnectEvent struct {
	Code      uint32
	Reason    string
	Reconnect bool
}

// CloseEvent is emitted exactly once, when the client reaches CLOSED.
type CloseEvent struct {
	Reason CloseReason
}

// ServerPublicationEvent / ServerJoinEvent / ServerLeaveEvent /
// ServerSubscribeEvent / ServerUnsubscribeEvent describe pushes for
// server-side subscriptions (GLOSSARY: Server subscription), i.e.
// channels the client never called Subscribe() for itself.
type ServerPublicationEvent struct {
	Channel     string
	Publication Publication
}

type ServerJoinEvent struct {
	Channel    string
	ClientInfo ClientInfo
}

type ServerLeaveEvent struct {
	Channel    string
	ClientInfo ClientInfo
}

type ServerSubscribeEvent struct {
	Channel        string
	Resubscribed   bool
	Recovered      bool
	StreamPosition StreamPosition
}

type ServerUnsubscribeEvent struct {
	Channel string
}

// MessageEvent wraps an asynchronous application message delivered via the
// "send" channel (no channel/subject, no reply expected).
type MessageEvent struct {
	Data []byte
}

// ErrorEvent reports an asynchronous, non-fatal client error: an inbound
// frame or publication push that fails to decode. A panicking event
// handler is not recovered.
type ErrorEvent struct {
	Error error
}

// SubscribeEvent / UnsubscribeEvent / SubscriptionErrorEvent /
// SubscriptionPublicationEvent describe events on a specific client-side
// Subscription (as opposed to the server-side ones above).
type SubscribeEvent struct {
	StreamPosition StreamPosition
	Data           []byte
	Recovered      bool
}

type UnsubscribeEvent struct {
	Code   uint32
	Reason string
}

type SubscriptionErrorEvent struct {
	Error error
}

// Handler function types. The client and Subscription accept these
// directly (functional handlers) rather than requiring callers to
// implement marker interfaces, following the MsgHandler/ConnHandler
// style of nats.go rather than the *Handler-interface style of the older
// reference client — simpler for the common case of "one closure per
// event".
type (
	StateChangeHandler func(*Client, StateChangeEvent)
	ConnectHandler     func(*Client, ConnectEvent)
	DisconnectHandler  func(*Client, DisconnectEvent)
	CloseHandler       func(*Client, CloseEvent)
	MessageHandler     func(*Client, MessageEvent)
	ClientErrorHandler func(*Client, ErrorEvent)

	ServerPublicationHandler  func(*Client, ServerPublicationEvent)
	ServerJoinHandler         func(*Client, ServerJoinEvent)
	ServerLeaveHandler        func(*Client, ServerLeaveEvent)
	ServerSubscribeHandler    func(*Client, ServerSubscribeEvent)
	ServerUnsubscribeHandler  func(*Client, ServerUnsubscribeEvent)

	SubscribeEventHandler        func(*Subscription, SubscribeEvent)
	UnsubscribeEventHandler      func(*Subscription, UnsubscribeEvent)
	SubscriptionErrorEventHandler func(*Subscription, SubscriptionErrorEvent)
	PublicationHandler            func(*Subscription, Publication)
	SubJoinHandler                func(*Subscription, JoinEvent)
	SubLeaveHandler                func(*Subscription, LeaveEvent)
)

// eventHub collects the client-level handlers. A zero-value eventHub has
// every handler nil, and every dispatch site nil-checks before calling —
// registering only the events an application cares about is the common
// case (see reference client's EventHub for the same shape).
type eventHub struct {
	onStateChange func(StateChangeEvent)
	onConnect     func(ConnectEvent)
	onDisconnect  func(DisconnectEvent)
	onClose       func(CloseEvent)
	onMessage     func(MessageEvent)
	onError       func(ErrorEvent)

	onServerPublication func(ServerPublicationEvent)
	onServerJoin        func(ServerJoinEvent)
	onServerLeave       func(ServerLeaveEvent)
	onServerSubscribe   func(ServerSubscribeEvent)
	onServerUnsubscribe func(ServerUnsubscribeEvent)
}

// subEventHub collects the per-subscription handlers.
type subEventHub struct {
	onSubscribe func(SubscribeEvent)
	onError     func(SubscriptionErrorEvent)
	onUnsubscribe func(UnsubscribeEvent)
	onPublication func(Publication)
	onJoin        func(JoinEvent)
	onLeave       func(LeaveEvent)
}
