package centrifuge

// TransportCallbacks are the hooks a Transport invokes as events occur.
// The engine sets OnError, OnClose, OnMessage and RestartPing before
// Initialize is called; OnOpen is left nil, so a Transport nil-checks a
// field before calling it.
type TransportCallbacks struct {
	// OnOpen fires once the transport is ready to send/receive frames.
	OnOpen func()
	// OnError fires on an unrecoverable transport-level error (dial
	// failure, read error, protocol violation below this module's own
	// codec layer).
	OnError func(error)
	// OnClose fires exactly once when the transport is done, clean or
	// not. code/reason mirror a WebSocket close frame's semantics;
	// reconnect reports whether the engine should attempt to reconnect
	// (false for policy/auth closes the server never wants retried).
	OnClose func(code uint32, reason string, reconnect bool)
	// OnMessage delivers one raw inbound frame for the codec to decode.
	OnMessage func(frame []byte)
	// RestartPing is invoked whenever any frame arrives. The engine wires
	// it to the session-level keepalive in keepalive.go (onAnyFrame), so
	// every inbound frame resets that keepalive's watchdog.
	RestartPing func()
}

// Transport is the capability interface the session engine drives,
// matching spec.md §6: the concrete transport is an external collaborator
// this module never constructs on the caller's behalf except for the one
// built-in WebSocket implementation in transport_websocket.go.
type Transport interface {
	// Name identifies the transport for diagnostics ("websocket", "sse",
	// "http_stream", ...).
	Name() string
	// SubName distinguishes sub-variants of the same Name (e.g. protobuf
	// vs JSON framing over the same WebSocket), used in log fields only.
	SubName() string
	// Supported reports whether this transport can be used at all in the
	// current runtime (e.g. an SSE transport might require a platform
	// EventSource implementation unavailable in some environments).
	Supported() bool
	// Emulation reports whether this transport is receive-only and needs
	// a side channel for outbound frames (spec.md §4.8). WebSocket
	// transports are bidirectional and return false.
	Emulation() bool
	// Initialize dials/opens the transport. initialFrame, if non-nil, is
	// sent as soon as the transport is open — used so the very first
	// command (connect) goes out without an extra round trip once the
	// connection is established.
	Initialize(protocol Protocol, callbacks TransportCallbacks, initialFrame []byte) error
	// Send writes one already-encoded frame. session/node are attached by
	// emulation transports that multiplex several logical connections
	// over one side channel; non-emulation transports ignore them.
	Send(frame []byte, session, node string) error
	// Close tears the transport down. OnClose still fires.
	Close() error
}
