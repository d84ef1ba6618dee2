package centrifuge

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Protocol selects the wire codec used to talk to the server. See §6.
type Protocol string

const (
	ProtocolJSON     Protocol = "json"
	ProtocolProtobuf Protocol = "protobuf"
)

const (
	// DefaultMinReconnectDelay is the lower bound of the reconnect backoff
	// window, mirroring nats.go's DefaultReconnectWait but expressed as a
	// jittered range rather than a fixed wait (spec.md §4.1).
	DefaultMinReconnectDelay = 200 * time.Millisecond
	// DefaultMaxReconnectDelay is the upper bound of the reconnect backoff
	// window.
	DefaultMaxReconnectDelay = 20 * time.Second
	// DefaultTimeout is the default per-call and connect timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultPingInterval is the client-driven ping period used when the
	// server does not request server-driven pings (spec.md §4.9).
	DefaultPingInterval = 25 * time.Second
	// DefaultPongWaitTimeout bounds how long the client waits for a pong
	// reply to its own ping before treating the connection as dead.
	DefaultPongWaitTimeout = 10 * time.Second
	// DefaultMaxServerPingDelay is added on top of the server-announced
	// ping interval to build the server-ping watchdog window.
	DefaultMaxServerPingDelay = 10 * time.Second
	// DefaultPrivateChannelPrefix is the default channel-name prefix that
	// requires a subscription token (spec.md §4.5).
	DefaultPrivateChannelPrefix = "$"
	// maxTimerDuration clamps server-supplied TTLs to the platform's
	// single-shot timer ceiling (spec.md §9, approximately 2^31ms).
	maxTimerDuration = (1<<31 - 1) * time.Millisecond
)

// TokenGetter is invoked to (re)acquire a connection-level token, e.g.
// before the first connect and whenever the server signals the prior
// token expired (error code 109). An empty string with a nil error is
// treated as "no token available" when connecting and fatally closes the
// client with CloseReasonUnauthorized. During a scheduled token refresh
// (token.go) an empty token is retried like a provider error.
type TokenGetter func() (string, error)

// SubscriptionTokenGetter is invoked to acquire a token for a private
// channel subscription or sub-refresh. channel is the full channel name
// including the private prefix.
type SubscriptionTokenGetter func(channel string) (string, error)

// EmulationEndpoint describes one candidate transport tried in order
// during emulation negotiation (spec.md §4.8).
type EmulationEndpoint struct {
	Endpoint  string
	Transport Transport
}

// Config configures a Client. Mirrors nats.go's Options struct: a plain
// value type with documented fields and package-level defaults, and no
// functional-options builder (Logger and Metrics are plain fields too).
type Config struct {
	// Token is the initial connection token. Leave empty and set GetToken
	// instead for clients that authenticate with short-lived tokens.
	Token string
	// Data is optional free-form payload sent with the connect command.
	Data []byte
	// Protocol selects the wire codec. Defaults to ProtocolJSON.
	Protocol Protocol
	// Debug sets the default logger's level to Debug. The client emits no
	// per-command, per-reply or per-push log lines.
	Debug bool
	// Name and Version identify this client to the server (diagnostics).
	Name    string
	Version string
	// PrivateChannelPrefix marks channels that require a subscription
	// token. Defaults to DefaultPrivateChannelPrefix.
	PrivateChannelPrefix string

	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
	Timeout           time.Duration
	PingInterval      time.Duration
	PongWaitTimeout   time.Duration
	MaxServerPingDelay time.Duration

	// GetToken refreshes the connection-level token. Required for any
	// client that expects its token to expire.
	GetToken TokenGetter
	// GetSubscriptionToken signs a per-channel token for private channels
	// that were not given a per-subscription provider of their own.
	GetSubscriptionToken SubscriptionTokenGetter

	// Transport is used when Emulation is empty: a single transport the
	// client opens directly (non-emulation mode, spec.md §4.6 step 4).
	Transport Transport
	// Emulation lists transports to try in order, each potentially
	// requiring a side-channel for outbound frames (spec.md §4.8). When
	// non-empty it takes precedence over Transport.
	Emulation []EmulationEndpoint

	// Logger receives structured diagnostic events. Defaults to a
	// zerolog-backed logger gated by Debug; see logging.go.
	Logger Logger
	// Metrics receives counters/gauges for reconnects, commands, and
	// pushes. Defaults to a no-op collector; see metrics.go.
	Metrics MetricsCollector
}

// withDefaults returns a copy of cfg with zero-value fields replaced by
// package defaults, the way nats.go's DefaultOptions seeds Options before
// a dial.
func (cfg Config) withDefaults() Config {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolJSON
	}
	if cfg.PrivateChannelPrefix == "" {
		cfg.PrivateChannelPrefix = DefaultPrivateChannelPrefix
	}
	if cfg.MinReconnectDelay <= 0 {
		cfg.MinReconnectDelay = DefaultMinReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongWaitTimeout <= 0 {
		cfg.PongWaitTimeout = DefaultPongWaitTimeout
	}
	if cfg.MaxServerPingDelay <= 0 {
		cfg.MaxServerPingDelay = DefaultMaxServerPingDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger(cfg.Debug)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return cfg
}

// envConfig is the struct caarlos0/env populates; ConfigFromEnv copies it
// into a Config. Kept separate from Config because env binds only the
// subset of fields that are plain scalars (tokens, timeouts, names) —
// Transport, GetToken and friends can't come from the environment.
type envConfig struct {
	Token                string        `env:"CENTRIFUGE_TOKEN"`
	Protocol             string        `env:"CENTRIFUGE_PROTOCOL" envDefault:"json"`
	Debug                bool          `env:"CENTRIFUGE_DEBUG" envDefault:"false"`
	Name                 string        `env:"CENTRIFUGE_NAME"`
	Version              string        `env:"CENTRIFUGE_VERSION"`
	PrivateChannelPrefix string        `env:"CENTRIFUGE_PRIVATE_CHANNEL_PREFIX" envDefault:"$"`
	MinReconnectDelay    time.Duration `env:"CENTRIFUGE_MIN_RECONNECT_DELAY" envDefault:"200ms"`
	MaxReconnectDelay    time.Duration `env:"CENTRIFUGE_MAX_RECONNECT_DELAY" envDefault:"20s"`
	Timeout              time.Duration `env:"CENTRIFUGE_TIMEOUT" envDefault:"5s"`
	PingInterval         time.Duration `env:"CENTRIFUGE_PING_INTERVAL" envDefault:"25s"`
	PongWaitTimeout      time.Duration `env:"CENTRIFUGE_PONG_WAIT_TIMEOUT" envDefault:"10s"`
	MaxServerPingDelay   time.Duration `env:"CENTRIFUGE_MAX_SERVER_PING_DELAY" envDefault:"10s"`
}

// ConfigFromEnv builds a Config from CENTRIFUGE_* environment variables,
// the way go-server-2 binds its settings with caarlos0/env. Fields that
// cannot be expressed as environment scalars (Transport, GetToken, ...)
// are left for the caller to set on the returned value.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, err
	}
	return Config{
		Token:                ec.Token,
		Protocol:             Protocol(ec.Protocol),
		Debug:                ec.Debug,
		Name:                 ec.Name,
		Version:              ec.Version,
		PrivateChannelPrefix: ec.PrivateChannelPrefix,
		MinReconnectDelay:    ec.MinReconnectDelay,
		MaxReconnectDelay:    ec.MaxReconnectDelay,
		Timeout:              ec.Timeout,
		PingInterval:         ec.PingInterval,
		PongWaitTimeout:      ec.PongWaitTimeout,
		MaxServerPingDelay:   ec.MaxServerPingDelay,
	}, nil
}

// clampTimerDuration bounds d to the platform's maximum single-shot timer
// duration, used whenever a timer is derived from a server-supplied TTL
// (spec.md §9).
func clampTimerDuration(d time.Duration) time.Duration {
	if d > maxTimerDuration {
		return maxTimerDuration
	}
	if d < 0 {
		return 0
	}
	return d
}
