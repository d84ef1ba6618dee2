package centrifuge

import "encoding/json"

// Method identifies a command envelope per spec.md §6.
type Method string

const (
	MethodConnect        Method = "connect"
	MethodSubscribe      Method = "subscribe"
	MethodUnsubscribe    Method = "unsubscribe"
	MethodPublish        Method = "publish"
	MethodHistory        Method = "history"
	MethodPresence       Method = "presence"
	MethodPresenceStats  Method = "presence_stats"
	MethodRPC            Method = "rpc"
	MethodSend           Method = "send"
	MethodRefresh        Method = "refresh"
	MethodSubRefresh     Method = "sub_refresh"
	MethodPing           Method = ""
)

// PushType identifies a server push payload per spec.md §4.4.
type PushType string

const (
	PushTypePublication PushType = "publication"
	PushTypeJoin        PushType = "join"
	PushTypeLeave       PushType = "leave"
	PushTypeSubscribe   PushType = "subscribe"
	PushTypeUnsubscribe PushType = "unsubscribe"
	PushTypeMessage     PushType = "message"
	PushTypeDisconnect  PushType = "disconnect"
	PushTypeRefresh     PushType = "refresh"
)

// Command is one outbound envelope. ID is 0 for fire-and-forget commands
// (send, unsubscribe, server pong) per spec.md §4.2.
type Command struct {
	ID     uint32          `json:"id,omitempty"`
	Method Method          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wireError is the {code, message, temporary} shape a server sends for a
// failed command (spec.md §6/§7).
type wireError struct {
	Code      uint32 `json:"code"`
	Message   string `json:"message"`
	Temporary bool   `json:"temporary,omitempty"`
}

func (e *wireError) toError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message, Temporary: e.Temporary}
}

// Push carries a server-initiated event, routed by Type per spec.md §4.4.
type Push struct {
	Channel string          `json:"channel,omitempty"`
	Type    PushType        `json:"-"`
	Data    json.RawMessage `json:"-"`
}

// Reply is one decoded item from an inbound frame: either a command reply
// (nonzero ID, Result or Error set) or a server push (Push set), or
// neither (an empty frame, interpreted as a server ping per spec.md §4.4).
type Reply struct {
	ID     uint32
	Result json.RawMessage
	Error  *Error
	Push   *Push
}

func (r *Reply) isServerPing() bool {
	return r.ID == 0 && r.Result == nil && r.Error == nil && r.Push == nil
}

// --- command parameter / result payloads ---

type ConnectRequest struct {
	Token string                        `json:"token,omitempty"`
	Data  json.RawMessage               `json:"data,omitempty"`
	Name  string                        `json:"name,omitempty"`
	Version string                      `json:"version,omitempty"`
	Subs  map[string]*SubscribeRequest  `json:"subs,omitempty"`
}

type ConnectResult struct {
	Client  string                    `json:"client"`
	Version string                    `json:"version,omitempty"`
	Expires bool                      `json:"expires,omitempty"`
	TTL     uint32                    `json:"ttl,omitempty"`
	Data    json.RawMessage           `json:"data,omitempty"`
	Subs    map[string]*SubscribeResult `json:"subs,omitempty"`
	Ping    uint32                    `json:"ping,omitempty"`
	Pong    bool                      `json:"pong,omitempty"`
	Session string                    `json:"session,omitempty"`
	Node    string                    `json:"node,omitempty"`
}

type SubscribeRequest struct {
	Channel string `json:"channel,omitempty"`
	Token   string `json:"token,omitempty"`
	Recover bool   `json:"recover,omitempty"`
	Offset  uint64 `json:"offset,omitempty"`
	Epoch   string `json:"epoch,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type SubscribeResult struct {
	Expires      bool           `json:"expires,omitempty"`
	TTL          uint32         `json:"ttl,omitempty"`
	Recoverable  bool           `json:"recoverable,omitempty"`
	Offset       uint64         `json:"offset,omitempty"`
	Epoch        string         `json:"epoch,omitempty"`
	Recovered    bool           `json:"recovered,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Publications []*PublicationPush `json:"publications,omitempty"`
}

type UnsubscribeRequest struct {
	Channel string `json:"channel,omitempty"`
}

type UnsubscribeResult struct{}

type PublishRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type PublishResult struct{}

type HistoryRequest struct {
	Channel string `json:"channel"`
	Limit   int32  `json:"limit,omitempty"`
	Since   *StreamPosition `json:"since,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
}

type HistoryResult struct {
	Publications []*PublicationPush `json:"publications"`
	Offset       uint64             `json:"offset,omitempty"`
	Epoch        string             `json:"epoch,omitempty"`
}

type PresenceRequest struct {
	Channel string `json:"channel"`
}

type PresenceResult struct {
	Presence map[string]*ClientInfoPush `json:"presence"`
}

type PresenceStatsRequest struct {
	Channel string `json:"channel"`
}

type PresenceStatsResult struct {
	NumClients uint32 `json:"num_clients"`
	NumUsers   uint32 `json:"num_users"`
}

type RPCRequest struct {
	Method string          `json:"method,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type RPCResult struct {
	Data json.RawMessage `json:"data"`
}

type SendRequest struct {
	Data json.RawMessage `json:"data"`
}

type RefreshRequest struct {
	Token string `json:"token"`
}

type RefreshResult struct {
	Client  string `json:"client"`
	Expires bool   `json:"expires,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
}

type SubRefreshRequest struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

type SubRefreshResult struct {
	Expires bool   `json:"expires,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
}

// --- push payloads ---

type ClientInfoPush struct {
	Client string          `json:"client,omitempty"`
	User   string          `json:"user,omitempty"`
	ConnInfo json.RawMessage `json:"conn_info,omitempty"`
	ChanInfo json.RawMessage `json:"chan_info,omitempty"`
}

func (c *ClientInfoPush) toClientInfo() ClientInfo {
	if c == nil {
		return ClientInfo{}
	}
	return ClientInfo{ClientID: c.Client, UserID: c.User, ConnInfo: c.ConnInfo, ChanInfo: c.ChanInfo}
}

type PublicationPush struct {
	Data   json.RawMessage   `json:"data"`
	Info   *ClientInfoPush   `json:"info,omitempty"`
	Offset uint64            `json:"offset,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

func (p *PublicationPush) toPublication() Publication {
	pub := Publication{Data: p.Data, Offset: p.Offset, Tags: p.Tags}
	if p.Info != nil {
		ci := p.Info.toClientInfo()
		pub.Info = &ci
	}
	return pub
}

type joinLeavePush struct {
	Info *ClientInfoPush `json:"info"`
}

type subscribePush struct {
	Recoverable bool   `json:"recoverable,omitempty"`
	Offset      uint64 `json:"offset,omitempty"`
	Epoch       string `json:"epoch,omitempty"`
	Recovered   bool   `json:"recovered,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type unsubscribePush struct {
	Code   uint32 `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type disconnectPush struct {
	Code      uint32 `json:"code"`
	Reason    string `json:"reason"`
	Reconnect bool   `json:"reconnect"`
}

type messagePush struct {
	Data json.RawMessage `json:"data"`
}

type refreshPush struct {
	Expires bool   `json:"expires,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
}
