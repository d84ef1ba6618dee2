package centrifuge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encoder turns a batch of commands into a single framed payload ready to
// hand to a Transport. Decoder parses a framed payload received from a
// Transport back into an ordered sequence of replies. Both are opaque to
// the session engine per spec.md §6 — concrete implementations below
// (JSON, protobuf) are the only two the client ships, but an application
// can supply its own.
type Encoder interface {
	EncodeCommands(cmds []*Command) ([]byte, error)
}

type Decoder interface {
	DecodeReplies(frame []byte) ([]*Reply, error)
}

// Codec bundles an Encoder and Decoder for one Protocol. NewCodec picks
// the one matching cfg.Protocol.
type Codec interface {
	Encoder
	Decoder
}

// NewCodec returns the built-in codec for the given protocol.
func NewCodec(p Protocol) (Codec, error) {
	switch p {
	case "", ProtocolJSON:
		return jsonCodec{}, nil
	case ProtocolProtobuf:
		return protobufCodec{}, nil
	default:
		return nil, fmt.Errorf("centrifuge: unknown protocol %q", p)
	}
}

// jsonCodec frames commands/replies as newline-delimited JSON objects, the
// way the real Centrifuge JSON protocol batches multiple items in one
// WebSocket frame.
type jsonCodec struct{}

func (jsonCodec) EncodeCommands(cmds []*Command) ([]byte, error) {
	var buf bytes.Buffer
	for i, cmd := range cmds {
		if i > 0 {
			buf.WriteByte('\n')
		}
		b, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("centrifuge: encode command: %w", err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// wirePush is the JSON shape of a push envelope; exactly one of the
// payload fields is set, which determines the resulting PushType.
type wirePush struct {
	Channel    string          `json:"channel,omitempty"`
	Pub        json.RawMessage `json:"pub,omitempty"`
	Join       json.RawMessage `json:"join,omitempty"`
	Leave      json.RawMessage `json:"leave,omitempty"`
	Sub        json.RawMessage `json:"sub,omitempty"`
	Unsub      json.RawMessage `json:"unsub,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Disconnect json.RawMessage `json:"disconnect,omitempty"`
	Refresh    json.RawMessage `json:"refresh,omitempty"`
}

func (p *wirePush) toPush() (*Push, error) {
	switch {
	case p.Pub != nil:
		return &Push{Channel: p.Channel, Type: PushTypePublication, Data: p.Pub}, nil
	case p.Join != nil:
		return &Push{Channel: p.Channel, Type: PushTypeJoin, Data: p.Join}, nil
	case p.Leave != nil:
		return &Push{Channel: p.Channel, Type: PushTypeLeave, Data: p.Leave}, nil
	case p.Sub != nil:
		return &Push{Channel: p.Channel, Type: PushTypeSubscribe, Data: p.Sub}, nil
	case p.Unsub != nil:
		return &Push{Channel: p.Channel, Type: PushTypeUnsubscribe, Data: p.Unsub}, nil
	case p.Message != nil:
		return &Push{Channel: p.Channel, Type: PushTypeMessage, Data: p.Message}, nil
	case p.Disconnect != nil:
		return &Push{Channel: p.Channel, Type: PushTypeDisconnect, Data: p.Disconnect}, nil
	case p.Refresh != nil:
		return &Push{Channel: p.Channel, Type: PushTypeRefresh, Data: p.Refresh}, nil
	default:
		return nil, fmt.Errorf("%w: empty push envelope", ErrProtocol)
	}
}

type wireReply struct {
	ID     uint32          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	Push   *wirePush       `json:"push,omitempty"`
}

func (jsonCodec) DecodeReplies(frame []byte) ([]*Reply, error) {
	lines := bytes.Split(frame, []byte("\n"))
	replies := make([]*Reply, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var wr wireReply
		if err := json.Unmarshal(line, &wr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		reply := &Reply{ID: wr.ID, Result: wr.Result, Error: wr.Error.toError()}
		if wr.Push != nil {
			push, err := wr.Push.toPush()
			if err != nil {
				return nil, err
			}
			reply.Push = push
		}
		replies = append(replies, reply)
	}
	if len(replies) == 0 {
		// An empty frame carries no replies at all: treat it as a single
		// server ping (spec.md §4.4).
		replies = append(replies, &Reply{})
	}
	return replies, nil
}
