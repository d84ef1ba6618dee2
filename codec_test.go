package centrifuge

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONCodecEncodesCommandsAndDecodesReplies(t *testing.T) {
	c := jsonCodec{}
	cmds := []*Command{
		{ID: 1, Method: MethodConnect, Params: json.RawMessage(`{"token":"t"}`)},
		{Method: MethodSend, Params: json.RawMessage(`{"data":"aGk="}`)},
	}
	frame, err := c.EncodeCommands(cmds)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	replyFrame := []byte(`{"id":1,"result":{"client":"c1"}}` + "\n" +
		`{"push":{"channel":"news","pub":{"data":"aGk="}}}`)
	replies, err := c.DecodeReplies(replyFrame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].ID != 1 {
		t.Fatalf("expected id 1, got %d", replies[0].ID)
	}
	if replies[1].Push == nil || replies[1].Push.Type != PushTypePublication {
		t.Fatalf("expected a publication push, got %+v", replies[1].Push)
	}
	if replies[1].Push.Channel != "news" {
		t.Fatalf("expected channel news, got %q", replies[1].Push.Channel)
	}
	_ = frame
}

func TestJSONCodecEmptyFrameIsServerPing(t *testing.T) {
	c := jsonCodec{}
	replies, err := c.DecodeReplies([]byte(""))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 1 || !replies[0].isServerPing() {
		t.Fatalf("expected a single server-ping reply, got %+v", replies)
	}
}

func TestJSONCodecRejectsEmptyPushEnvelope(t *testing.T) {
	c := jsonCodec{}
	_, err := c.DecodeReplies([]byte(`{"push":{"channel":"x"}}`))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestJSONCodecDecodesWireError(t *testing.T) {
	c := jsonCodec{}
	replies, err := c.DecodeReplies([]byte(`{"id":7,"error":{"code":109,"message":"token expired"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 1 || replies[0].Error == nil {
		t.Fatalf("expected a decoded error, got %+v", replies)
	}
	if !isTokenExpiredError(replies[0].Error) {
		t.Fatalf("expected a token-expired error, got %+v", replies[0].Error)
	}
}

func TestProtobufCodecEncodesCommandEnvelope(t *testing.T) {
	c := protobufCodec{}
	cmds := []*Command{
		{ID: 5, Method: MethodSubscribe, Params: json.RawMessage(`{"channel":"news"}`)},
	}
	frame, err := c.EncodeCommands(cmds)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) == 0 {
		t.Fatal("expected non-empty frame")
	}
}

func TestProtobufCodecReplyRoundTrip(t *testing.T) {
	reply := &Reply{ID: 3, Result: json.RawMessage(`{"client":"c1"}`)}
	frame := EncodeReply(reply)

	c := protobufCodec{}
	replies, err := c.DecodeReplies(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != 3 {
		t.Fatalf("unexpected replies: %+v", replies)
	}
	if string(replies[0].Result) != `{"client":"c1"}` {
		t.Fatalf("unexpected result: %s", replies[0].Result)
	}
}

func TestProtobufCodecPushRoundTrip(t *testing.T) {
	reply := &Reply{Push: &Push{Channel: "news", Type: PushTypeJoin, Data: json.RawMessage(`{"info":{"client":"c1"}}`)}}
	frame := EncodeReply(reply)

	c := protobufCodec{}
	replies, err := c.DecodeReplies(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 1 || replies[0].Push == nil {
		t.Fatalf("expected a decoded push, got %+v", replies)
	}
	if replies[0].Push.Channel != "news" || replies[0].Push.Type != PushTypeJoin {
		t.Fatalf("unexpected push: %+v", replies[0].Push)
	}
}

func TestProtobufCodecErrorRoundTrip(t *testing.T) {
	reply := &Reply{ID: 9, Error: &Error{Code: 112, Message: "bad position", Temporary: false}}
	frame := EncodeReply(reply)

	c := protobufCodec{}
	replies, err := c.DecodeReplies(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 1 || replies[0].Error == nil {
		t.Fatalf("expected a decoded error, got %+v", replies)
	}
	if !isUnrecoverablePositionError(replies[0].Error) {
		t.Fatalf("expected unrecoverable position error, got %+v", replies[0].Error)
	}
}

func TestProtobufCodecMultipleMessagesInOneFrame(t *testing.T) {
	var frame []byte
	frame = append(frame, EncodeReply(&Reply{ID: 1, Result: json.RawMessage(`{}`)})...)
	frame = append(frame, EncodeReply(&Reply{ID: 2, Result: json.RawMessage(`{}`)})...)

	c := protobufCodec{}
	replies, err := c.DecodeReplies(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
}
