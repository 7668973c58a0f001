package ccproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// Server payload builders shared by the handshake and session tests.

func loginValidatePayload(userID uint64, ip string, port uint16, key string) []byte {
	p := make([]byte, 956)
	binary.LittleEndian.PutUint16(p[0:2], port)
	binary.LittleEndian.PutUint64(p[4:12], userID)
	copy(p[12:44], ip)
	copy(p[44:133], key)
	copy(p[133:262], "gs.example.net")
	binary.LittleEndian.PutUint16(p[262:264], port)
	return p
}

func gameLoginPayload(status uint32, userID uint64, key string) []byte {
	p := make([]byte, 28)
	binary.LittleEndian.PutUint32(p[0:4], status)
	binary.LittleEndian.PutUint64(p[4:12], userID)
	copy(p[12:28], key)
	return p
}

func chatRecord(player uint64, name, text string) []byte {
	rec := make([]byte, chatRecordSize)
	binary.LittleEndian.PutUint64(rec[0:8], player)
	copy(rec[20:52], name)
	copy(rec[52:180], text)
	return rec
}

func worldChatPayload(channel uint32, records ...[]byte) []byte {
	p := make([]byte, 12, 12+len(records)*chatRecordSize)
	binary.LittleEndian.PutUint32(p[0:4], channel)
	binary.LittleEndian.PutUint64(p[4:12], uint64(len(records)))
	for _, rec := range records {
		p = append(p, rec...)
	}
	return p
}

func TestDecodeLoginValidate(t *testing.T) {
	payload := loginValidatePayload(4242, "10.1.2.3", 9301, "LOGINKEY")
	msg, err := DecodeServerMessage(Frame{ID: MsgLoginValidate, Payload: payload})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := msg.(LoginValidate)
	if !ok {
		t.Fatalf("got %T want LoginValidate", msg)
	}
	if v.UserID != 4242 {
		t.Fatalf("user id: got %d", v.UserID)
	}
	if v.GameIP != "10.1.2.3" || v.GamePort != 9301 {
		t.Fatalf("game endpoint: got %s:%d", v.GameIP, v.GamePort)
	}
	if v.Addr() != "10.1.2.3:9301" {
		t.Fatalf("addr: got %q", v.Addr())
	}
	if v.LoginKey != "LOGINKEY" {
		t.Fatalf("login key: got %q", v.LoginKey)
	}
	if v.GameHost != "gs.example.net" || v.HostPort != 9301 {
		t.Fatalf("host: got %s:%d", v.GameHost, v.HostPort)
	}
}

func TestDecodeLoginValidateShort(t *testing.T) {
	_, err := DecodeServerMessage(Frame{ID: MsgLoginValidate, Payload: make([]byte, 100)})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("got %v want ErrMalformedPayload", err)
	}
}

func TestDecodeGameLogin(t *testing.T) {
	payload := gameLoginPayload(0, 4242, "abcdefgh")
	msg, err := DecodeServerMessage(Frame{ID: MsgGameLogin, Payload: payload})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g, ok := msg.(GameLogin)
	if !ok {
		t.Fatalf("got %T want GameLogin", msg)
	}
	if g.Status != 0 || g.UserID != 4242 {
		t.Fatalf("status %d user %d", g.Status, g.UserID)
	}
	if string(g.SessionKey) != "abcdefgh" {
		t.Fatalf("session key: got %q, trailing NULs must be stripped", g.SessionKey)
	}
	if !g.granted() {
		t.Fatalf("granted: got false")
	}
}

func TestDecodeGameLoginRefused(t *testing.T) {
	msg, err := DecodeServerMessage(Frame{ID: MsgGameLogin, Payload: gameLoginPayload(5, 4242, "")})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g := msg.(GameLogin)
	if g.granted() {
		t.Fatalf("empty key must not count as granted")
	}
	if g.Status != 5 {
		t.Fatalf("status: got %d want 5", g.Status)
	}
}

func TestDecodeWorldChat(t *testing.T) {
	payload := worldChatPayload(7,
		chatRecord(222, "Bob", "newer"),
		chatRecord(111, "Alice", "hi"),
	)
	msg, err := DecodeServerMessage(Frame{ID: MsgWorldChat, Payload: payload})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	wc, ok := msg.(WorldChat)
	if !ok {
		t.Fatalf("got %T want WorldChat", msg)
	}
	if wc.Channel != 7 {
		t.Fatalf("channel: got %d", wc.Channel)
	}
	if len(wc.Messages) != 2 {
		t.Fatalf("messages: got %d want 2", len(wc.Messages))
	}
	if wc.Messages[0].PlayerID != 222 || wc.Messages[0].Name != "Bob" || wc.Messages[0].Text != "newer" {
		t.Fatalf("first record: got %+v", wc.Messages[0])
	}
	if wc.Messages[1].Name != "Alice" || wc.Messages[1].Text != "hi" {
		t.Fatalf("second record: got %+v", wc.Messages[1])
	}
	if wc.Messages[0].sum == wc.Messages[1].sum {
		t.Fatalf("distinct records share a fingerprint")
	}
}

func TestDecodeWorldChatCountBound(t *testing.T) {
	p := worldChatPayload(7, chatRecord(1, "A", "x"))
	// claim far more records than the payload holds
	binary.LittleEndian.PutUint64(p[4:12], 1000)
	_, err := DecodeServerMessage(Frame{ID: MsgWorldChat, Payload: p})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("got %v want ErrMalformedPayload", err)
	}
}

func TestDecodeServerMessageUnrecognized(t *testing.T) {
	msg, err := DecodeServerMessage(Frame{ID: 0x9999, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, ok := msg.(Unrecognized)
	if !ok {
		t.Fatalf("got %T want Unrecognized", msg)
	}
	if u.ID != 0x9999 || u.Size != 7 {
		t.Fatalf("got id 0x%04x size %d", u.ID, u.Size)
	}
}

func TestConnectGameServerPayload(t *testing.T) {
	p := connectGameServerPayload(4242, "LOGINKEY", 0x1111, 0x2222)
	if len(p) != 176 {
		t.Fatalf("length: got %d want 176", len(p))
	}
	if binary.LittleEndian.Uint64(p[4:12]) != 4242 {
		t.Fatalf("user id field: got %d", binary.LittleEndian.Uint64(p[4:12]))
	}
	if !bytes.Equal(p[12:20], []byte("LOGINKEY")) {
		t.Fatalf("key field: got %x", p[12:20])
	}
	if !bytes.Equal(p[20:168], make([]byte, 148)) {
		t.Fatalf("key field is not NUL padded")
	}
	if binary.LittleEndian.Uint32(p[168:172]) != 0x1111 {
		t.Fatalf("sign field: got %x", p[168:172])
	}
	if binary.LittleEndian.Uint32(p[172:176]) != 0x2222 {
		t.Fatalf("version field: got %x", p[172:176])
	}
}
