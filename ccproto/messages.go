package ccproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
)

// Message ids spoken by the 3.8.x servers.
const (
	MsgConnectLoginServer uint16 = 0x0232
	MsgLoginValidate      uint16 = 0x01f8
	MsgConnectGameServer  uint16 = 0x01f7
	MsgGameLogin          uint16 = 0x01f9
	MsgAckEncryption      uint16 = 0x03ed
	MsgGameInitComplete   uint16 = 0x03f8
	MsgActive             uint16 = 0x03eb
	MsgSelectChat         uint16 = 0x042c
	MsgWorldChat          uint16 = 0x03f6
)

// ServerMessage is one decoded server frame. The set of implementations
// is closed; frames with ids outside it decode to Unrecognized.
type ServerMessage interface {
	messageID() uint16
}

// LoginValidate is the login server's reply to the login request. It
// carries the game server endpoint and the one-shot key for it.
type LoginValidate struct {
	UserID   uint64
	GameIP   string
	GamePort uint16
	GameHost string
	HostPort uint16
	LoginKey string
}

func (LoginValidate) messageID() uint16 { return MsgLoginValidate }

// Addr returns the game server endpoint the login server directed us to.
func (m LoginValidate) Addr() string {
	return net.JoinHostPort(m.GameIP, strconv.Itoa(int(m.GamePort)))
}

// accepted reports whether the reply grants a game server session.
func (m LoginValidate) accepted() bool {
	return m.LoginKey != "" && m.GameIP != ""
}

func decodeLoginValidate(p []byte) (ServerMessage, error) {
	r := newFieldReader(p)
	var m LoginValidate
	m.GamePort = r.u16()
	r.skip(2)
	m.UserID = r.u64()
	m.GameIP = r.stringN(32)
	m.LoginKey = r.stringN(89)
	m.GameHost = r.stringN(129)
	m.HostPort = r.u16()
	if r.err != nil {
		return nil, fmt.Errorf("login validate: %w", r.err)
	}
	return m, nil
}

// GameLogin is the game server's reply to the game login request. The
// session cipher key arrives here; Status is zero when the key is granted.
type GameLogin struct {
	Status     uint32
	UserID     uint64
	SessionKey []byte
}

func (GameLogin) messageID() uint16 { return MsgGameLogin }

// granted reports whether the reply carries a usable session key.
func (m GameLogin) granted() bool { return len(m.SessionKey) > 0 }

func decodeGameLogin(p []byte) (ServerMessage, error) {
	r := newFieldReader(p)
	var m GameLogin
	m.Status = r.u32()
	m.UserID = r.u64()
	key := r.bytesN(16)
	if r.err != nil {
		return nil, fmt.Errorf("game login: %w", r.err)
	}
	m.SessionKey = bytes.TrimRight(key, "\x00")
	return m, nil
}

// ChatMessage is one world chat entry as decoded from the wire.
type ChatMessage struct {
	PlayerID uint64
	Name     string
	Text     string

	// sum fingerprints the raw record so redelivered batches after a
	// reconnect are dropped instead of dispatched twice.
	sum uint64
}

// WorldChat is a batch of broadcast messages. The wire orders them newest
// first.
type WorldChat struct {
	Channel  uint32
	Messages []ChatMessage
}

func (WorldChat) messageID() uint16 { return MsgWorldChat }

const chatRecordSize = 184

func decodeWorldChat(p []byte) (ServerMessage, error) {
	r := newFieldReader(p)
	var m WorldChat
	m.Channel = r.u32()
	count := r.u64()
	if r.err != nil {
		return nil, fmt.Errorf("world chat: %w", r.err)
	}
	if count > uint64(r.remaining())/chatRecordSize {
		return nil, fmt.Errorf("world chat count %d over %d payload bytes: %w",
			count, r.remaining(), ErrMalformedPayload)
	}
	m.Messages = make([]ChatMessage, 0, count)
	for i := uint64(0); i < count; i++ {
		rec := r.take(chatRecordSize)
		if r.err != nil {
			return nil, fmt.Errorf("world chat record %d: %w", i, r.err)
		}
		h := fnv.New64a()
		h.Write(rec)
		rr := newFieldReader(rec)
		id := rr.u64()
		rr.skip(12)
		m.Messages = append(m.Messages, ChatMessage{
			PlayerID: id,
			Name:     rr.stringN(32),
			Text:     rr.stringN(128),
			sum:      h.Sum64(),
		})
	}
	return m, nil
}

// Unrecognized is the fallback for ids outside the decoded set. Callers
// log and skip these rather than failing the stream.
type Unrecognized struct {
	ID   uint16
	Size int
}

func (Unrecognized) messageID() uint16 { return 0 }

// DecodeServerMessage maps a frame to its typed message. Decode failures
// affect only the frame at hand; the stream itself stays scannable.
func DecodeServerMessage(f Frame) (ServerMessage, error) {
	switch f.ID {
	case MsgLoginValidate:
		return decodeLoginValidate(f.Payload)
	case MsgGameLogin:
		return decodeGameLogin(f.Payload)
	case MsgWorldChat:
		return decodeWorldChat(f.Payload)
	default:
		return Unrecognized{ID: f.ID, Size: f.Size()}, nil
	}
}

// Client request payloads. These mirror what the real client sends; field
// order and widths matter, names are best guesses from captures.

func connectGameServerPayload(userID uint64, loginKey string, sign, version uint32) []byte {
	buf := make([]byte, 176)
	binary.LittleEndian.PutUint64(buf[4:12], userID)
	copy(buf[12:168], loginKey)
	binary.LittleEndian.PutUint32(buf[168:172], sign)
	binary.LittleEndian.PutUint32(buf[172:176], version)
	return buf
}

func ackEncryptionPayload(seq uint32, userID uint64, language uint32) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint64(buf[4:12], userID)
	binary.LittleEndian.PutUint32(buf[16:20], language)
	return buf
}

func seqPayload(seq uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, seq)
	return buf
}

func selectChatPayload(seq, channel uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint32(buf[4:8], channel)
	return buf
}
