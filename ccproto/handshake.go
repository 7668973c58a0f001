package ccproto

import (
	"fmt"
	"io"
)

// RejectError is a handshake refusal from a server that understood the
// request. Stale access keys are the usual cause. Rejection is terminal:
// retrying with the same credentials cannot succeed, so the session
// surfaces it instead of reconnecting.
type RejectError struct {
	Stage string
	Code  uint32
}

func (e *RejectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s handshake rejected (code %d)", e.Stage, e.Code)
	}
	return fmt.Sprintf("%s handshake rejected", e.Stage)
}

// UnexpectedError is a handshake reply that matches neither the accept nor
// the reject shape. Continuing after one would desynchronize the stream,
// so the attempt is dropped and the connection retried.
type UnexpectedError struct {
	Stage string
	ID    uint16
	Data  []byte
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected %s handshake reply 0x%04x (%d bytes)", e.Stage, e.ID, len(e.Data))
}

func unexpectedReply(stage string, f Frame) error {
	data := f.Payload
	if len(data) > 32 {
		data = data[:32]
	}
	return &UnexpectedError{Stage: stage, ID: f.ID, Data: append([]byte(nil), data...)}
}

// performHandshake patches the login template with creds, sends it to the
// login server and classifies the reply. Accepted replies carry the game
// server endpoint and login key.
func performHandshake(rw io.ReadWriter, tmpl LoginTemplate, creds Credentials, max int) (LoginValidate, error) {
	body, err := tmpl.Patch(creds)
	if err != nil {
		return LoginValidate{}, err
	}
	if err := WriteFrame(rw, MsgConnectLoginServer, body); err != nil {
		return LoginValidate{}, fmt.Errorf("send login request: %w", err)
	}
	f, err := ReadFrame(rw, max)
	if err != nil {
		return LoginValidate{}, fmt.Errorf("read login reply: %w", err)
	}
	msg, err := DecodeServerMessage(f)
	if err != nil {
		return LoginValidate{}, unexpectedReply("login", f)
	}
	v, ok := msg.(LoginValidate)
	if !ok {
		return LoginValidate{}, unexpectedReply("login", f)
	}
	if !v.accepted() {
		return LoginValidate{}, &RejectError{Stage: "login"}
	}
	return v, nil
}

// performGameLogin presents the login key to the game server and, when the
// server grants a session key, returns the cipher built from it.
func performGameLogin(rw io.ReadWriter, creds Credentials, loginKey string, sign, version uint32, max int) (GameLogin, *payloadCipher, error) {
	payload := connectGameServerPayload(creds.UserID, loginKey, sign, version)
	if err := WriteFrame(rw, MsgConnectGameServer, payload); err != nil {
		return GameLogin{}, nil, fmt.Errorf("send game login: %w", err)
	}
	f, err := ReadFrame(rw, max)
	if err != nil {
		return GameLogin{}, nil, fmt.Errorf("read game login reply: %w", err)
	}
	msg, err := DecodeServerMessage(f)
	if err != nil {
		return GameLogin{}, nil, unexpectedReply("game", f)
	}
	g, ok := msg.(GameLogin)
	if !ok {
		return GameLogin{}, nil, unexpectedReply("game", f)
	}
	if !g.granted() {
		return GameLogin{}, nil, &RejectError{Stage: "game", Code: g.Status}
	}
	c, err := newPayloadCipher(g.SessionKey)
	if err != nil {
		return GameLogin{}, nil, unexpectedReply("game", f)
	}
	return g, c, nil
}
