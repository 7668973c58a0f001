package ccproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// serveOnce runs script against the server end of a pipe and reports its
// result on the returned channel.
func serveOnce(t *testing.T, script func(conn net.Conn) error) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	errc := make(chan error, 1)
	go func() {
		defer server.Close()
		errc <- script(server)
	}()
	return client, errc
}

func waitServer(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server script did not finish")
	}
}

func TestHandshakeAccepted(t *testing.T) {
	tmpl := BuildLoginTemplate(389, 101)
	creds := Credentials{UserID: 4242, AccessKey: "KEY"}
	client, errc := serveOnce(t, func(conn net.Conn) error {
		f, err := ReadFrame(conn, 0)
		if err != nil {
			return err
		}
		if f.ID != MsgConnectLoginServer {
			return fmt.Errorf("request id: got 0x%04x", f.ID)
		}
		want, _ := tmpl.Patch(creds)
		if !bytes.Equal(f.Payload, want) {
			return fmt.Errorf("request is not the patched template")
		}
		return WriteFrame(conn, MsgLoginValidate, loginValidatePayload(4242, "10.1.2.3", 9301, "LK"))
	})
	defer client.Close()

	v, err := performHandshake(client, tmpl, creds, 0)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if v.Addr() != "10.1.2.3:9301" || v.LoginKey != "LK" || v.UserID != 4242 {
		t.Fatalf("accepted reply: got %+v", v)
	}
	waitServer(t, errc)
}

func TestHandshakeRejected(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		// a well formed reply with no login key is a refusal
		return WriteFrame(conn, MsgLoginValidate, loginValidatePayload(4242, "", 0, ""))
	})
	defer client.Close()

	_, err := performHandshake(client, BuildLoginTemplate(1, 1), Credentials{UserID: 4242}, 0)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("got %v want *RejectError", err)
	}
	if reject.Stage != "login" {
		t.Fatalf("stage: got %q", reject.Stage)
	}
	waitServer(t, errc)
}

func TestHandshakeUnexpectedID(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		return WriteFrame(conn, 0x0666, []byte("??"))
	})
	defer client.Close()

	_, err := performHandshake(client, BuildLoginTemplate(1, 1), Credentials{}, 0)
	var unexpected *UnexpectedError
	if !errors.As(err, &unexpected) {
		t.Fatalf("got %v want *UnexpectedError", err)
	}
	if unexpected.ID != 0x0666 {
		t.Fatalf("id: got 0x%04x", unexpected.ID)
	}
	waitServer(t, errc)
}

func TestHandshakeUnexpectedMalformed(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		// right id, payload far too short to decode
		return WriteFrame(conn, MsgLoginValidate, make([]byte, 10))
	})
	defer client.Close()

	_, err := performHandshake(client, BuildLoginTemplate(1, 1), Credentials{}, 0)
	var unexpected *UnexpectedError
	if !errors.As(err, &unexpected) {
		t.Fatalf("got %v want *UnexpectedError", err)
	}
	waitServer(t, errc)
}

func TestHandshakeTruncatedReply(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		_, err := conn.Write([]byte{0x10, 0x00, 0xf8, 0x01, 0xaa}) // then close mid-payload
		return err
	})
	defer client.Close()

	_, err := performHandshake(client, BuildLoginTemplate(1, 1), Credentials{}, 0)
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("got %v want ErrTruncatedFrame", err)
	}
	waitServer(t, errc)
}

func TestGameLoginGranted(t *testing.T) {
	creds := Credentials{UserID: 4242, AccessKey: "unused here"}
	client, errc := serveOnce(t, func(conn net.Conn) error {
		f, err := ReadFrame(conn, 0)
		if err != nil {
			return err
		}
		if f.ID != MsgConnectGameServer {
			return fmt.Errorf("request id: got 0x%04x", f.ID)
		}
		if len(f.Payload) != 176 {
			return fmt.Errorf("request length: got %d", len(f.Payload))
		}
		if got := binary.LittleEndian.Uint64(f.Payload[4:12]); got != 4242 {
			return fmt.Errorf("user id field: got %d", got)
		}
		if !bytes.Equal(f.Payload[12:20], []byte("LOGINKEY")) {
			return fmt.Errorf("login key field: got %x", f.Payload[12:20])
		}
		if got := binary.LittleEndian.Uint32(f.Payload[168:172]); got != 0x1111 {
			return fmt.Errorf("sign field: got 0x%x", got)
		}
		return WriteFrame(conn, MsgGameLogin, gameLoginPayload(0, 4242, "abcdefgh"))
	})
	defer client.Close()

	g, cipher, err := performGameLogin(client, creds, "LOGINKEY", 0x1111, 0x2222, 0)
	if err != nil {
		t.Fatalf("game login: %v", err)
	}
	if g.UserID != 4242 || string(g.SessionKey) != "abcdefgh" {
		t.Fatalf("reply: got %+v", g)
	}
	if cipher == nil {
		t.Fatalf("no cipher for granted login")
	}
	data := []byte("16 byte payload!")
	orig := append([]byte(nil), data...)
	cipher.encrypt(data)
	cipher.decrypt(data)
	if !bytes.Equal(data, orig) {
		t.Fatalf("granted cipher does not round trip")
	}
	waitServer(t, errc)
}

func TestGameLoginRejected(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		return WriteFrame(conn, MsgGameLogin, gameLoginPayload(9, 4242, ""))
	})
	defer client.Close()

	_, _, err := performGameLogin(client, Credentials{UserID: 4242}, "LK", 0, 0, 0)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("got %v want *RejectError", err)
	}
	if reject.Stage != "game" || reject.Code != 9 {
		t.Fatalf("got stage %q code %d", reject.Stage, reject.Code)
	}
	waitServer(t, errc)
}

func TestGameLoginUnusableKey(t *testing.T) {
	client, errc := serveOnce(t, func(conn net.Conn) error {
		if _, err := ReadFrame(conn, 0); err != nil {
			return err
		}
		// a key DES cannot take marks the reply unusable, not rejected
		return WriteFrame(conn, MsgGameLogin, gameLoginPayload(0, 4242, "bad"))
	})
	defer client.Close()

	_, _, err := performGameLogin(client, Credentials{UserID: 4242}, "LK", 0, 0, 0)
	var unexpected *UnexpectedError
	if !errors.As(err, &unexpected) {
		t.Fatalf("got %v want *UnexpectedError", err)
	}
	waitServer(t, errc)
}
