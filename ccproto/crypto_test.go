package ccproto

import (
	"bytes"
	"testing"
)

func TestPayloadCipherRoundTrip(t *testing.T) {
	c, err := newPayloadCipher([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	orig := []byte("0123456789abcdefghij") // 20 bytes: two blocks plus a 4-byte tail
	data := append([]byte(nil), orig...)
	c.encrypt(data)
	if bytes.Equal(data[:16], orig[:16]) {
		t.Fatalf("aligned prefix not encrypted")
	}
	if !bytes.Equal(data[16:], orig[16:]) {
		t.Fatalf("unaligned tail was touched: got %x want %x", data[16:], orig[16:])
	}
	c.decrypt(data)
	if !bytes.Equal(data, orig) {
		t.Fatalf("round trip: got %x want %x", data, orig)
	}
}

func TestPayloadCipherShortData(t *testing.T) {
	c, err := newPayloadCipher([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	data := []byte{1, 2, 3, 4, 5}
	c.encrypt(data)
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("sub-block payload must pass through untouched: got %x", data)
	}
}

// The key field on the wire is 16 bytes with NUL padding; the padded and
// stripped forms must produce the same keystream.
func TestPayloadCipherKeyPadding(t *testing.T) {
	padded := append([]byte("abcdefgh"), make([]byte, 8)...)
	a, err := newPayloadCipher(padded)
	if err != nil {
		t.Fatalf("padded key: %v", err)
	}
	b, err := newPayloadCipher([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("bare key: %v", err)
	}
	x := []byte("block--1block--2")
	y := append([]byte(nil), x...)
	a.encrypt(x)
	b.encrypt(y)
	if !bytes.Equal(x, y) {
		t.Fatalf("padded and stripped keys disagree")
	}
}

func TestPayloadCipherBadKey(t *testing.T) {
	if _, err := newPayloadCipher([]byte("short")); err == nil {
		t.Fatalf("5 byte key accepted")
	}
	if _, err := newPayloadCipher([]byte("twelve_chars")); err == nil {
		t.Fatalf("12 byte key accepted")
	}
	if _, err := newPayloadCipher(nil); err == nil {
		t.Fatalf("empty key accepted")
	}
}
