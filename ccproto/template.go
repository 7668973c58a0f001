package ccproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Credentials identify a captured account session. AccessKey is a bearer
// secret and must never appear in logs.
type Credentials struct {
	UserID    uint64
	AccessKey string
}

// TemplateLayout locates the byte regions inside a login template that get
// rewritten per attempt. Layouts are versioned because the request shape
// drifts across client releases, and a stale layout has to fail loudly
// instead of patching garbage into the handshake.
type TemplateLayout struct {
	Version   int
	UserIDOff int
	KeyOff    int
	KeyLen    int
}

// LayoutV1 describes the 3.8.x login request body: client version u32,
// user id u64, access key padded to 512 bytes, game id u32, 8 reserved
// bytes.
func LayoutV1() TemplateLayout {
	return TemplateLayout{Version: 1, UserIDOff: 4, KeyOff: 12, KeyLen: 512}
}

// ErrTemplateLayout reports a layout whose regions do not fit the
// template, or credentials that do not fit the layout.
var ErrTemplateLayout = errors.New("template layout mismatch")

const loginTemplateSize = 536

// LoginTemplate is a login request body plus the layout describing its
// patchable regions. The body is cloned on Patch and never mutated.
type LoginTemplate struct {
	body   []byte
	layout TemplateLayout
}

// NewLoginTemplate checks the layout's regions against the body before
// anything gets sent with it.
func NewLoginTemplate(body []byte, layout TemplateLayout) (LoginTemplate, error) {
	if layout.Version != 1 {
		return LoginTemplate{}, fmt.Errorf("unknown layout version %d: %w", layout.Version, ErrTemplateLayout)
	}
	if layout.UserIDOff < 0 || layout.UserIDOff+8 > len(body) {
		return LoginTemplate{}, fmt.Errorf("user id region at %d outside %d byte body: %w",
			layout.UserIDOff, len(body), ErrTemplateLayout)
	}
	if layout.KeyOff < 0 || layout.KeyLen <= 0 || layout.KeyOff+layout.KeyLen > len(body) {
		return LoginTemplate{}, fmt.Errorf("key region %d+%d outside %d byte body: %w",
			layout.KeyOff, layout.KeyLen, len(body), ErrTemplateLayout)
	}
	return LoginTemplate{body: append([]byte(nil), body...), layout: layout}, nil
}

// BuildLoginTemplate assembles the standard v1 login request body with the
// credential regions zeroed.
func BuildLoginTemplate(clientVersion, gameID uint32) LoginTemplate {
	body := make([]byte, loginTemplateSize)
	binary.LittleEndian.PutUint32(body[0:4], clientVersion)
	binary.LittleEndian.PutUint32(body[524:528], gameID)
	t, err := NewLoginTemplate(body, LayoutV1())
	if err != nil {
		// regions are in range by construction
		panic(err)
	}
	return t
}

// Len returns the template body size in bytes.
func (t LoginTemplate) Len() int { return len(t.body) }

// ParseLoginRequest recovers the credentials and client identity from a
// captured v1 login request body. It is the inverse of Patch for the
// standard layout.
func ParseLoginRequest(body []byte) (Credentials, uint32, uint32, error) {
	if len(body) != loginTemplateSize {
		return Credentials{}, 0, 0, fmt.Errorf("login request of %d bytes, want %d: %w",
			len(body), loginTemplateSize, ErrTemplateLayout)
	}
	key := body[12:524]
	if i := bytes.IndexByte(key, 0); i >= 0 {
		key = key[:i]
	}
	creds := Credentials{
		UserID:    binary.LittleEndian.Uint64(body[4:12]),
		AccessKey: string(key),
	}
	clientVersion := binary.LittleEndian.Uint32(body[0:4])
	gameID := binary.LittleEndian.Uint32(body[524:528])
	return creds, clientVersion, gameID, nil
}

// Patch returns a copy of the template with the credentials written into
// the layout's regions. Equal inputs produce byte-identical output.
func (t LoginTemplate) Patch(creds Credentials) ([]byte, error) {
	if len(t.body) == 0 {
		return nil, fmt.Errorf("empty template: %w", ErrTemplateLayout)
	}
	if len(creds.AccessKey) > t.layout.KeyLen {
		return nil, fmt.Errorf("access key of %d bytes over %d byte region: %w",
			len(creds.AccessKey), t.layout.KeyLen, ErrTemplateLayout)
	}
	out := append([]byte(nil), t.body...)
	binary.LittleEndian.PutUint64(out[t.layout.UserIDOff:], creds.UserID)
	key := out[t.layout.KeyOff : t.layout.KeyOff+t.layout.KeyLen]
	for i := range key {
		key[i] = 0
	}
	copy(key, creds.AccessKey)
	return out, nil
}
