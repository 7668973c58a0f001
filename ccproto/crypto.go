package ccproto

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// payloadCipher applies the session cipher the game server hands out after
// login: single DES in ECB mode over the 8-byte aligned prefix of a
// payload, with any unaligned tail left in the clear. The key is the
// NUL-stripped value of the 16-byte key field in the game login reply.
type payloadCipher struct {
	block cipher.Block
}

func newPayloadCipher(key []byte) (*payloadCipher, error) {
	k := bytes.TrimRight(key, "\x00")
	block, err := des.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("session key of %d bytes: %w", len(k), err)
	}
	return &payloadCipher{block: block}, nil
}

func (c *payloadCipher) encrypt(data []byte) {
	bs := c.block.BlockSize()
	n := len(data) / bs * bs
	for i := 0; i < n; i += bs {
		c.block.Encrypt(data[i:i+bs], data[i:i+bs])
	}
}

func (c *payloadCipher) decrypt(data []byte) {
	bs := c.block.BlockSize()
	n := len(data) / bs * bs
	for i := 0; i < n; i += bs {
		c.block.Decrypt(data[i:i+bs], data[i:i+bs])
	}
}
