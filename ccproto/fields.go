package ccproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// ErrMalformedPayload reports a payload too short or inconsistent for its
// message id.
var ErrMalformedPayload = errors.New("malformed payload")

// fieldReader walks a payload sequentially. A read past the end sets err
// and every later read returns a zero value, so err is checked once after
// the walk.
type fieldReader struct {
	data []byte
	off  int
	err  error
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{data: data}
}

func (r *fieldReader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("offset %d of %d: %w", r.off, len(r.data), ErrMalformedPayload)
	}
}

// take returns the next n bytes without copying. Callers copy when they
// retain the slice past the payload's lifetime.
func (r *fieldReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.fail()
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *fieldReader) skip(n int) {
	r.take(n)
}

func (r *fieldReader) remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.data) - r.off
}

func (r *fieldReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *fieldReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *fieldReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// bytesN returns a copy of the next n bytes.
func (r *fieldReader) bytesN(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// stringN consumes a fixed n-byte field whose text runs to the first NUL.
func (r *fieldReader) stringN(n int) string {
	b := r.take(n)
	if b == nil {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return decodeText(b)
}

// decodeText converts wire text to UTF-8. Latin-locale clients send UTF-8
// but CJK clients send GB18030, so bytes that are not valid UTF-8 go
// through the GB18030 decoder before falling back to the raw bytes.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if s, err := simplifiedchinese.GB18030.NewDecoder().Bytes(b); err == nil {
		return string(s)
	}
	return string(b)
}
