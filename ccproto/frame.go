package ccproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire framing: a 4-byte header holding a little-endian u16 total size
// (header included) followed by a u16 message id, then the payload.
const (
	frameHeaderSize = 4

	// DefaultMaxFrameSize bounds declared frame sizes when the caller does
	// not supply a limit. The u16 size field cannot describe more.
	DefaultMaxFrameSize = 0xFFFF
)

var (
	// ErrFrameTooLarge reports a header declaring a size above the limit.
	// No payload memory is allocated for such frames.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrTruncatedFrame reports a stream that ended mid-frame. A clean
	// close between frames surfaces as io.EOF instead.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrFrameHeader reports a header that cannot be valid, such as a
	// declared size smaller than the header itself.
	ErrFrameHeader = errors.New("malformed frame header")
)

// Frame is one length-delimited message, split into id and payload. The
// payload never aliases reader internals.
type Frame struct {
	ID      uint16
	Payload []byte
}

// Size returns the on-wire size of the frame including its header.
func (f Frame) Size() int { return frameHeaderSize + len(f.Payload) }

// ReadFrame reads a single frame from r. max bounds the declared frame
// size; values <= 0 select DefaultMaxFrameSize. io.EOF before the first
// header byte means the peer closed cleanly between frames.
func ReadFrame(r io.Reader, max int) (Frame, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Frame{}, fmt.Errorf("frame header: %w", ErrTruncatedFrame)
		}
		return Frame{}, err
	}
	size := int(binary.LittleEndian.Uint16(hdr[0:2]))
	id := binary.LittleEndian.Uint16(hdr[2:4])
	if size < frameHeaderSize {
		return Frame{}, fmt.Errorf("declared size %d: %w", size, ErrFrameHeader)
	}
	if size > max {
		return Frame{}, fmt.Errorf("declared size %d over limit %d: %w", size, max, ErrFrameTooLarge)
	}
	payload := make([]byte, size-frameHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, fmt.Errorf("frame payload: %w", ErrTruncatedFrame)
		}
		return Frame{}, err
	}
	return Frame{ID: id, Payload: payload}, nil
}

// ParseFrame scans buf for one complete frame. It returns the frame and
// the number of bytes it occupied, or n == 0 when buf does not yet hold a
// complete frame.
func ParseFrame(buf []byte, max int) (Frame, int, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	if len(buf) < frameHeaderSize {
		return Frame{}, 0, nil
	}
	size := int(binary.LittleEndian.Uint16(buf[0:2]))
	if size < frameHeaderSize {
		return Frame{}, 0, fmt.Errorf("declared size %d: %w", size, ErrFrameHeader)
	}
	if size > max {
		return Frame{}, 0, fmt.Errorf("declared size %d over limit %d: %w", size, max, ErrFrameTooLarge)
	}
	if len(buf) < size {
		return Frame{}, 0, nil
	}
	payload := append([]byte(nil), buf[frameHeaderSize:size]...)
	return Frame{ID: binary.LittleEndian.Uint16(buf[2:4]), Payload: payload}, size, nil
}

// WriteFrame writes one frame to w as a single buffered write so a frame
// is never interleaved with another writer's bytes.
func WriteFrame(w io.Writer, id uint16, payload []byte) error {
	size := frameHeaderSize + len(payload)
	if size > 0xFFFF {
		return fmt.Errorf("payload of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(size))
	binary.LittleEndian.PutUint16(buf[2:4], id)
	copy(buf[frameHeaderSize:], payload)
	return writeAll(w, buf)
}

// writeAll writes the entirety of data to w, returning an error if the
// write fails or is short.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
