// Package frame implements the length-prefixed wire format shared by the lobby
// server and its clients. Every frame is a fixed-width ASCII decimal header,
// left-justified and space padded, followed by exactly that many payload bytes.
package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// DefaultHeaderSize is the header width used when none is configured.
	DefaultHeaderSize = 10
	// DefaultMaxSize is the default upper bound of a payload in bytes.
	DefaultMaxSize = 4096
	// maxHeaderSize bounds the header so any parsed value fits in a uint64.
	maxHeaderSize = 20
)

var (
	// ErrMessageTooLarge is returned when a payload exceeds the codec's MaxSize.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrMalformedHeader is returned when a header is not a decimal length within
	// bounds. The stream is desynchronized and must not be read further.
	ErrMalformedHeader = errors.New("malformed frame header")
	// ErrIncompleteFrame is returned when the stream ends or stalls inside a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// Codec encodes and decodes frames for one header width and size limit. A Codec
// is immutable and safe for concurrent use.
type Codec struct {
	headerSize int
	maxSize    int
}

// NewCodec returns a Codec for the given header width and maximum payload size.
//
// Parameters:
//   - headerSize: Width of the ASCII length header in bytes
//   - maxSize: Largest payload accepted by Encode and Decode
//
// Returns:
//   - The Codec, or an error if maxSize cannot be written in headerSize digits
func NewCodec(headerSize, maxSize int) (*Codec, error) {
	if headerSize < 1 || headerSize > maxHeaderSize {
		return nil, fmt.Errorf("header size %d out of range 1..%d", headerSize, maxHeaderSize)
	}

	if maxSize < 0 {
		return nil, fmt.Errorf("max size %d is negative", maxSize)
	}

	if digits := len(strconv.Itoa(maxSize)); digits > headerSize {
		return nil, fmt.Errorf("max size %d needs %d digits, header holds %d", maxSize, digits, headerSize)
	}

	return &Codec{headerSize: headerSize, maxSize: maxSize}, nil
}

// HeaderSize returns the fixed header width in bytes.
func (c *Codec) HeaderSize() int {
	return c.headerSize
}

// MaxSize returns the largest payload the codec accepts.
func (c *Codec) MaxSize() int {
	return c.maxSize
}

// Header renders the header for a payload of n bytes.
//
// Parameters:
//   - n: The payload length
//
// Returns:
//   - The header bytes, exactly HeaderSize long
//   - ErrMessageTooLarge if n exceeds MaxSize
func (c *Codec) Header(n int) ([]byte, error) {
	if n > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, n, c.maxSize)
	}

	h := []byte(strconv.Itoa(n))
	for len(h) < c.headerSize {
		h = append(h, ' ')
	}

	return h, nil
}

// Encode returns a complete frame for the payload: header followed by payload.
//
// Parameters:
//   - payload: The bytes to frame
//
// Returns:
//   - The frame, or ErrMessageTooLarge if the payload exceeds MaxSize
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	h, err := c.Header(len(payload))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(h)+len(payload))
	out = append(out, h...)
	return append(out, payload...), nil
}

// ParseHeader decodes a header into the payload length it announces.
//
// Parameters:
//   - h: The header bytes, exactly HeaderSize long
//
// Returns:
//   - The payload length
//   - ErrMalformedHeader if h is not a decimal length within MaxSize
func (c *Codec) ParseHeader(h []byte) (int, error) {
	if len(h) != c.headerSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedHeader, len(h), c.headerSize)
	}

	text := strings.TrimSpace(string(h))
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedHeader, h)
	}

	if n > uint64(c.maxSize) {
		return 0, fmt.Errorf("%w: length %d exceeds limit %d", ErrMalformedHeader, n, c.maxSize)
	}

	return int(n), nil
}

// WriteFrame writes payload as a single frame with one Write call.
//
// Parameters:
//   - w: The destination stream
//   - payload: The bytes to send
//
// Returns:
//   - ErrMessageTooLarge before anything is written if the payload is too big,
//     otherwise the error from w
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	f, err := c.Encode(payload)
	if err != nil {
		return err
	}

	_, err = w.Write(f)
	return err
}

// ReadFrame reads one complete frame from r and returns its payload. Partial
// reads are accumulated until the header and then the full payload arrive.
//
// Errors from r are returned unwrapped when no byte of the frame has been read,
// so callers can tell an idle stream (timeout, io.EOF) from a broken one. Once
// any byte has arrived, a read failure is wrapped in ErrIncompleteFrame.
//
// Parameters:
//   - r: The source stream
//
// Returns:
//   - The payload
//   - An error as described above, or ErrMalformedHeader
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	h := make([]byte, c.headerSize)
	n, err := io.ReadFull(r, h)
	if err != nil {
		if n == 0 {
			return nil, err
		}

		return nil, fmt.Errorf("%w: header %d/%d bytes: %w", ErrIncompleteFrame, n, c.headerSize, err)
	}

	size, err := c.ParseHeader(h)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, size)
	if n, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload %d/%d bytes: %w", ErrIncompleteFrame, n, size, err)
	}

	return payload, nil
}
