// Package framedconn wraps a stream connection with the frame codec and a
// payload serializer, giving each endpoint synchronous Send and Receive calls.
// A receive that times out before any byte arrives is not an error: it reports
// "no message" so callers can poll.
package framedconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/frame"
	"github.com/cyberinferno/go-duel/serializer"
)

var (
	// ErrConnectionClosed is returned when the peer or the local side closed
	// the stream during a read or write.
	ErrConnectionClosed = errors.New("connection closed")

	ErrMessageTooLarge = frame.ErrMessageTooLarge
	ErrMalformedHeader = frame.ErrMalformedHeader
	ErrIncompleteFrame = frame.ErrIncompleteFrame
)

// FrameObserver is notified of every complete frame. Implementations must be
// safe for concurrent use.
type FrameObserver interface {
	FrameSent(payloadBytes int)
	FrameReceived(payloadBytes int)
}

// Options configures a Connection.
type Options struct {
	// Codec frames payloads; required.
	Codec *frame.Codec
	// Serializer encodes values; serializer.Default() when nil.
	Serializer serializer.Serializer
	// WriteTimeout bounds each Send; 0 means no timeout.
	WriteTimeout time.Duration
	// Observer receives frame counts; may be nil.
	Observer FrameObserver
}

// OptionsFromConfig builds Options from the protocol and timeout settings.
//
// Parameters:
//   - cfg: A validated configuration
//   - observer: Optional frame observer, may be nil
//
// Returns:
//   - The options, or an error if the codec or serializer settings are invalid
func OptionsFromConfig(cfg *config.Config, observer FrameObserver) (Options, error) {
	codec, err := cfg.Codec()
	if err != nil {
		return Options{}, err
	}

	ser, err := cfg.Serializer()
	if err != nil {
		return Options{}, err
	}

	return Options{
		Codec:        codec,
		Serializer:   ser,
		WriteTimeout: cfg.WriteTimeout(),
		Observer:     observer,
	}, nil
}

// Connection owns one stream socket and exchanges framed messages over it.
// Send and Receive are synchronous. One goroutine may send while another
// receives, but concurrent sends (or concurrent receives) must be serialized by
// the caller. Close may be called from any goroutine.
type Connection struct {
	conn         net.Conn
	codec        *frame.Codec
	serializer   serializer.Serializer
	writeTimeout time.Duration
	observer     FrameObserver
	closed       atomic.Bool
}

// New wraps conn. The Connection takes ownership of conn and closes it on Close.
//
// Parameters:
//   - conn: An established stream connection
//   - opts: Codec, serializer and timeouts
//
// Returns:
//   - The Connection
func New(conn net.Conn, opts Options) *Connection {
	if opts.Serializer == nil {
		opts.Serializer = serializer.Default()
	}

	return &Connection{
		conn:         conn,
		codec:        opts.Codec,
		serializer:   opts.Serializer,
		writeTimeout: opts.WriteTimeout,
		observer:     opts.Observer,
	}
}

// Send serializes v and writes it as one frame.
//
// Parameters:
//   - v: The value to send
//
// Returns:
//   - nil on success
//   - An error wrapping serializer.ErrSerialization, ErrMessageTooLarge (nothing
//     written) or ErrConnectionClosed
func (c *Connection) Send(v any) error {
	payload, err := c.serializer.Marshal(v)
	if err != nil {
		return err
	}

	return c.SendBytes(payload)
}

// SendBytes writes payload as one frame without serializing it.
//
// Parameters:
//   - payload: The raw payload
//
// Returns:
//   - nil on success, ErrMessageTooLarge before any write, or a write error
func (c *Connection) SendBytes(payload []byte) error {
	f, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return classify("set write deadline", err)
		}

		defer func() {
			_ = c.conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, err := c.conn.Write(f); err != nil {
		return classify("write frame", err)
	}

	if c.observer != nil {
		c.observer.FrameSent(len(payload))
	}

	return nil
}

// Receive waits up to timeout for one frame and decodes it into v, which must
// be a non-nil pointer.
//
// Parameters:
//   - timeout: How long to wait for the frame to start; 0 or less waits forever
//   - v: Pointer receiving the decoded value
//
// Returns:
//   - true and nil when a message was decoded
//   - false and nil when no message started before the timeout
//   - false and an error for closed connections, malformed or incomplete
//     frames, or payloads that fail to decode
func (c *Connection) Receive(timeout time.Duration, v any) (bool, error) {
	payload, ok, err := c.ReceiveBytes(timeout)
	if err != nil || !ok {
		return false, err
	}

	if err := c.serializer.Unmarshal(payload, v); err != nil {
		return false, err
	}

	return true, nil
}

// ReceiveBytes is Receive without decoding: it returns the raw payload.
func (c *Connection) ReceiveBytes(timeout time.Duration) ([]byte, bool, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, classify("set read deadline", err)
	}

	payload, err := c.codec.ReadFrame(c.conn)
	switch {
	case err == nil:
	case errors.Is(err, frame.ErrMalformedHeader):
		return nil, false, err
	case errors.Is(err, frame.ErrIncompleteFrame) && isTimeout(err):
		return nil, false, err
	case isTimeout(err):
		return nil, false, nil
	default:
		return nil, false, classify("read frame", err)
	}

	if c.observer != nil {
		c.observer.FrameReceived(len(payload))
	}

	return payload, true, nil
}

// Close closes the underlying connection. It is safe to call multiple times;
// only the first call returns the close error.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// LocalAddr returns the local address as host:port.
func (c *Connection) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// LocalPort returns the local port, or 0 for non-TCP connections.
func (c *Connection) LocalPort() int {
	if a, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
		return a.Port
	}

	return 0
}

// RemoteAddr returns the peer address as host:port.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func classify(op string, err error) error {
	if isClosed(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrConnectionClosed, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
