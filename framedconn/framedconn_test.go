package framedconn

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/frame"
	"github.com/cyberinferno/go-duel/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu           sync.Mutex
	sent, recv   int
	sentB, recvB int
}

func (o *countingObserver) FrameSent(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent++
	o.sentB += n
}

func (o *countingObserver) FrameReceived(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recv++
	o.recvB += n
}

// recordingConn is a net.Conn that records writes and fails everything else.
type recordingConn struct {
	net.Conn
	written []byte
	writes  int
}

func (r *recordingConn) Write(p []byte) (int, error) {
	r.writes++
	r.written = append(r.written, p...)
	return len(p), nil
}

func (r *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func testOptions(t *testing.T, s serializer.Serializer) Options {
	t.Helper()
	codec, err := frame.NewCodec(10, 4096)
	require.NoError(t, err)
	return Options{Codec: codec, Serializer: s, WriteTimeout: time.Second}
}

// rawPair returns a Connection and the raw peer socket it talks to.
func rawPair(t *testing.T, opts Options) (*Connection, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer, ok := <-accepted
	require.True(t, ok)

	c := New(client, opts)
	t.Cleanup(func() {
		_ = c.Close()
		_ = peer.Close()
	})
	return c, peer
}

// pair returns two Connections joined over loopback TCP.
func pair(t *testing.T, opts Options) (*Connection, *Connection) {
	t.Helper()
	a, peer := rawPair(t, opts)
	b := New(peer, opts)
	t.Cleanup(func() { _ = b.Close() })
	return a, b
}

func TestConnection_HelloScenario(t *testing.T) {
	c, peer := rawPair(t, testOptions(t, serializer.Text{}))

	require.NoError(t, c.Send("hello"))

	buf := make([]byte, 15)
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "5         ", string(buf[:10]))
	assert.Equal(t, "hello", string(buf[10:]))

	_, err = peer.Write(buf)
	require.NoError(t, err)

	var got string
	ok, err := c.Receive(time.Second, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestConnection_RoundTrip(t *testing.T) {
	type state struct {
		Round   int               `msgpack:"round"`
		Players []string          `msgpack:"players"`
		Scores  map[string]string `msgpack:"scores"`
	}

	a, b := pair(t, testOptions(t, serializer.Msgpack{}))

	t.Run("string", func(t *testing.T) {
		require.NoError(t, a.Send("Ready to play !"))

		var got any
		ok, err := b.Receive(time.Second, &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Ready to play !", got)
	})

	t.Run("record", func(t *testing.T) {
		want := state{Round: 3, Players: []string{"p1", "p2"}, Scores: map[string]string{"p1": "10"}}
		require.NoError(t, b.Send(want))

		var got state
		ok, err := a.Receive(time.Second, &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("back to back frames keep boundaries", func(t *testing.T) {
		for _, s := range []string{"one", "two", "three"} {
			require.NoError(t, a.Send(s))
		}
		for _, want := range []string{"one", "two", "three"} {
			var got string
			ok, err := b.Receive(time.Second, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
	})
}

func TestConnection_SizeGuard(t *testing.T) {
	t.Run("oversized value writes nothing", func(t *testing.T) {
		rc := &recordingConn{}
		c := New(rc, testOptions(t, serializer.Text{}))

		err := c.Send(strings.Repeat("x", 4097))
		assert.ErrorIs(t, err, ErrMessageTooLarge)
		assert.Zero(t, rc.writes)
		assert.Empty(t, rc.written)
	})

	t.Run("value at the limit is one write", func(t *testing.T) {
		rc := &recordingConn{}
		c := New(rc, testOptions(t, serializer.Text{}))

		require.NoError(t, c.Send(strings.Repeat("x", 4096)))
		assert.Equal(t, 1, rc.writes)
		assert.Len(t, rc.written, 10+4096)
		assert.Equal(t, "4096      ", string(rc.written[:10]))
	})

	t.Run("peer sees nothing after a rejected send", func(t *testing.T) {
		a, b := pair(t, testOptions(t, serializer.Msgpack{}))

		assert.ErrorIs(t, a.Send(strings.Repeat("y", 5000)), ErrMessageTooLarge)

		var got string
		ok, err := b.Receive(100*time.Millisecond, &got)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, a.Send("small"))
		ok, err = b.Receive(time.Second, &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "small", got)
	})
}

func TestConnection_ReceiveTimeout(t *testing.T) {
	a, _ := pair(t, testOptions(t, serializer.Msgpack{}))

	timeout := 150 * time.Millisecond
	start := time.Now()
	var got any
	ok, err := a.Receive(timeout, &got)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, elapsed, timeout-10*time.Millisecond)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)

	assert.False(t, a.Closed(), "a timed out receive leaves the connection usable")
}

func TestConnection_PartialDelivery(t *testing.T) {
	c, peer := rawPair(t, testOptions(t, serializer.Text{}))

	go func() {
		for _, chunk := range []string{"1", "1        ", "he", "llo", " world"} {
			_, _ = peer.Write([]byte(chunk))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var got string
	ok, err := c.Receive(2*time.Second, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", got)
}

func TestConnection_ReceiveErrors(t *testing.T) {
	t.Run("peer closes before any frame", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Text{}))
		require.NoError(t, peer.Close())

		var got string
		ok, err := c.Receive(time.Second, &got)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("peer closes mid frame", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Text{}))
		_, err := peer.Write([]byte("10        abc"))
		require.NoError(t, err)
		require.NoError(t, peer.Close())

		var got string
		ok, err := c.Receive(time.Second, &got)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, err, ErrIncompleteFrame)
	})

	t.Run("peer stalls mid frame", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Text{}))
		_, err := peer.Write([]byte("10        abc"))
		require.NoError(t, err)

		var got string
		ok, err := c.Receive(100*time.Millisecond, &got)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrIncompleteFrame)
		assert.NotErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("malformed header", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Text{}))
		_, err := peer.Write([]byte("not-a-len!payload"))
		require.NoError(t, err)

		var got string
		ok, err := c.Receive(time.Second, &got)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("announced length over the limit", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Text{}))
		_, err := peer.Write([]byte("99999     "))
		require.NoError(t, err)

		var got string
		_, err = c.Receive(time.Second, &got)
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("payload fails to decode", func(t *testing.T) {
		c, peer := rawPair(t, testOptions(t, serializer.Msgpack{}))
		_, err := peer.Write([]byte("1         \xc1"))
		require.NoError(t, err)

		var got any
		ok, err := c.Receive(time.Second, &got)
		assert.False(t, ok)
		assert.ErrorIs(t, err, serializer.ErrSerialization)
	})

	t.Run("receive after local close", func(t *testing.T) {
		c, _ := rawPair(t, testOptions(t, serializer.Text{}))
		require.NoError(t, c.Close())

		var got string
		_, err := c.Receive(time.Second, &got)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})
}

func TestConnection_SendErrors(t *testing.T) {
	t.Run("send after local close", func(t *testing.T) {
		c, _ := rawPair(t, testOptions(t, serializer.Text{}))
		require.NoError(t, c.Close())

		assert.ErrorIs(t, c.Send("late"), ErrConnectionClosed)
	})

	t.Run("unsupported value", func(t *testing.T) {
		rc := &recordingConn{}
		c := New(rc, testOptions(t, serializer.Text{}))

		assert.ErrorIs(t, c.Send(42), serializer.ErrSerialization)
		assert.Zero(t, rc.writes)
	})
}

func TestConnection_Observer(t *testing.T) {
	obs := &countingObserver{}
	opts := testOptions(t, serializer.Text{})
	opts.Observer = obs
	a, b := pair(t, opts)

	require.NoError(t, a.Send("abc"))
	require.NoError(t, a.Send("de"))
	for i := 0; i < 2; i++ {
		var s string
		ok, err := b.Receive(time.Second, &s)
		require.NoError(t, err)
		require.True(t, ok)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.sent)
	assert.Equal(t, 5, obs.sentB)
	assert.Equal(t, 2, obs.recv)
	assert.Equal(t, 5, obs.recvB)
}

func TestConnection_Addresses(t *testing.T) {
	c, peer := rawPair(t, testOptions(t, nil))

	assert.Equal(t, peer.RemoteAddr().String(), c.LocalAddr())
	assert.Equal(t, peer.LocalAddr().String(), c.RemoteAddr())
	assert.Equal(t, peer.RemoteAddr().(*net.TCPAddr).Port, c.LocalPort())
	assert.Equal(t, serializer.MsgpackName, c.serializer.Name())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	c, _ := rawPair(t, testOptions(t, nil))

	assert.False(t, c.Closed())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
	assert.NoError(t, c.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol.Serializer = serializer.TextName

	obs := &countingObserver{}
	opts, err := OptionsFromConfig(cfg, obs)
	require.NoError(t, err)
	assert.Equal(t, 10, opts.Codec.HeaderSize())
	assert.Equal(t, 4096, opts.Codec.MaxSize())
	assert.Equal(t, serializer.TextName, opts.Serializer.Name())
	assert.Equal(t, cfg.WriteTimeout(), opts.WriteTimeout)
	assert.Same(t, obs, opts.Observer)

	cfg.Protocol.Serializer = "pickle"
	_, err = OptionsFromConfig(cfg, nil)
	assert.Error(t, err)
}
