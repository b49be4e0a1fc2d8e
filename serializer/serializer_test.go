package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type playerState struct {
	Name   string   `msgpack:"name"`
	Score  int      `msgpack:"score"`
	Hand   []string `msgpack:"hand"`
	Active bool     `msgpack:"active"`
}

type sessionState struct {
	Round   uint32            `msgpack:"round"`
	Players []playerState     `msgpack:"players"`
	Board   map[string]int    `msgpack:"board"`
	Meta    map[string]string `msgpack:"meta,omitempty"`
	Winner  *playerState      `msgpack:"winner,omitempty"`
}

func TestLookup(t *testing.T) {
	t.Run("known names", func(t *testing.T) {
		for _, name := range []string{"msgpack", "text"} {
			s, err := Lookup(name)
			require.NoError(t, err)
			assert.Equal(t, name, s.Name())
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := Lookup("pickle")
		assert.Error(t, err)
	})

	t.Run("names are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"msgpack", "text"}, Names())
	})

	t.Run("default is msgpack", func(t *testing.T) {
		assert.Equal(t, MsgpackName, Default().Name())
	})
}

func TestMsgpack_RoundTrip(t *testing.T) {
	s := Msgpack{}

	t.Run("strings", func(t *testing.T) {
		for _, want := range []string{"", "hello", "Ready to play !", "héllo wörld", "日本語"} {
			data, err := s.Marshal(want)
			require.NoError(t, err)

			var got string
			require.NoError(t, s.Unmarshal(data, &got))
			assert.Equal(t, want, got)
		}
	})

	t.Run("string into interface", func(t *testing.T) {
		data, err := s.Marshal("Ready to play !")
		require.NoError(t, err)

		var got any
		require.NoError(t, s.Unmarshal(data, &got))
		assert.Equal(t, "Ready to play !", got)
	})

	t.Run("nil into interface", func(t *testing.T) {
		data, err := s.Marshal(nil)
		require.NoError(t, err)

		var got any = "previous"
		require.NoError(t, s.Unmarshal(data, &got))
		assert.Nil(t, got)
	})

	t.Run("nested records", func(t *testing.T) {
		want := sessionState{
			Round: 7,
			Players: []playerState{
				{Name: "alice", Score: 12, Hand: []string{"a", "b"}, Active: true},
				{Name: "bob", Score: -3, Hand: []string{}},
			},
			Board:  map[string]int{"a1": 1, "b2": 2, "c3": 0},
			Meta:   map[string]string{"mode": "ranked"},
			Winner: &playerState{Name: "alice", Score: 12, Hand: []string{"a"}},
		}

		data, err := s.Marshal(want)
		require.NoError(t, err)

		var got sessionState
		require.NoError(t, s.Unmarshal(data, &got))
		assert.Equal(t, want, got)
	})

	t.Run("equal maps encode identically", func(t *testing.T) {
		a := map[string]any{}
		b := map[string]any{}
		for i, k := range []string{"x", "y", "z", "w", "v"} {
			a[k] = i
		}
		for i, k := range []string{"v", "w", "z", "y", "x"} {
			b[k] = 4 - i
		}

		da, err := s.Marshal(a)
		require.NoError(t, err)
		db, err := s.Marshal(b)
		require.NoError(t, err)
		assert.Equal(t, da, db)
	})

	t.Run("record gains a field", func(t *testing.T) {
		type v1 struct {
			Round uint32 `msgpack:"round"`
		}

		data, err := s.Marshal(sessionState{Round: 3, Meta: map[string]string{"k": "v"}})
		require.NoError(t, err)

		var got v1
		require.NoError(t, s.Unmarshal(data, &got))
		assert.Equal(t, uint32(3), got.Round)
	})
}

func TestMsgpack_Errors(t *testing.T) {
	s := Msgpack{}

	t.Run("unsupported value", func(t *testing.T) {
		_, err := s.Marshal(make(chan int))
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("truncated payload", func(t *testing.T) {
		data, err := s.Marshal("hello")
		require.NoError(t, err)

		var got string
		err = s.Unmarshal(data[:3], &got)
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("type mismatch", func(t *testing.T) {
		data, err := s.Marshal("hello")
		require.NoError(t, err)

		var got int
		assert.ErrorIs(t, s.Unmarshal(data, &got), ErrSerialization)
	})
}

func TestText(t *testing.T) {
	s := Text{}

	t.Run("string is sent raw", func(t *testing.T) {
		data, err := s.Marshal("hello")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("round trip into string", func(t *testing.T) {
		for _, want := range []string{"", "Ready to play !", "héllo"} {
			data, err := s.Marshal(want)
			require.NoError(t, err)

			var got string
			require.NoError(t, s.Unmarshal(data, &got))
			assert.Equal(t, want, got)
		}
	})

	t.Run("round trip into interface", func(t *testing.T) {
		var got any
		require.NoError(t, s.Unmarshal([]byte("No match found"), &got))
		assert.Equal(t, "No match found", got)
	})

	t.Run("bytes are copied", func(t *testing.T) {
		in := []byte("abc")
		data, err := s.Marshal(in)
		require.NoError(t, err)
		in[0] = 'z'
		assert.Equal(t, []byte("abc"), data)

		var out []byte
		require.NoError(t, s.Unmarshal(data, &out))
		data[0] = 'q'
		assert.Equal(t, []byte("abc"), out)
	})

	t.Run("nil encodes empty", func(t *testing.T) {
		data, err := s.Marshal(nil)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("records are rejected", func(t *testing.T) {
		_, err := s.Marshal(sessionState{})
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("invalid utf8 is rejected", func(t *testing.T) {
		var got string
		assert.ErrorIs(t, s.Unmarshal([]byte{0xff, 0xfe}, &got), ErrSerialization)

		_, err := s.Marshal(string([]byte{0xff}))
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("unsupported target", func(t *testing.T) {
		var got int
		assert.ErrorIs(t, s.Unmarshal([]byte("1"), &got), ErrSerialization)
	})
}
