package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("first id follows the start value", func(t *testing.T) {
		gen := NewIdGenerator(0)
		require.NotNil(t, gen)
		assert.Equal(t, uint32(1), gen.Id())
	})

	t.Run("seeded from a previous run", func(t *testing.T) {
		gen := NewIdGenerator(41)
		assert.Equal(t, uint32(41), gen.Last())
		assert.Equal(t, uint32(42), gen.Id())
		assert.Equal(t, uint32(42), gen.Last())
	})

	t.Run("wraps past zero", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0) - 1)
		assert.Equal(t, ^uint32(0), gen.Id())
		assert.Equal(t, uint32(1), gen.Id())
		assert.Equal(t, uint32(2), gen.Id())
	})
}

func TestIdGenerator_Id(t *testing.T) {
	t.Run("sequential ids", func(t *testing.T) {
		gen := NewIdGenerator(1000)
		for want := uint32(1001); want <= 1010; want++ {
			assert.Equal(t, want, gen.Id())
		}
	})

	t.Run("concurrent ids are unique", func(t *testing.T) {
		gen := NewIdGenerator(0)
		const n = 500
		ids := make([]uint32, n)

		var wg sync.WaitGroup
		wg.Add(n)
		for i := range n {
			go func() {
				defer wg.Done()
				ids[i] = gen.Id()
			}()
		}
		wg.Wait()

		seen := make(map[uint32]bool, n)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
		assert.Equal(t, uint32(n), gen.Last())
	})
}
