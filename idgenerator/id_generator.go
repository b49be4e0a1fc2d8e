// Package idgenerator hands out lobby IDs. IDs are never 0, so a zero ID can
// mean "no lobby" in records and log entries.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing uint32 IDs and is safe for concurrent use.
// After reaching the maximum uint32 the sequence wraps to 1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates a generator whose first Id is startValue+1. A server
// seeds it with the highest ID already stored so that IDs of a previous run
// are not reused.
//
// Parameters:
//   - startValue: The last ID considered taken
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID.
//
// Returns:
//   - The next non-zero uint32 ID
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued ID, or the start value if Id has not
// been called yet.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
