// Package history keeps a TTL-bounded record of finished lobbies so operators
// can inspect recent outcomes. Two stores are provided: an in-process one
// backed by go-cache and a shared one backed by redis.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyPrefix is prepended to every record key.
const KeyPrefix = "lobby:"

// ErrNotFound is returned by Get when no record exists for the ID.
var ErrNotFound = errors.New("lobby record not found")

// Record describes one finished lobby.
type Record struct {
	ID           uint32    `json:"id"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	Players      []string  `json:"players,omitempty"`
	Confirmation string    `json:"confirmation,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration is how long the lobby ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists lobby records for a limited time.
type Store interface {
	// Save stores rec under its ID, replacing any earlier record with that ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - rec: The record to store
	//
	// Returns:
	//   - An error if the record could not be stored
	Save(ctx context.Context, rec Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id uint32) (Record, error)

	// Recent returns up to limit records, most recently finished first. A
	// limit of 0 or less returns every stored record.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Clear removes every record and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// LastID returns the highest stored lobby ID, or 0 when the store is empty.
	// Servers seed their lobby ID generator with it.
	LastID(ctx context.Context) (uint32, error)
}

func recordKey(id uint32) string {
	return fmt.Sprintf("%s%d", KeyPrefix, id)
}

// keyID parses the lobby ID out of a record key.
func keyID(key string) (uint32, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}

	return uint32(id), true
}

// maxID returns the highest lobby ID found among keys.
func maxID(keys []string) uint32 {
	var last uint32
	for _, key := range keys {
		if id, ok := keyID(key); ok && id > last {
			last = id
		}
	}

	return last
}

// newestFirst sorts records by finish time, then ID, descending, and trims to limit.
func newestFirst(records []Record, limit int) []Record {
	sort.Slice(records, func(i, j int) bool {
		if records[i].FinishedAt.Equal(records[j].FinishedAt) {
			return records[i].ID > records[j].ID
		}

		return records[i].FinishedAt.After(records[j].FinishedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records
}
