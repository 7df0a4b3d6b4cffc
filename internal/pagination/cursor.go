// Package pagination provides opaque cursors for newest-first listings keyed
// by an increasing sequence number, such as raffle rounds.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const prefix = "r:"

// Cursor is a position in a newest-first listing. The next page holds the
// items whose sequence is strictly below Before.
type Cursor struct {
	Before uint64
}

// Encode returns an opaque cursor pointing just below seq.
func Encode(seq uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(prefix + strconv.FormatUint(seq, 10)))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	rest, ok := strings.CutPrefix(string(raw), prefix)
	if !ok {
		return nil, fmt.Errorf("invalid cursor")
	}
	seq, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || seq == 0 {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{Before: seq}, nil
}

// BeforeOf returns the upper bound a (possibly nil) cursor imposes; 0 means
// no bound.
func BeforeOf(c *Cursor) uint64 {
	if c == nil {
		return 0
	}
	return c.Before
}

// ComputePage takes items fetched with limit+1, the requested limit and a
// function returning an item's sequence. It returns the trimmed items, the
// next cursor and whether more items exist.
func ComputePage[T any](items []T, limit int, seq func(T) uint64) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, Encode(seq(items[len(items)-1])), true
}
