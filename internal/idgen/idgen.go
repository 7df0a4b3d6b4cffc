// Package idgen provides random ID generation.
package idgen

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 24 random hex chars, e.g. "wd_", "wh_".
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string of the given byte length.
func Hex(numBytes int) string {
	var sb strings.Builder
	for sb.Len() < numBytes*2 {
		u := uuid.New()
		sb.WriteString(hex.EncodeToString(u[:]))
	}
	return sb.String()[:numBytes*2]
}
