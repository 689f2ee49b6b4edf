package util

import (
	"crypto/rand"
	"encoding/hex"
)

// idBytes gives 96 bits of randomness, enough that id collisions are
// not a practical concern while keeping ids short in Redis lock keys
// and log lines.
const idBytes = 12

// NewID returns a prefixed random identifier, e.g. "cs_3f9a...".
func NewID(prefix string) string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
