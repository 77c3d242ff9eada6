package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-character random hex identifier, used for rows, request
// tracing, and JWT jti values.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
