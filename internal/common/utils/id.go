// Package utils provides small helpers shared across the timing engines:
// backoff math, cancellable sleeps, retries and identifiers.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a random UUID identifying one timing session.
func NewSessionID() string {
	return uuid.NewString()
}

// CacheBustToken returns a short random hex token for cache-defeating query
// parameters. It falls back to the clock when the random source fails.
func CacheBustToken() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
