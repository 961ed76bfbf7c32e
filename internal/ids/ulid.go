// Package ids provides ID primitives for messages and envelopes.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// The millisecond timestamp component plus 80 bits of randomness is exactly
// the "coarse timestamp + random suffix" construction message ids need:
// unique per sender-session without any cross-client coordination.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
