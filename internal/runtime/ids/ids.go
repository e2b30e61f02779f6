// Package ids creates the identifiers used by records and by transport messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Connector messages are keyed with it so transports that dedupe by id keep
// per-resource order.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewInstanceID returns a fresh identifier for a record instance.
func NewInstanceID() uuid.UUID {
	return uuid.New()
}

// ParseInstanceID parses the textual form of an instance identifier.
func ParseInstanceID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
