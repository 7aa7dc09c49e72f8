package util

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a new ULID string.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID for the given instant. IDs generated in the same
// millisecond stay lexically ordered.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewPrefixed returns prefix + "_" + ULID, e.g. "ord_01J…".
func NewPrefixed(prefix string) string {
	return prefix + "_" + New()
}
