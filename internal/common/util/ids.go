package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/renstrom/shortuuid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewULID returns a lower case, lexicographically sortable unique id.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewJobId returns a short, url-safe unique id for a job.
func NewJobId() string {
	return shortuuid.New()
}

// ClientName returns a NATS connection name unique to this process, e.g. matcher-01g...
func ClientName(component string) string {
	return component + "-" + NewULID()
}
