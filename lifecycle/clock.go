package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CLOCK - Injected so every timestamp is reproducible in tests
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock returns a fixed instant until moved.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d and returns the new instant.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// =============================================================================
// ID GENERATION
// =============================================================================

// IDGenerator produces prefixed opaque identifiers ("ORR-3f2c...").
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator issues random v4 identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// SequentialIDs issues name-based v5 identifiers derived from a namespace and
// a counter, so repeated runs produce the same ids.
type SequentialIDs struct {
	Namespace uuid.UUID

	mu  sync.Mutex
	seq int
}

func NewSequentialIDs(namespace string) *SequentialIDs {
	return &SequentialIDs{Namespace: uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace))}
}

func (g *SequentialIDs) NewID(prefix string) string {
	g.mu.Lock()
	g.seq++
	n := g.seq
	g.mu.Unlock()
	id := uuid.NewSHA1(g.Namespace, []byte(fmt.Sprintf("%s-%d", prefix, n)))
	return prefix + "-" + id.String()
}
