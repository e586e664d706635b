package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates record ids "rec-000001", "rec-000002", ...
//
// Unlike recordid.FixedGenerator it never runs out, and it can be reset so
// the same test body produces identical ids on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu  sync.Mutex
	seq int64
}

// NewSequentialIDs returns a generator whose first id is "rec-000001".
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("rec-%06d", g.seq)
}

// Count returns how many ids were generated since the last Reset.
func (g *SequentialIDs) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
