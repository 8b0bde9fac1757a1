// Package testutil holds deterministic stand-ins shared by package tests and
// the scenario harness.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the wall-clock start of every fake clock built here.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewFakeClock returns a fake clock set to Epoch.
func NewFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// SequentialIDs generates "<prefix>-0001", "<prefix>-0002", ... for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// Reset restarts the sequence so the next id ends in 0001.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
