package signal

import (
	"sync"
	"time"

	"sync-pair-backend/internal/clock"
)

// RapidThreshold is the gap under which consecutive pulses count as rapid.
const RapidThreshold = 500 * time.Millisecond

// Classifier tracks the time of the last observed event in one stream
// (sent pulses, received pulses) and classifies each new event as rapid
// when it follows the previous one within RapidThreshold. Classification
// affects presentation only, never delivery.
type Classifier struct {
	clock clock.Clock

	mu   sync.Mutex
	last time.Time
}

// NewClassifier creates a classifier for one event stream.
func NewClassifier(clk clock.Clock) *Classifier {
	return &Classifier{clock: clk}
}

// Observe records an event and reports whether it was rapid.
func (c *Classifier) Observe() bool {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	rapid := !c.last.IsZero() && now.Sub(c.last) < RapidThreshold
	c.last = now
	return rapid
}
