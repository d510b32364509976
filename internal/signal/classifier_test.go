package signal

import (
	"testing"
	"time"

	"sync-pair-backend/internal/clock"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_FirstEventNeverRapid(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewClassifier(clk)

	assert.False(t, c.Observe())
}

func TestClassifier_UnderThresholdIsRapid(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewClassifier(clk)

	c.Observe()
	clk.Advance(400 * time.Millisecond)
	assert.True(t, c.Observe())
}

func TestClassifier_OverThresholdIsNotRapid(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewClassifier(clk)

	c.Observe()
	clk.Advance(600 * time.Millisecond)
	assert.False(t, c.Observe())
}

func TestClassifier_ExactThresholdIsNotRapid(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := NewClassifier(clk)

	c.Observe()
	clk.Advance(RapidThreshold)
	assert.False(t, c.Observe())
}

func TestClassifier_StreamsAreIndependent(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sent := NewClassifier(clk)
	received := NewClassifier(clk)

	sent.Observe()
	clk.Advance(100 * time.Millisecond)

	// The received stream has no prior event; the sent stream does.
	assert.False(t, received.Observe())
	assert.True(t, sent.Observe())
}
