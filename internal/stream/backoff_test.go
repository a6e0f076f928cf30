package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	bo := newBackoff(5*time.Second, 80*time.Second)

	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		80 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, bo.Next(), "step %d", i)
	}
}

func TestBackoffReset(t *testing.T) {
	bo := newBackoff(time.Second, time.Minute)
	bo.Next()
	bo.Next()
	bo.Reset()
	assert.Equal(t, time.Second, bo.Next())
}

func TestBackoffDefaults(t *testing.T) {
	bo := newBackoff(0, 0)
	assert.Equal(t, 5*time.Second, bo.Next())

	// Cap below base is clamped up to the base.
	bo = newBackoff(10*time.Second, time.Second)
	assert.Equal(t, 10*time.Second, bo.Next())
	assert.Equal(t, 10*time.Second, bo.Next())
}
