package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClockReturnsPinnedInstant(t *testing.T) {
	at := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
	clock := FixedClock{At: at}
	assert.True(t, clock.Now().Equal(at))
}

func TestRealClockReturnsUTC(t *testing.T) {
	clock := RealClock{}
	assert.Equal(t, time.UTC, clock.Now().Location())
}
