package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFresh(t *testing.T) {
	now := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsFresh(now, now.Add(-1*time.Minute), 5*time.Minute))
	assert.False(t, IsFresh(now, now.Add(-10*time.Minute), 5*time.Minute))
	assert.False(t, IsFresh(now, time.Time{}, 5*time.Minute))
}

func TestSelectHistoryTTL(t *testing.T) {
	lastExpected := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	previous := time.Date(2024, time.January, 12, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, TTLCurrentTradingDay, SelectHistoryTTL(lastExpected, lastExpected, previous))
	assert.Equal(t, TTLPreviousDayOnly, SelectHistoryTTL(previous, lastExpected, previous))
	assert.Equal(t, TTLHistorical, SelectHistoryTTL(previous.AddDate(0, 0, -5), lastExpected, previous))
}
