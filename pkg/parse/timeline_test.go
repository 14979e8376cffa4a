package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTimeSeries_SameDay(t *testing.T) {
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	got := ResolveTimeSeries(raceDate, []string{"09:30", "11:00", "12:45"})
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2026, 1, 14, 9, 30, 0, 0, hkt), got[0])
	assert.Equal(t, time.Date(2026, 1, 14, 11, 0, 0, 0, hkt), got[1])
	assert.Equal(t, time.Date(2026, 1, 14, 12, 45, 0, 0, hkt), got[2])
}

func TestResolveTimeSeries_MidnightCrossover(t *testing.T) {
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	got := ResolveTimeSeries(raceDate, []string{"23:00", "23:59", "00:01", "12:00"})
	require.Len(t, got, 4)
	assert.Equal(t, time.Date(2026, 1, 13, 23, 0, 0, 0, hkt), got[0])
	assert.Equal(t, time.Date(2026, 1, 13, 23, 59, 0, 0, hkt), got[1])
	assert.Equal(t, time.Date(2026, 1, 14, 0, 1, 0, 0, hkt), got[2])
	assert.Equal(t, time.Date(2026, 1, 14, 12, 0, 0, 0, hkt), got[3])
}

func TestResolveTimeSeries_FullTimestampsAnchorDates(t *testing.T) {
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	got := ResolveTimeSeries(raceDate, []string{"22:15", "2026-01-14 08:00:00", "09:30:00"})
	require.Len(t, got, 3)
	// The full timestamp pins its own date; the bare time before it crosses
	// back over midnight, the one after follows race day as usual.
	assert.Equal(t, time.Date(2026, 1, 13, 22, 15, 0, 0, hkt), got[0])
	assert.Equal(t, time.Date(2026, 1, 14, 8, 0, 0, 0, hkt), got[1])
	assert.Equal(t, time.Date(2026, 1, 14, 9, 30, 0, 0, hkt), got[2])
}

func TestResolveTimeSeries_UnparseableKeepsSlot(t *testing.T) {
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	got := ResolveTimeSeries(raceDate, []string{"09:00", "garbage", "10:00"})
	require.Len(t, got, 3)
	assert.False(t, got[0].IsZero())
	assert.True(t, got[1].IsZero())
	assert.False(t, got[2].IsZero())
}

func TestResolveTimeSeries_Empty(t *testing.T) {
	assert.Nil(t, ResolveTimeSeries(time.Now(), nil))
}
