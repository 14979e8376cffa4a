package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkracing-scraper/pkg/models"
)

func TestOddsPage_DataAttributes(t *testing.T) {
	page := `<html><body>
<table id="odds_table" data-race-num="1">
  <tr data-date-time="2026-01-14 12:08:00">
    <td>12:08</td>
    <td data-horse-num="1">3.5</td>
    <td data-horse-num="2">12</td>
    <td data-horse-num="3">-</td>
  </tr>
  <tr data-date-time="2026-01-14 12:10:00">
    <td>12:10</td>
    <td data-horse-num="1">3.6</td>
    <td data-horse-num="2">11</td>
  </tr>
</table>
</body></html>`
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	samples, err := OddsPage([]byte(page), raceDate, models.FacetWin, "https://example.com/odds")
	require.NoError(t, err)
	require.Len(t, samples, 4)

	assert.Equal(t, 1, samples[0].HorseNo)
	assert.Equal(t, "w", samples[0].BetType)
	assert.Equal(t, 3.5, samples[0].Value)
	assert.Equal(t, time.Date(2026, 1, 14, 12, 8, 0, 0, hkt), samples[0].ObservedAt)
	assert.Equal(t, "https://example.com/odds", samples[0].SourceURL)

	assert.Equal(t, 2, samples[3].HorseNo)
	assert.Equal(t, 11.0, samples[3].Value)
	assert.Equal(t, time.Date(2026, 1, 14, 12, 10, 0, 0, hkt), samples[3].ObservedAt)
}

func TestOddsPage_DiscountsTableColumnFallback(t *testing.T) {
	page := `<html><body>
<table id="discounts_table">
  <tr><td>23:59</td><td>4.2</td><td>-</td><td>8.8</td></tr>
  <tr><td>00:01</td><td>4.0</td><td>15</td><td>9.0</td></tr>
</table>
</body></html>`
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	samples, err := OddsPage([]byte(page), raceDate, models.FacetBetWin, "u")
	require.NoError(t, err)
	require.Len(t, samples, 5)

	// No data-horse-num attributes: columns 2..n map to horses 1..n-1.
	assert.Equal(t, 1, samples[0].HorseNo)
	assert.Equal(t, 4.2, samples[0].Value)
	assert.Equal(t, 3, samples[1].HorseNo)
	assert.Equal(t, "bet-w", samples[0].BetType)

	// First row is before midnight relative to the second.
	assert.Equal(t, time.Date(2026, 1, 13, 23, 59, 0, 0, hkt), samples[0].ObservedAt)
	assert.Equal(t, time.Date(2026, 1, 14, 0, 1, 0, 0, hkt), samples[2].ObservedAt)
}

func TestOddsPage_FallbackTableByClockPattern(t *testing.T) {
	page := `<html><body>
<table><tr><td>something</td></tr></table>
<table>
  <tr><td>12:08</td><td data-horse-num="1">3.5</td></tr>
</table>
</body></html>`
	raceDate := time.Date(2026, 1, 14, 0, 0, 0, 0, hkt)
	samples, err := OddsPage([]byte(page), raceDate, models.FacetPlace, "u")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 3.5, samples[0].Value)
}

func TestOddsPage_EmptyPage(t *testing.T) {
	samples, err := OddsPage([]byte(`<html><body><p>not open</p></body></html>`), time.Now(), models.FacetWin, "u")
	require.NoError(t, err)
	assert.Empty(t, samples)
}
