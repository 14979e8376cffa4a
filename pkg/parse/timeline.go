package parse

import (
	"time"
)

const fullTimestampLayout = "2006-01-02 15:04:05"

// ResolveTimeSeries resolves a chronological list of timestamp strings into
// absolute times in the origin's timezone. Rows may carry either a full
// "YYYY-MM-DD HH:MM:SS" timestamp or a bare clock time; bare times are
// anchored by walking backwards from raceDate, stepping to the previous day
// whenever the clock jumps forward while scanning backwards. That handles
// series that start before midnight the night before the meeting.
//
// Entries that cannot be parsed resolve to the zero time and keep their slot
// so indexes stay aligned with the input.
func ResolveTimeSeries(raceDate time.Time, stamps []string) []time.Time {
	if len(stamps) == 0 {
		return nil
	}

	type parsed struct {
		full bool
		at   time.Time // full timestamps only
		ok   bool
		h, m, s int
	}

	items := make([]parsed, len(stamps))
	for i, ts := range stamps {
		if len(ts) >= 19 {
			if dt, err := time.ParseInLocation(fullTimestampLayout, ts, hkt); err == nil {
				items[i] = parsed{full: true, at: dt, ok: true}
				continue
			}
		}
		if t, err := time.Parse("15:04:05", ts); err == nil {
			items[i] = parsed{ok: true, h: t.Hour(), m: t.Minute(), s: t.Second()}
			continue
		}
		if t, err := time.Parse("15:04", ts); err == nil {
			items[i] = parsed{ok: true, h: t.Hour(), m: t.Minute()}
		}
	}

	resolved := make([]time.Time, len(stamps))
	day := time.Date(raceDate.Year(), raceDate.Month(), raceDate.Day(), 0, 0, 0, 0, hkt)
	prevClock := -1

	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if !it.ok {
			continue
		}
		if it.full {
			resolved[i] = it.at
			day = time.Date(it.at.Year(), it.at.Month(), it.at.Day(), 0, 0, 0, 0, hkt)
			prevClock = it.at.Hour()*3600 + it.at.Minute()*60 + it.at.Second()
			continue
		}
		clock := it.h*3600 + it.m*60 + it.s
		if prevClock >= 0 && clock > prevClock {
			day = day.AddDate(0, 0, -1)
		}
		resolved[i] = day.Add(time.Duration(clock) * time.Second)
		prevClock = clock
	}
	return resolved
}
