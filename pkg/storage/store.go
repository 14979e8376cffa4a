package storage

import (
	"context"
	"time"

	"hkracing-scraper/pkg/models"
)

// Store is the persistence contract the orchestrator writes through. All
// upserts key on natural keys, so re-scraping is idempotent. Implementations
// enforce uniqueness; callers never pre-check for existence except through
// MeetingExists, which drives skip-if-present scope resolution.
type Store interface {
	// MeetingExists reports whether a meeting is already persisted for the
	// given date. An empty venue code matches any venue.
	MeetingExists(ctx context.Context, date time.Time, venueCode string) (bool, error)

	// UpsertMeeting inserts or updates by (date, venue) and returns the row id.
	UpsertMeeting(ctx context.Context, m *models.Meeting) (int64, error)

	// UpsertRace inserts or overwrites by (meeting, race no). Results may be
	// legitimately re-scraped before finality; overwrite, never append.
	UpsertRace(ctx context.Context, meetingID int64, r *models.Race) (int64, error)

	UpsertHorse(ctx context.Context, h *models.HorseRef) (int64, error)
	UpsertJockey(ctx context.Context, j *models.JockeyRef) (int64, error)
	UpsertTrainer(ctx context.Context, t *models.TrainerRef) (int64, error)

	// UpsertRunner inserts or overwrites by (race, horse).
	UpsertRunner(ctx context.Context, raceID, horseID, jockeyID, trainerID int64, r *models.Runner) (int64, error)

	// ReplaceSectionals overwrites a runner's section rows by (runner, section no).
	ReplaceSectionals(ctx context.Context, runnerID int64, secs []models.Sectional) error

	// LastProfile returns the current snapshot for a horse and the time it
	// was last observed, or nil when the horse has never been profiled.
	LastProfile(ctx context.Context, horseID int64) (*models.HorseProfile, time.Time, error)

	// CreateProfile inserts the first snapshot. No history row is written.
	CreateProfile(ctx context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error

	// RefreshProfile updates the current snapshot's fields and advances its
	// last-observed timestamp.
	RefreshProfile(ctx context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error

	// AppendProfileHistory appends one immutable snapshot stamped with the
	// time it was last observed. Callers pass the superseded snapshot, not
	// the incoming one, so history always holds the prior values.
	AppendProfileHistory(ctx context.Context, horseID int64, p *models.HorseProfile, capturedAt time.Time) error

	// RunnerIDsByRace maps horse number to runner id for one race.
	RunnerIDsByRace(ctx context.Context, raceID int64) (map[int]int64, error)

	// RacesByDate maps race number to race id across every meeting held on
	// the given date.
	RacesByDate(ctx context.Context, date time.Time) (map[int]int64, error)

	// InsertOddsSamples appends samples keyed by (runner, bet type, observed
	// time). Duplicate keys are silent no-ops; the count of genuinely new
	// rows is returned.
	InsertOddsSamples(ctx context.Context, byHorseNo map[int]int64, samples []models.OddsSample) (int, error)

	// RunInUnit executes fn inside one transactional unit. A returned error
	// rolls back every write the unit made.
	RunInUnit(ctx context.Context, fn func(ctx context.Context, unit Store) error) error
}
