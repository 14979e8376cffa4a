package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// MeetingRow is a (date, venue) race meeting.
type MeetingRow struct {
	bun.BaseModel `bun:"table:meetings,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Date      time.Time `bun:"date,notnull,type:date"`
	VenueCode string    `bun:"venue_code,notnull"`
	VenueName string    `bun:"venue_name"`
	Season    string    `bun:"season"`
	SourceURL string    `bun:"source_url"`
}

// RaceRow is one race of a meeting.
type RaceRow struct {
	bun.BaseModel `bun:"table:races,alias:rc"`

	ID           int64  `bun:"id,pk,autoincrement"`
	MeetingID    int64  `bun:"meeting_id,notnull"`
	RaceNo       int    `bun:"race_no,notnull"`
	NameCN       string `bun:"name_cn"`
	ClassText    string `bun:"class_text"`
	DistanceM    int    `bun:"distance_m"`
	Going        string `bun:"going"`
	Course       string `bun:"course"`
	PrizeHKD     int64  `bun:"prize_hkd"`
	SourceURL    string `bun:"source_url"`
	SectionalURL string `bun:"sectional_url"`

	Meeting *MeetingRow `bun:"rel:belongs-to,join:meeting_id=id"`
}

// HorseRow is the horse master record.
type HorseRow struct {
	bun.BaseModel `bun:"table:horses,alias:h"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Code        string `bun:"code,notnull,unique"`
	NameCN      string `bun:"name_cn"`
	AuthorityID string `bun:"authority_id"`
	ProfileURL  string `bun:"profile_url"`
}

// JockeyRow is the jockey master record.
type JockeyRow struct {
	bun.BaseModel `bun:"table:jockeys,alias:j"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Code   string `bun:"code,notnull,unique"`
	NameCN string `bun:"name_cn"`
}

// TrainerRow is the trainer master record.
type TrainerRow struct {
	bun.BaseModel `bun:"table:trainers,alias:t"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Code   string `bun:"code,notnull,unique"`
	NameCN string `bun:"name_cn"`
}

// RunnerRow joins a race and a horse for one performance. It carries only
// that race's outcome and is never historized.
type RunnerRow struct {
	bun.BaseModel `bun:"table:runners,alias:rn"`

	ID             int64   `bun:"id,pk,autoincrement"`
	RaceID         int64   `bun:"race_id,notnull"`
	HorseID        int64   `bun:"horse_id,notnull"`
	JockeyID       int64   `bun:"jockey_id"`
	TrainerID      int64   `bun:"trainer_id"`
	HorseNo        int     `bun:"horse_no"`
	FinishOrder    string  `bun:"finish_order"`
	DrawNo         int     `bun:"draw_no"`
	ActualWeight   int     `bun:"actual_weight"`
	DeclaredWeight int     `bun:"declared_weight"`
	LBW            string  `bun:"lbw"`
	FinishTime     string  `bun:"finish_time"`
	WinOdds        float64 `bun:"win_odds"`

	Race  *RaceRow  `bun:"rel:belongs-to,join:race_id=id"`
	Horse *HorseRow `bun:"rel:belongs-to,join:horse_id=id"`
}

// SectionalRow is one horse's time over one section of a race.
type SectionalRow struct {
	bun.BaseModel `bun:"table:horse_sectionals,alias:hs"`

	ID          int64   `bun:"id,pk,autoincrement"`
	RunnerID    int64   `bun:"runner_id,notnull"`
	SectionNo   int     `bun:"section_no,notnull"`
	Position    int     `bun:"position"`
	TimeSeconds float64 `bun:"time_seconds"`
}

// ProfileRow is the current-state snapshot of a horse's profile, one row per
// horse. Changes are captured in ProfileHistoryRow; this row is always the
// latest state.
type ProfileRow struct {
	bun.BaseModel `bun:"table:horse_profiles,alias:hp"`

	ID                int64     `bun:"id,pk,autoincrement"`
	HorseID           int64     `bun:"horse_id,notnull,unique"`
	Origin            string    `bun:"origin"`
	Age               *int      `bun:"age"`
	Colour            string    `bun:"colour"`
	Sex               string    `bun:"sex"`
	ImportType        string    `bun:"import_type"`
	SeasonPrizeHKD    *int64    `bun:"season_prize_hkd"`
	LifetimePrizeHKD  *int64    `bun:"lifetime_prize_hkd"`
	RecordWins        *int      `bun:"record_wins"`
	RecordSeconds     *int      `bun:"record_seconds"`
	RecordThirds      *int      `bun:"record_thirds"`
	RecordStarts      *int      `bun:"record_starts"`
	Last10Starts      string    `bun:"last10_starts"`
	CurrentLocation   string    `bun:"current_location"`
	OwnerName         string    `bun:"owner_name"`
	CurrentRating     *int      `bun:"current_rating"`
	SeasonStartRating *int      `bun:"season_start_rating"`
	SireName          string    `bun:"sire_name"`
	DamName           string    `bun:"dam_name"`
	DamSireName       string    `bun:"dam_sire_name"`
	SourceURL         string    `bun:"source_url"`
	FirstObservedAt   time.Time `bun:"first_observed_at,notnull"`
	LastObservedAt    time.Time `bun:"last_observed_at,notnull"`
}

// ProfileHistoryRow is one appended snapshot of a horse's profile. Rows are
// never updated or deleted.
type ProfileHistoryRow struct {
	bun.BaseModel `bun:"table:horse_profile_history,alias:hph"`

	ID                int64     `bun:"id,pk,autoincrement"`
	HorseID           int64     `bun:"horse_id,notnull"`
	CapturedAt        time.Time `bun:"captured_at,notnull"`
	Origin            string    `bun:"origin"`
	Age               *int      `bun:"age"`
	Colour            string    `bun:"colour"`
	Sex               string    `bun:"sex"`
	ImportType        string    `bun:"import_type"`
	SeasonPrizeHKD    *int64    `bun:"season_prize_hkd"`
	LifetimePrizeHKD  *int64    `bun:"lifetime_prize_hkd"`
	RecordWins        *int      `bun:"record_wins"`
	RecordSeconds     *int      `bun:"record_seconds"`
	RecordThirds      *int      `bun:"record_thirds"`
	RecordStarts      *int      `bun:"record_starts"`
	Last10Starts      string    `bun:"last10_starts"`
	CurrentLocation   string    `bun:"current_location"`
	OwnerName         string    `bun:"owner_name"`
	CurrentRating     *int      `bun:"current_rating"`
	SeasonStartRating *int      `bun:"season_start_rating"`
	SireName          string    `bun:"sire_name"`
	DamName           string    `bun:"dam_name"`
	DamSireName       string    `bun:"dam_sire_name"`
	SourceURL         string    `bun:"source_url"`
}

// OddsSampleRow is one observation of one runner's odds for one bet type.
// Append-only; re-observing an existing key is a no-op.
type OddsSampleRow struct {
	bun.BaseModel `bun:"table:odds_samples,alias:os"`

	ID         int64     `bun:"id,pk,autoincrement"`
	RunnerID   int64     `bun:"runner_id,notnull"`
	BetType    string    `bun:"bet_type,notnull"`
	ObservedAt time.Time `bun:"observed_at,notnull"`
	Value      float64   `bun:"value,notnull"`
	SourceURL  string    `bun:"source_url"`
}

// CreateTables creates all tables in dependency order and installs the
// natural-key constraints the upserts rely on.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*MeetingRow)(nil),
		(*HorseRow)(nil),
		(*JockeyRow)(nil),
		(*TrainerRow)(nil),
		(*RaceRow)(nil),
		(*RunnerRow)(nil),
		(*SectionalRow)(nil),
		(*ProfileRow)(nil),
		(*ProfileHistoryRow)(nil),
		(*OddsSampleRow)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	constraints := []string{
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'meetings_no_dupes') THEN ALTER TABLE meetings ADD CONSTRAINT meetings_no_dupes UNIQUE (date, venue_code); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'races_no_dupes') THEN ALTER TABLE races ADD CONSTRAINT races_no_dupes UNIQUE (meeting_id, race_no); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'runners_no_dupes') THEN ALTER TABLE runners ADD CONSTRAINT runners_no_dupes UNIQUE (race_id, horse_id); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'sectionals_no_dupes') THEN ALTER TABLE horse_sectionals ADD CONSTRAINT sectionals_no_dupes UNIQUE (runner_id, section_no); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'odds_no_dupes') THEN ALTER TABLE odds_samples ADD CONSTRAINT odds_no_dupes UNIQUE (runner_id, bet_type, observed_at); END IF; END $$`,
	}
	for _, stmt := range constraints {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("installing constraint: %w", err)
		}
	}
	return nil
}
