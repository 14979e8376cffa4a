package models

import "time"

// Meeting identifies one race day at one venue. Unique per (date, venue).
type Meeting struct {
	Date      time.Time
	VenueCode string // "ST" (Sha Tin) or "HV" (Happy Valley)
	VenueName string
	Season    string
	SourceURL string
}

// Race holds the header fields of a single race. Unique per (meeting, race no).
type Race struct {
	RaceNo       int
	NameCN       string
	ClassText    string
	DistanceM    int
	Going        string
	Course       string // Turf course letter or all-weather track
	PrizeHKD     int64
	SourceURL    string
	SectionalURL string
}

// HorseRef is the master-table reference for a horse observed on a result page.
type HorseRef struct {
	Code        string // Brand number, e.g. "J344"
	NameCN      string
	AuthorityID string // Site horse id, e.g. "HK_2023_J344"
	ProfileURL  string
}

// JockeyRef is the master-table reference for a jockey.
type JockeyRef struct {
	Code   string
	NameCN string
}

// TrainerRef is the master-table reference for a trainer.
type TrainerRef struct {
	Code   string
	NameCN string
}

// Runner is one horse's performance in one race. Unique per (race, horse);
// carries only that race's outcome and is never historized.
type Runner struct {
	HorseCode      string
	JockeyCode     string
	TrainerCode    string
	HorseNo        int
	FinishOrder    string // Placing text; can be "WV", "DISQ" etc., not always numeric
	DrawNo         int
	ActualWeight   int // Carried weight in lbs
	DeclaredWeight int
	LBW            string // Lengths behind winner
	FinishTime     string
	WinOdds        float64
}

// Sectional is one runner's time through one section of the race.
// Keyed by (runner, section no).
type Sectional struct {
	HorseCode   string
	SectionNo   int
	TimeSeconds float64
	Position    int
}

// HorseProfile is the snapshot of a horse's profile page. The change tracker
// compares its tracked fields against the last persisted snapshot.
type HorseProfile struct {
	AuthorityID       string
	Origin            string
	Age               *int
	Colour            string
	Sex               string
	ImportType        string
	SeasonPrizeHKD    *int64
	LifetimePrizeHKD  *int64
	RecordWins        *int
	RecordSeconds     *int
	RecordThirds      *int
	RecordStarts      *int
	Last10Starts      string
	CurrentLocation   string
	OwnerName         string
	CurrentRating     *int
	SeasonStartRating *int
	SireName          string
	DamName           string
	DamSireName       string
	SourceURL         string
}

// OddsSample is one observation of one horse's odds for one bet type.
// Keyed by (runner, bet type, observed time); strictly append-only.
type OddsSample struct {
	HorseNo    int
	BetType    string
	ObservedAt time.Time
	Value      float64
	SourceURL  string
}

// RaceBundle groups everything parsed for a single race page plus the
// per-race sub-fetches (sectionals, first-seen horse profiles).
type RaceBundle struct {
	Meeting    Meeting
	Race       Race
	Horses     []HorseRef
	Jockeys    []JockeyRef
	Trainers   []TrainerRef
	Runners    []Runner
	Sectionals []Sectional
	Profiles   []HorseProfile
}

// RaceLink is one entry of the per-date race index page.
type RaceLink struct {
	URL       string
	VenueCode string
	RaceNo    int
}
