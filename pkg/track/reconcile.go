package track

import (
	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/models"
)

// Action is the write decision for one profile snapshot
type Action string

const (
	// ActionCreate inserts the first snapshot; no history row is written.
	ActionCreate Action = "create"
	// ActionRefresh advances bookkeeping only; tracked fields are unchanged.
	ActionRefresh Action = "refresh"
	// ActionHistorize updates the current snapshot and appends a history row.
	ActionHistorize Action = "historize"
)

// String implements fmt.Stringer for logging
func (a Action) String() string {
	return string(a)
}

// Tracker decides whether a freshly parsed profile snapshot causes a write.
// It never touches storage itself; the orchestrator executes the decision.
type Tracker struct {
	log *logrus.Entry
}

func NewTracker(log *logrus.Entry) *Tracker {
	return &Tracker{log: log}
}

// Reconcile compares a new snapshot against the last persisted one.
// A nil last snapshot means the entity was never seen. History is appended
// if and only if at least one tracked field differs; re-observing identical
// data refreshes bookkeeping without growing history.
func (t *Tracker) Reconcile(entityKey string, next *models.HorseProfile, last *models.HorseProfile) Action {
	if last == nil {
		t.log.WithField("entity", entityKey).Debug("First observation, creating snapshot")
		return ActionCreate
	}
	if changed := changedFields(next, last); len(changed) > 0 {
		t.log.WithFields(logrus.Fields{
			"entity": entityKey,
			"fields": changed,
		}).Info("Tracked fields changed, historizing")
		return ActionHistorize
	}
	return ActionRefresh
}

// changedFields returns the names of tracked fields that differ between two
// snapshots. Bookkeeping fields (source URL, capture metadata) are not
// tracked: they never cause a history row on their own.
func changedFields(next, last *models.HorseProfile) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("origin", next.Origin != last.Origin)
	add("age", !intEq(next.Age, last.Age))
	add("colour", next.Colour != last.Colour)
	add("sex", next.Sex != last.Sex)
	add("import_type", next.ImportType != last.ImportType)
	add("season_prize_hkd", !int64Eq(next.SeasonPrizeHKD, last.SeasonPrizeHKD))
	add("lifetime_prize_hkd", !int64Eq(next.LifetimePrizeHKD, last.LifetimePrizeHKD))
	add("record_wins", !intEq(next.RecordWins, last.RecordWins))
	add("record_seconds", !intEq(next.RecordSeconds, last.RecordSeconds))
	add("record_thirds", !intEq(next.RecordThirds, last.RecordThirds))
	add("record_starts", !intEq(next.RecordStarts, last.RecordStarts))
	add("last10_starts", next.Last10Starts != last.Last10Starts)
	add("current_location", next.CurrentLocation != last.CurrentLocation)
	add("owner_name", next.OwnerName != last.OwnerName)
	add("current_rating", !intEq(next.CurrentRating, last.CurrentRating))
	add("season_start_rating", !intEq(next.SeasonStartRating, last.SeasonStartRating))
	add("sire_name", next.SireName != last.SireName)
	add("dam_name", next.DamName != last.DamName)
	add("dam_sire_name", next.DamSireName != last.DamSireName)

	return changed
}

// intEq treats two nil pointers as equal and nil vs non-nil as different.
func intEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64Eq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
