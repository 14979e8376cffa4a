package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/parse"
	"hkracing-scraper/pkg/schedule"
	"hkracing-scraper/pkg/storage"
	"hkracing-scraper/pkg/track"
	"hkracing-scraper/pkg/utils"
)

// facetResults is the single pseudo-facet under which race page fetches run
// through the scheduler, and facetProfile the one for profile pages. Odds
// facets live in models; these two only shape the fan-out.
const (
	facetResults models.Facet = "results"
	facetProfile models.Facet = "profile"
)

// raceResult is everything fetched for one race before persistence.
type raceResult struct {
	bundle *models.RaceBundle
	secs   []models.Sectional
}

// scrapeResultsDate runs the results pipeline for one date: race index,
// race pages with sectionals, profile pages for every horse seen, then one
// transactional persist. Returns whether any racing took place.
func (o *Orchestrator) scrapeResultsDate(ctx context.Context, date time.Time, opts Options, sum *RunSummary, log *logrus.Entry) (bool, error) {
	log.WithField("state", stateFetching).Info("Fetching race index")

	indexURL := fmt.Sprintf("%s/resultsall?racedate=%s", o.cfg.ResultsBaseURL, date.Format("2006/01/02"))
	_, body, err := o.results.Fetch(ctx, indexURL)
	if err != nil {
		return false, fmt.Errorf("fetching race index: %w", err)
	}
	links, err := parse.RaceIndex(body, siteRoot(o.cfg.ResultsBaseURL))
	if err != nil {
		return false, err
	}
	if len(links) == 0 {
		log.Info("No local racing on this date")
		return false, nil
	}

	races := o.fetchRaces(ctx, date, links, opts, sum, log)
	if len(races) == 0 {
		return true, fmt.Errorf("all %d race fetches failed", len(links))
	}

	profiles := o.fetchProfiles(ctx, races, opts, log)

	if opts.DryRun {
		log.WithFields(logrus.Fields{
			"races":    len(races),
			"profiles": len(profiles),
		}).Info("Dry run, skipping persistence")
		return true, nil
	}

	log.WithField("state", statePersisting).Info("Persisting date")
	if err := o.persistDate(ctx, races, profiles, sum, log); err != nil {
		return true, err
	}
	return true, nil
}

// fetchRaces fans out over the date's race links. Each task fetches the
// race page and its sectional-time page. Individual race failures are
// recorded and do not stop the batch.
func (o *Orchestrator) fetchRaces(ctx context.Context, date time.Time, links []models.RaceLink, opts Options, sum *RunSummary, log *logrus.Entry) []*raceResult {
	byURL := make(map[string]models.RaceLink, len(links))
	entities := make([]string, 0, len(links))
	for _, link := range links {
		byURL[link.URL] = link
		entities = append(entities, link.URL)
	}

	workers := o.effectiveWorkers(o.cfg.MaxRaceWorkers, opts)
	sched := schedule.New[*raceResult](schedule.ByType, workers, log)

	batch := sched.Run(ctx, entities, []models.Facet{facetResults},
		func(ctx context.Context, entity string, _ models.Facet) (*raceResult, error) {
			link := byURL[entity]
			_, raceBody, err := o.results.Fetch(ctx, entity)
			if err != nil {
				return nil, fmt.Errorf("fetching race page: %w", err)
			}
			bundle, err := parse.RacePage(raceBody, entity, link.VenueCode)
			if err != nil {
				return nil, err
			}

			sectionalURL := fmt.Sprintf("%s/displaysectionaltime?racedate=%s&RaceNo=%d",
				o.cfg.ResultsBaseURL, date.Format("02/01/2006"), bundle.Race.RaceNo)
			bundle.Race.SectionalURL = sectionalURL
			_, secBody, err := o.results.Fetch(ctx, sectionalURL)
			if err != nil {
				return nil, fmt.Errorf("fetching sectional page: %w", err)
			}
			secs, err := parse.SectionalPage(secBody)
			if err != nil {
				return nil, err
			}
			return &raceResult{bundle: bundle, secs: secs}, nil
		})

	for _, f := range batch.Failures {
		log.WithError(f.Err).WithField("race_url", f.Entity).Error("Race fetch failed")
		sum.Failures = append(sum.Failures, ItemFailure{
			Date:     date,
			Stage:    "race",
			Category: utils.CategorizeError(f.Err),
			Err:      fmt.Errorf("%s: %w", f.Entity, f.Err),
		})
	}

	races := make([]*raceResult, 0, len(links))
	for _, link := range links {
		if byFacet, ok := batch.ByEntity[link.URL]; ok {
			races = append(races, byFacet[facetResults])
		}
	}
	return races
}

// fetchProfiles fetches the profile page of every horse seen across the
// date's races, once per horse. Profile failures degrade to warnings: the
// race data is still persisted without the snapshot.
func (o *Orchestrator) fetchProfiles(ctx context.Context, races []*raceResult, opts Options, log *logrus.Entry) map[string]*models.HorseProfile {
	urls := make(map[string]string) // authority id -> profile url
	var entities []string
	for _, r := range races {
		for _, h := range r.bundle.Horses {
			if h.AuthorityID == "" || h.ProfileURL == "" {
				continue
			}
			if _, seen := urls[h.AuthorityID]; seen {
				continue
			}
			urls[h.AuthorityID] = h.ProfileURL
			entities = append(entities, h.AuthorityID)
		}
	}
	if len(entities) == 0 {
		return nil
	}

	workers := o.effectiveWorkers(o.cfg.MaxProfileWorkers, opts)
	sched := schedule.New[*models.HorseProfile](schedule.ByType, workers, log)

	batch := sched.Run(ctx, entities, []models.Facet{facetProfile},
		func(ctx context.Context, authorityID string, _ models.Facet) (*models.HorseProfile, error) {
			profileURL := urls[authorityID]
			_, body, err := o.results.Fetch(ctx, profileURL)
			if err != nil {
				return nil, fmt.Errorf("fetching profile page: %w", err)
			}
			return parse.ProfilePage(body, authorityID, profileURL)
		})

	for _, f := range batch.Failures {
		log.WithError(f.Err).WithField("horse", f.Entity).Warn("Profile fetch failed")
	}

	profiles := make(map[string]*models.HorseProfile, len(batch.ByEntity))
	for authorityID, byFacet := range batch.ByEntity {
		profiles[authorityID] = byFacet[facetProfile]
	}
	return profiles
}

// persistCounts accumulates one unit's writes. They reach the run summary
// only after the unit commits, so a rolled-back date reports nothing saved.
type persistCounts struct {
	races      int
	runners    int
	sectionals int
	created    int
	refreshed  int
	historized int
}

// persistDate writes one date's races, masters, runners, sectionals and
// profile snapshots as a single transactional unit.
func (o *Orchestrator) persistDate(ctx context.Context, races []*raceResult, profiles map[string]*models.HorseProfile, sum *RunSummary, log *logrus.Entry) error {
	observedAt := o.now()
	profiledHorses := make(map[string]bool)
	var saved persistCounts

	err := o.store.RunInUnit(ctx, func(ctx context.Context, unit storage.Store) error {
		meetingIDs := make(map[string]int64) // venue code -> meeting id

		for _, r := range races {
			meetingID, ok := meetingIDs[r.bundle.Meeting.VenueCode]
			if !ok {
				var err error
				meetingID, err = unit.UpsertMeeting(ctx, &r.bundle.Meeting)
				if err != nil {
					return err
				}
				meetingIDs[r.bundle.Meeting.VenueCode] = meetingID
			}

			raceID, err := unit.UpsertRace(ctx, meetingID, &r.bundle.Race)
			if err != nil {
				return err
			}

			horseIDs := make(map[string]int64, len(r.bundle.Horses))
			authorityByCode := make(map[string]string, len(r.bundle.Horses))
			for i := range r.bundle.Horses {
				h := &r.bundle.Horses[i]
				id, err := unit.UpsertHorse(ctx, h)
				if err != nil {
					return err
				}
				horseIDs[h.Code] = id
				authorityByCode[h.Code] = h.AuthorityID
			}
			jockeyIDs := make(map[string]int64, len(r.bundle.Jockeys))
			for i := range r.bundle.Jockeys {
				id, err := unit.UpsertJockey(ctx, &r.bundle.Jockeys[i])
				if err != nil {
					return err
				}
				jockeyIDs[r.bundle.Jockeys[i].Code] = id
			}
			trainerIDs := make(map[string]int64, len(r.bundle.Trainers))
			for i := range r.bundle.Trainers {
				id, err := unit.UpsertTrainer(ctx, &r.bundle.Trainers[i])
				if err != nil {
					return err
				}
				trainerIDs[r.bundle.Trainers[i].Code] = id
			}

			runnerIDs := make(map[string]int64, len(r.bundle.Runners))
			for i := range r.bundle.Runners {
				rn := &r.bundle.Runners[i]
				id, err := unit.UpsertRunner(ctx, raceID, horseIDs[rn.HorseCode], jockeyIDs[rn.JockeyCode], trainerIDs[rn.TrainerCode], rn)
				if err != nil {
					return err
				}
				runnerIDs[rn.HorseCode] = id
				saved.runners++
			}
			saved.races++

			secsByRunner := make(map[int64][]models.Sectional)
			for _, sec := range r.secs {
				runnerID, ok := runnerIDs[sec.HorseCode]
				if !ok {
					continue
				}
				secsByRunner[runnerID] = append(secsByRunner[runnerID], sec)
			}
			for runnerID, secs := range secsByRunner {
				if err := unit.ReplaceSectionals(ctx, runnerID, secs); err != nil {
					return err
				}
				saved.sectionals += len(secs)
			}

			// Profile snapshots, once per horse per run.
			for code, horseID := range horseIDs {
				authorityID := authorityByCode[code]
				profile, ok := profiles[authorityID]
				if !ok || profiledHorses[authorityID] {
					continue
				}
				profiledHorses[authorityID] = true
				if err := o.applyProfile(ctx, unit, horseID, authorityID, profile, observedAt, &saved, log); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sum.RacesSaved += saved.races
	sum.RunnersSaved += saved.runners
	sum.SectionalsSaved += saved.sectionals
	sum.ProfilesCreated += saved.created
	sum.ProfilesRefreshed += saved.refreshed
	sum.ProfilesHistorized += saved.historized
	return nil
}

// applyProfile routes one snapshot through the change tracker and executes
// its decision. On change the superseded snapshot moves into history before
// the current row takes the new values.
func (o *Orchestrator) applyProfile(ctx context.Context, unit storage.Store, horseID int64, authorityID string, profile *models.HorseProfile, observedAt time.Time, saved *persistCounts, log *logrus.Entry) error {
	last, lastSeen, err := unit.LastProfile(ctx, horseID)
	if err != nil {
		return err
	}
	log.WithField("state", stateReconciling).Debug("Reconciling profile")

	switch o.tracker.Reconcile(authorityID, profile, last) {
	case track.ActionCreate:
		if err := unit.CreateProfile(ctx, horseID, profile, observedAt); err != nil {
			return err
		}
		saved.created++
	case track.ActionHistorize:
		if err := unit.AppendProfileHistory(ctx, horseID, last, lastSeen); err != nil {
			return err
		}
		if err := unit.RefreshProfile(ctx, horseID, profile, observedAt); err != nil {
			return err
		}
		saved.historized++
	default:
		if err := unit.RefreshProfile(ctx, horseID, profile, observedAt); err != nil {
			return err
		}
		saved.refreshed++
	}
	return nil
}
