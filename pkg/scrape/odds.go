package scrape

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/parse"
	"hkracing-scraper/pkg/schedule"
	"hkracing-scraper/pkg/storage"
	"hkracing-scraper/pkg/utils"
)

// scrapeOddsDate runs the odds pipeline for one date. Races must already be
// persisted: the stored race list is the source of truth for which race
// numbers exist. Returns whether the date had any races to fetch odds for.
func (o *Orchestrator) scrapeOddsDate(ctx context.Context, date time.Time, opts Options, sum *RunSummary, log *logrus.Entry) (bool, error) {
	raceIDs, err := o.store.RacesByDate(ctx, date)
	if err != nil {
		return false, err
	}
	if len(raceIDs) == 0 {
		log.Info("No stored races for this date, skipping odds")
		return false, nil
	}

	facets := opts.Facets
	if len(facets) == 0 {
		facets = models.AllFacets()
	}
	entities := make([]string, 0, len(raceIDs))
	for no := range raceIDs {
		entities = append(entities, strconv.Itoa(no))
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = schedule.ByType
	}
	workers := o.effectiveWorkers(o.cfg.MaxOddsWorkers, opts)
	sched := schedule.New[[]models.OddsSample](strategy, workers, log)

	log.WithFields(logrus.Fields{
		"state":    stateFetching,
		"races":    len(entities),
		"facets":   len(facets),
		"strategy": strategy,
	}).Info("Fetching odds time series")

	// A second auth denial poisons the whole session; cancel the batch so
	// the remaining tasks fail fast instead of each re-hitting the site.
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		authMu  sync.Mutex
		authErr error
	)
	batch := sched.Run(batchCtx, entities, facets,
		func(ctx context.Context, entity string, facet models.Facet) ([]models.OddsSample, error) {
			raceNo, err := strconv.Atoi(entity)
			if err != nil {
				return nil, err
			}
			samples, err := o.fetchOddsFacet(ctx, date, raceNo, facet)
			if err != nil && errors.Is(err, utils.ErrAuthExpired) {
				authMu.Lock()
				if authErr == nil {
					authErr = err
				}
				authMu.Unlock()
				cancel()
			}
			return samples, err
		})

	authMu.Lock()
	defer authMu.Unlock()
	if authErr != nil {
		return true, authErr
	}
	for _, f := range batch.Failures {
		log.WithError(f.Err).WithFields(logrus.Fields{
			"race":  f.Entity,
			"facet": f.Facet,
		}).Error("Odds fetch failed")
		sum.Failures = append(sum.Failures, ItemFailure{
			Date:     date,
			Stage:    "odds",
			Category: utils.CategorizeError(f.Err),
			Err:      fmt.Errorf("race %s facet %s: %w", f.Entity, f.Facet, f.Err),
		})
	}

	if opts.DryRun {
		total := 0
		for _, byFacet := range batch.ByEntity {
			for _, samples := range byFacet {
				total += len(samples)
			}
		}
		log.WithField("samples", total).Info("Dry run, skipping odds persistence")
		return true, nil
	}

	log.WithField("state", statePersisting).Info("Persisting odds samples")
	return true, o.persistOdds(ctx, raceIDs, batch, sum)
}

// fetchOddsFacet fetches and parses one facet of one race.
func (o *Orchestrator) fetchOddsFacet(ctx context.Context, date time.Time, raceNo int, facet models.Facet) ([]models.OddsSample, error) {
	var rawURL string
	if facet.IsMarket() {
		rawURL = fmt.Sprintf("%s/offshore-market-trends-history?date=%s&race=%d&type=%s",
			o.cfg.OddsBaseURL, date.Format("2006-01-02"), raceNo, facet)
	} else {
		rawURL = fmt.Sprintf("%s/jc-wp-trends-history?date=%s&race=%d&type=%s",
			o.cfg.OddsBaseURL, date.Format("2006-01-02"), raceNo, facet)
	}
	_, body, err := o.odds.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching odds page: %w", err)
	}
	return parse.OddsPage(body, date, facet, rawURL)
}

// persistOdds writes the batch's samples in one transactional unit,
// resolving each race's horse numbers to runner ids. Duplicate samples from
// overlapping runs are silently dropped by the store.
func (o *Orchestrator) persistOdds(ctx context.Context, raceIDs map[int]int64, batch *schedule.Batch[[]models.OddsSample], sum *RunSummary) error {
	saved := 0
	err := o.store.RunInUnit(ctx, func(ctx context.Context, unit storage.Store) error {
		runnersByRace := make(map[int]map[int]int64, len(raceIDs))

		for entity, byFacet := range batch.ByEntity {
			raceNo, err := strconv.Atoi(entity)
			if err != nil {
				return err
			}
			raceID, ok := raceIDs[raceNo]
			if !ok {
				continue
			}
			byHorseNo, ok := runnersByRace[raceNo]
			if !ok {
				byHorseNo, err = unit.RunnerIDsByRace(ctx, raceID)
				if err != nil {
					return err
				}
				runnersByRace[raceNo] = byHorseNo
			}
			for _, samples := range byFacet {
				if len(samples) == 0 {
					continue
				}
				n, err := unit.InsertOddsSamples(ctx, byHorseNo, samples)
				if err != nil {
					return err
				}
				saved += n
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	sum.OddsSamplesSaved += saved
	return nil
}
