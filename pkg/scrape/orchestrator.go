package scrape

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/config"
	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/schedule"
	"hkracing-scraper/pkg/storage"
	"hkracing-scraper/pkg/track"
	"hkracing-scraper/pkg/utils"
)

// Fetcher fetches one URL through a managed session. The session manager
// implements it; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (int, []byte, error)
}

// Scope is the inclusive date range a run covers.
type Scope struct {
	From time.Time
	To   time.Time
}

// Dates expands the range into individual days.
func (s Scope) Dates() []time.Time {
	if s.To.Before(s.From) {
		return nil
	}
	var dates []time.Time
	for d := s.From; !d.After(s.To); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Options tunes one run.
type Options struct {
	// Force bypasses skip-if-present scope resolution.
	Force bool
	// DryRun fetches and parses but writes nothing.
	DryRun bool
	// Results enables the results/sectionals/profiles pipeline.
	Results bool
	// Odds enables the odds time-series pipeline.
	Odds bool
	// Facets restricts which odds facets are fetched; empty means all.
	Facets []models.Facet
	// Strategy selects the odds fan-out shape; empty means by-type.
	Strategy schedule.Strategy
	// MaxConcurrency overrides every configured worker ceiling when > 0.
	MaxConcurrency int
}

type runState string

const (
	stateResolvingScope runState = "resolving-scope"
	stateFetching       runState = "fetching"
	stateReconciling    runState = "reconciling"
	statePersisting     runState = "persisting"
	stateSummarizing    runState = "summarizing"
)

// Orchestrator drives a scrape run end to end: scope resolution, fetching,
// reconciling, persisting, and the final summary. Failures are per date;
// one date's failure never halts the run.
type Orchestrator struct {
	cfg     *config.AppConfig
	store   storage.Store
	results Fetcher
	odds    Fetcher
	tracker *track.Tracker
	log     *logrus.Entry
	now     func() time.Time
}

func NewOrchestrator(cfg *config.AppConfig, store storage.Store, results, odds Fetcher, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		results: results,
		odds:    odds,
		tracker: track.NewTracker(log),
		log:     log,
		now:     time.Now,
	}
}

// RunScrape is the single entry point for a run. It returns an error only
// when scope resolution itself cannot reach the data store or the scope is
// invalid; every other failure lands in the summary.
func (o *Orchestrator) RunScrape(ctx context.Context, scope Scope, opts Options) (*RunSummary, error) {
	start := o.now()
	sum := &RunSummary{RunID: uuid.NewString(), StartedAt: start}

	dates := scope.Dates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: empty date range %s..%s",
			utils.ErrScopeResolution, scope.From.Format("2006-01-02"), scope.To.Format("2006-01-02"))
	}
	sum.DatesTotal = len(dates)

	log := o.log.WithField("run_id", sum.RunID)
	log.WithFields(logrus.Fields{
		"state": stateResolvingScope,
		"from":  scope.From.Format("2006-01-02"),
		"to":    scope.To.Format("2006-01-02"),
		"force": opts.Force,
	}).Info("Resolving scope")

	work, err := o.resolveScope(ctx, dates, opts, sum, log)
	if err != nil {
		// The only top-level abort: the store is unreachable for resolution.
		return nil, err
	}

	for _, date := range work {
		if ctx.Err() != nil {
			sum.fail(date, "run", ctx.Err())
			continue
		}
		o.scrapeDate(ctx, date, opts, sum, log)
	}

	log.WithField("state", stateSummarizing).Info("Run complete")
	sum.Duration = o.now().Sub(start)
	return sum, nil
}

func (o *Orchestrator) resolveScope(ctx context.Context, dates []time.Time, opts Options, sum *RunSummary, log *logrus.Entry) ([]time.Time, error) {
	if opts.Force {
		return dates, nil
	}
	var work []time.Time
	for _, date := range dates {
		exists, err := o.store.MeetingExists(ctx, date, "")
		if err != nil {
			return nil, fmt.Errorf("%w: resolving scope: %v", utils.ErrScopeResolution, err)
		}
		if exists && opts.Results {
			log.WithField("date", date.Format("2006-01-02")).Info("Skipping date, already present")
			sum.DatesSkipped++
			continue
		}
		work = append(work, date)
	}
	return work, nil
}

// scrapeDate processes one scope item. Pipeline failures are recorded and
// the run moves on.
func (o *Orchestrator) scrapeDate(ctx context.Context, date time.Time, opts Options, sum *RunSummary, log *logrus.Entry) {
	dlog := log.WithField("date", date.Format("2006-01-02"))
	failed, raced := false, false

	if opts.Results {
		r, err := o.scrapeResultsDate(ctx, date, opts, sum, dlog)
		if err != nil {
			dlog.WithError(err).Error("Results pipeline failed")
			sum.fail(date, "results", err)
			failed = true
		}
		raced = raced || r
	}

	if opts.Odds && o.odds != nil {
		r, err := o.scrapeOddsDate(ctx, date, opts, sum, dlog)
		if err != nil {
			dlog.WithError(err).Error("Odds pipeline failed")
			sum.fail(date, "odds", err)
			failed = true
		}
		raced = raced || r
	}

	switch {
	case failed:
	case raced:
		sum.DatesScraped++
	default:
		sum.DatesEmpty++
	}
}

// effectiveWorkers applies the per-run concurrency override to one of the
// configured ceilings.
func (o *Orchestrator) effectiveWorkers(configured int, opts Options) int {
	if opts.MaxConcurrency > 0 {
		return opts.MaxConcurrency
	}
	return configured
}

// siteRoot reduces a base URL to scheme://host for resolving relative links.
func siteRoot(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	return u.Scheme + "://" + u.Host
}
