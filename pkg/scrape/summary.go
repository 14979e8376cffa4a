package scrape

import (
	"fmt"
	"strings"
	"time"

	"hkracing-scraper/pkg/utils"
)

// ItemFailure records one scope item's terminal failure. The run carries on
// past it; the summary surfaces it to the operator.
type ItemFailure struct {
	Date     time.Time
	Stage    string
	Category string
	Err      error
}

// RunSummary is the end-of-run report for one scrape run.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	DatesTotal   int
	DatesScraped int
	DatesSkipped int
	DatesEmpty   int
	DatesFailed  int

	RacesSaved         int
	RunnersSaved       int
	SectionalsSaved    int
	ProfilesCreated    int
	ProfilesRefreshed  int
	ProfilesHistorized int
	OddsSamplesSaved   int

	Failures []ItemFailure
}

func (s *RunSummary) fail(date time.Time, stage string, err error) {
	s.DatesFailed++
	s.Failures = append(s.Failures, ItemFailure{
		Date:     date,
		Stage:    stage,
		Category: utils.CategorizeError(err),
		Err:      err,
	})
}

// FormatReport renders the summary for terminal display.
func (s *RunSummary) FormatReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Dates:      %d total, %d scraped, %d skipped, %d empty, %d failed\n",
		s.DatesTotal, s.DatesScraped, s.DatesSkipped, s.DatesEmpty, s.DatesFailed)
	fmt.Fprintf(&b, "  Races:      %d saved (%d runners, %d sectionals)\n",
		s.RacesSaved, s.RunnersSaved, s.SectionalsSaved)
	fmt.Fprintf(&b, "  Profiles:   %d created, %d refreshed, %d historized\n",
		s.ProfilesCreated, s.ProfilesRefreshed, s.ProfilesHistorized)
	fmt.Fprintf(&b, "  Odds:       %d samples saved\n", s.OddsSamplesSaved)
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "  Failures:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "    %s [%s/%s] %v\n", f.Date.Format("2006-01-02"), f.Stage, f.Category, f.Err)
		}
	}
	return b.String()
}
