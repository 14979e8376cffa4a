package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkracing-scraper/pkg/config"
	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/storage"
	"hkracing-scraper/pkg/utils"
)

// --- In-memory store ---

type fakeStore struct {
	mu        sync.Mutex
	existsErr error
	raceErr   error
	secErr    error

	meetings      map[string]int64 // "date|venue"
	meetingDates  map[int64]string
	races         map[string]int64 // "meetingID|raceNo"
	raceNos       map[int64]int
	raceMeetings  map[int64]int64
	horses        map[string]int64
	jockeys       map[string]int64
	trainers      map[string]int64
	runners       map[string]int64 // "raceID|horseID"
	runnerHorseNo map[int64]int
	runnerRaces   map[int64]int64
	sectionals    map[int64][]models.Sectional
	profiles      map[int64]models.HorseProfile
	profileTimes  map[int64]time.Time
	history       map[int64][]models.HorseProfile
	oddsSeen      map[string]bool
	nextID        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		meetings:      make(map[string]int64),
		meetingDates:  make(map[int64]string),
		races:         make(map[string]int64),
		raceNos:       make(map[int64]int),
		raceMeetings:  make(map[int64]int64),
		horses:        make(map[string]int64),
		jockeys:       make(map[string]int64),
		trainers:      make(map[string]int64),
		runners:       make(map[string]int64),
		runnerHorseNo: make(map[int64]int),
		runnerRaces:   make(map[int64]int64),
		sectionals:    make(map[int64][]models.Sectional),
		profiles:      make(map[int64]models.HorseProfile),
		profileTimes:  make(map[int64]time.Time),
		history:       make(map[int64][]models.HorseProfile),
		oddsSeen:      make(map[string]bool),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) upsert(m map[string]int64, key string) int64 {
	if existing, ok := m[key]; ok {
		return existing
	}
	id := f.id()
	m[key] = id
	return id
}

func (f *fakeStore) MeetingExists(_ context.Context, date time.Time, venueCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	day := date.Format("2006-01-02")
	for key := range f.meetings {
		if key[:10] == day && (venueCode == "" || key[11:] == venueCode) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpsertMeeting(_ context.Context, m *models.Meeting) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	day := m.Date.Format("2006-01-02")
	id := f.upsert(f.meetings, day+"|"+m.VenueCode)
	f.meetingDates[id] = day
	return id, nil
}

func (f *fakeStore) UpsertRace(_ context.Context, meetingID int64, r *models.Race) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raceErr != nil {
		return 0, f.raceErr
	}
	id := f.upsert(f.races, fmt.Sprintf("%d|%d", meetingID, r.RaceNo))
	f.raceNos[id] = r.RaceNo
	f.raceMeetings[id] = meetingID
	return id, nil
}

func (f *fakeStore) UpsertHorse(_ context.Context, h *models.HorseRef) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsert(f.horses, h.Code), nil
}

func (f *fakeStore) UpsertJockey(_ context.Context, j *models.JockeyRef) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsert(f.jockeys, j.Code), nil
}

func (f *fakeStore) UpsertTrainer(_ context.Context, t *models.TrainerRef) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsert(f.trainers, t.Code), nil
}

func (f *fakeStore) UpsertRunner(_ context.Context, raceID, horseID, _, _ int64, r *models.Runner) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.upsert(f.runners, fmt.Sprintf("%d|%d", raceID, horseID))
	f.runnerHorseNo[id] = r.HorseNo
	f.runnerRaces[id] = raceID
	return id, nil
}

func (f *fakeStore) ReplaceSectionals(_ context.Context, runnerID int64, secs []models.Sectional) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secErr != nil {
		return f.secErr
	}
	f.sectionals[runnerID] = secs
	return nil
}

func (f *fakeStore) LastProfile(_ context.Context, horseID int64) (*models.HorseProfile, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[horseID]
	if !ok {
		return nil, time.Time{}, nil
	}
	return &p, f.profileTimes[horseID], nil
}

func (f *fakeStore) CreateProfile(_ context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[horseID]; !ok {
		f.profiles[horseID] = *p
		f.profileTimes[horseID] = observedAt
	}
	return nil
}

func (f *fakeStore) RefreshProfile(_ context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[horseID] = *p
	f.profileTimes[horseID] = observedAt
	return nil
}

func (f *fakeStore) AppendProfileHistory(_ context.Context, horseID int64, p *models.HorseProfile, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[horseID] = append(f.history[horseID], *p)
	return nil
}

func (f *fakeStore) RunnerIDsByRace(_ context.Context, raceID int64) (map[int]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int64)
	for id, rid := range f.runnerRaces {
		if rid == raceID {
			out[f.runnerHorseNo[id]] = id
		}
	}
	return out, nil
}

func (f *fakeStore) RacesByDate(_ context.Context, date time.Time) (map[int]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	day := date.Format("2006-01-02")
	out := make(map[int]int64)
	for raceID, meetingID := range f.raceMeetings {
		if f.meetingDates[meetingID] == day {
			out[f.raceNos[raceID]] = raceID
		}
	}
	return out, nil
}

func (f *fakeStore) InsertOddsSamples(_ context.Context, byHorseNo map[int]int64, samples []models.OddsSample) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range samples {
		runnerID, ok := byHorseNo[s.HorseNo]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%d|%s|%d", runnerID, s.BetType, s.ObservedAt.Unix())
		if f.oddsSeen[key] {
			continue
		}
		f.oddsSeen[key] = true
		n++
	}
	return n, nil
}

func (f *fakeStore) RunInUnit(ctx context.Context, fn func(ctx context.Context, unit storage.Store) error) error {
	return fn(ctx, f)
}

// --- Fetcher keyed by exact URL ---

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return 0, nil, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return 404, nil, fmt.Errorf("%w: 404 no fixture for %s", utils.ErrClientHTTPError, rawURL)
	}
	return 200, []byte(body), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- Fixtures ---

const (
	indexURL     = "https://racing.hkjc.com/zh-hk/local/information/resultsall?racedate=2025/12/23"
	raceURL      = "https://racing.hkjc.com/zh-hk/local/information/localresults?RaceDate=2025/12/23&Racecourse=ST&RaceNo=1"
	sectionalURL = "https://racing.hkjc.com/zh-hk/local/information/displaysectionaltime?racedate=23/12/2025&RaceNo=1"
	profileURL1  = "https://racing.hkjc.com/ch/racing/horse?HorseId=HK_2021_E123"
	profileURL2  = "https://racing.hkjc.com/ch/racing/horse?HorseId=HK_2022_F456"
	oddsWinURL   = "https://horse.hk33.com/analysis/jc-wp-trends-history?date=2025-12-23&race=1&type=w"
)

const indexPage = `<html><body>
<a href="/zh-hk/local/information/localresults?RaceDate=2025/12/23&Racecourse=ST&RaceNo=1">第1場</a>
</body></html>`

const racePage = `<html><body>
<div>賽事日期: 23/12/2025 沙田</div>
<table>
  <tr><td>第 1 場</td></tr>
  <tr><td>友誼盃</td><td>草地 - "C+3" 賽道</td></tr>
  <tr><td>第三班 - 1200米</td><td>場地狀況 : 好地</td></tr>
  <tr><td>獎金: HK$ 1,000,000</td></tr>
</table>
<table>
  <tr><td>名次</td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td></tr>
  <tr><td>1</td><td>5</td>
    <td><a href="/ch/racing/horse?HorseId=HK_2021_E123">好馬 (E123)</a></td>
    <td><a href="?JockeyId=PZ">潘明輝</a></td>
    <td><a href="?TrainerId=SJJ">沈集成</a></td>
    <td>133</td><td>1080</td><td>4</td><td>-</td><td>3 3 1</td><td>1:09.59</td><td>4.5</td></tr>
  <tr><td>2</td><td>8</td>
    <td><a href="/ch/racing/horse?HorseId=HK_2022_F456">快馬 (F456)</a></td>
    <td><a href="?JockeyId=BA">巴度</a></td>
    <td><a href="?TrainerId=SJJ">沈集成</a></td>
    <td>126</td><td>1102</td><td>9</td><td>1-3/4</td><td>6 5 2</td><td>1:09.87</td><td>12</td></tr>
</table>
</body></html>`

const sectionalPage = `<html><body>
<div class="dispalySectionalTime">
<table>
  <tr><td></td><td></td><td></td><td>第1段</td><td>第2段</td><td>過終點</td></tr>
  <tr><td>1</td><td>5</td><td>好馬 (E123)</td><td>8 2 13.10</td><td>3 1 22.54</td><td>1.09.59</td></tr>
  <tr><td>2</td><td>8</td><td>快馬 (F456)</td><td>6 4 13.35</td><td>5 3 22.40</td><td>1.09.87</td></tr>
</table>
</div>
</body></html>`

func profilePage(rating int) string {
	return fmt.Sprintf(`<html><body><table>
<tr><td>馬主</td><td>:</td><td>快樂團體</td></tr>
<tr><td>現時評分</td><td>:</td><td>%d</td></tr>
</table></body></html>`, rating)
}

const oddsWinPage = `<html><body>
<table id="odds_table">
  <tr data-date-time="2025-12-23 13:00:00"><td>13:00:00</td><td data-horse-num="5">4.8</td><td data-horse-num="8">11.0</td></tr>
  <tr data-date-time="2025-12-23 13:05:00"><td>13:05:00</td><td data-horse-num="5">4.5</td><td data-horse-num="8">12.0</td></tr>
</table>
</body></html>`

func resultsFixtures() *fakeFetcher {
	f := newFakeFetcher()
	f.pages[indexURL] = indexPage
	f.pages[raceURL] = racePage
	f.pages[sectionalURL] = sectionalPage
	f.pages[profileURL1] = profilePage(75)
	f.pages[profileURL2] = profilePage(60)
	return f
}

func testOrchestrator(store storage.Store, results, odds Fetcher) *Orchestrator {
	cfg := config.Defaults()
	log := logrus.New()
	log.SetOutput(io.Discard)
	o := NewOrchestrator(&cfg, store, results, odds, logrus.NewEntry(log))
	o.now = func() time.Time { return time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC) }
	return o
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Tests ---

func TestRunScrape_ResultsPipeline(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(store, resultsFixtures(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesTotal)
	assert.Equal(t, 1, sum.DatesScraped)
	assert.Equal(t, 0, sum.DatesFailed)
	assert.Equal(t, 1, sum.RacesSaved)
	assert.Equal(t, 2, sum.RunnersSaved)
	assert.Equal(t, 4, sum.SectionalsSaved)
	assert.Equal(t, 2, sum.ProfilesCreated)
	assert.Equal(t, 0, sum.ProfilesRefreshed)
	assert.Equal(t, 0, sum.ProfilesHistorized)
	assert.Empty(t, sum.Failures)

	assert.Len(t, store.meetings, 1)
	assert.Len(t, store.races, 1)
	assert.Len(t, store.runners, 2)
	assert.Len(t, store.profiles, 2)
	assert.Empty(t, store.history)
}

func TestRunScrape_SkipsExistingDates(t *testing.T) {
	store := newFakeStore()
	_, err := store.UpsertMeeting(context.Background(), &models.Meeting{Date: day(2025, 12, 23), VenueCode: "ST"})
	require.NoError(t, err)

	fetcher := resultsFixtures()
	o := testOrchestrator(store, fetcher, nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesSkipped)
	assert.Equal(t, 0, sum.DatesScraped)
	assert.Zero(t, fetcher.callCount())
}

func TestRunScrape_ForceBypassesSkip(t *testing.T) {
	store := newFakeStore()
	_, err := store.UpsertMeeting(context.Background(), &models.Meeting{Date: day(2025, 12, 23), VenueCode: "ST"})
	require.NoError(t, err)

	o := testOrchestrator(store, resultsFixtures(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true, Force: true})
	require.NoError(t, err)

	assert.Equal(t, 0, sum.DatesSkipped)
	assert.Equal(t, 1, sum.DatesScraped)
	assert.Equal(t, 1, sum.RacesSaved)
}

func TestRunScrape_ProfileLifecycle(t *testing.T) {
	store := newFakeStore()
	fetcher := resultsFixtures()
	o := testOrchestrator(store, fetcher, nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	opts := Options{Results: true, Force: true}

	sum, err := o.RunScrape(context.Background(), scope, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ProfilesCreated)
	assert.Empty(t, store.history)

	// Unchanged snapshots only refresh; no history is written.
	sum, err = o.RunScrape(context.Background(), scope, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ProfilesCreated)
	assert.Equal(t, 2, sum.ProfilesRefreshed)
	assert.Equal(t, 0, sum.ProfilesHistorized)
	assert.Empty(t, store.history)

	// One horse's rating changes; exactly that horse is historized.
	fetcher.mu.Lock()
	fetcher.pages[profileURL1] = profilePage(80)
	fetcher.mu.Unlock()

	sum, err = o.RunScrape(context.Background(), scope, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProfilesHistorized)
	assert.Equal(t, 1, sum.ProfilesRefreshed)

	// Current holds the new snapshot; history holds the superseded one.
	horseID := store.horses["E123"]
	require.NotNil(t, store.profiles[horseID].CurrentRating)
	assert.Equal(t, 80, *store.profiles[horseID].CurrentRating)
	require.Len(t, store.history[horseID], 1)
	prior := store.history[horseID][0]
	require.NotNil(t, prior.CurrentRating)
	assert.Equal(t, 75, *prior.CurrentRating)
	assert.Equal(t, "HK_2021_E123", prior.AuthorityID)
}

func TestRunScrape_DryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	o := testOrchestrator(store, resultsFixtures(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesScraped)
	assert.Equal(t, 0, sum.RacesSaved)
	assert.Empty(t, store.meetings)
	assert.Empty(t, store.profiles)
}

func TestRunScrape_EmptyScope(t *testing.T) {
	o := testOrchestrator(newFakeStore(), newFakeFetcher(), nil)

	scope := Scope{From: day(2025, 12, 24), To: day(2025, 12, 23)}
	_, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrScopeResolution)
}

func TestRunScrape_ScopeResolutionAborts(t *testing.T) {
	store := newFakeStore()
	store.existsErr = errors.New("connection refused")
	o := testOrchestrator(store, newFakeFetcher(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 24)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrScopeResolution)
	assert.Nil(t, sum)
}

func TestRunScrape_DateFailureIsolation(t *testing.T) {
	fetcher := resultsFixtures()
	// The second date's index fetch fails; the run must still finish.
	badIndex := "https://racing.hkjc.com/zh-hk/local/information/resultsall?racedate=2025/12/24"
	fetcher.errs[badIndex] = fmt.Errorf("%w: connection reset", utils.ErrRetryFailed)

	o := testOrchestrator(newFakeStore(), fetcher, nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 24)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesScraped)
	assert.Equal(t, 1, sum.DatesFailed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "results", sum.Failures[0].Stage)
	assert.Equal(t, day(2025, 12, 24), sum.Failures[0].Date)
}

func TestRunScrape_RolledBackUnitCountsNothing(t *testing.T) {
	store := newFakeStore()
	store.secErr = fmt.Errorf("%w: deadlock detected", utils.ErrDatabase)

	o := testOrchestrator(store, resultsFixtures(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DatesFailed)

	// Writes before the failing one were part of the same unit, so none of
	// them may surface in the summary.
	assert.Equal(t, 0, sum.RacesSaved)
	assert.Equal(t, 0, sum.RunnersSaved)
	assert.Equal(t, 0, sum.SectionalsSaved)
	assert.Equal(t, 0, sum.ProfilesCreated)
}

func TestRunScrape_PersistenceFailureRecorded(t *testing.T) {
	store := newFakeStore()
	store.raceErr = fmt.Errorf("%w: unique constraint", utils.ErrDatabase)

	o := testOrchestrator(store, resultsFixtures(), nil)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesFailed)
	require.NotEmpty(t, sum.Failures)
	assert.Equal(t, "results", sum.Failures[0].Stage)
	assert.Equal(t, "Database", sum.Failures[0].Category)
	assert.Equal(t, 0, sum.RacesSaved)
}

func TestRunScrape_NoRacingDate(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://racing.hkjc.com/zh-hk/local/information/resultsall?racedate=2025/12/25"] = `<html><body><p>本日無賽事</p></body></html>`

	o := testOrchestrator(newFakeStore(), fetcher, nil)

	scope := Scope{From: day(2025, 12, 25), To: day(2025, 12, 25)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesEmpty)
	assert.Equal(t, 0, sum.DatesScraped)
	assert.Equal(t, 0, sum.DatesFailed)
}

func TestRunScrape_OddsPipeline(t *testing.T) {
	store := newFakeStore()

	// Seed the races the odds pipeline resolves against.
	ctx := context.Background()
	meetingID, err := store.UpsertMeeting(ctx, &models.Meeting{Date: day(2025, 12, 23), VenueCode: "ST"})
	require.NoError(t, err)
	raceID, err := store.UpsertRace(ctx, meetingID, &models.Race{RaceNo: 1})
	require.NoError(t, err)
	for _, hn := range []struct {
		code string
		no   int
	}{{"E123", 5}, {"F456", 8}} {
		horseID, herr := store.UpsertHorse(ctx, &models.HorseRef{Code: hn.code})
		require.NoError(t, herr)
		_, herr = store.UpsertRunner(ctx, raceID, horseID, 0, 0, &models.Runner{HorseCode: hn.code, HorseNo: hn.no})
		require.NoError(t, herr)
	}

	fetcher := newFakeFetcher()
	fetcher.pages[oddsWinURL] = oddsWinPage
	o := testOrchestrator(store, newFakeFetcher(), fetcher)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	opts := Options{Odds: true, Facets: []models.Facet{models.FacetWin}}

	sum, err := o.RunScrape(context.Background(), scope, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DatesScraped)
	assert.Equal(t, 4, sum.OddsSamplesSaved)

	// Re-running appends nothing: every sample key already exists.
	sum, err = o.RunScrape(context.Background(), scope, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.OddsSamplesSaved)
}

func TestRunScrape_OddsWithoutStoredRaces(t *testing.T) {
	o := testOrchestrator(newFakeStore(), newFakeFetcher(), newFakeFetcher())

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(context.Background(), scope, Options{Odds: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesEmpty)
	assert.Equal(t, 0, sum.OddsSamplesSaved)
}

func TestRunScrape_OddsAuthExpiredFailsDate(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	meetingID, err := store.UpsertMeeting(ctx, &models.Meeting{Date: day(2025, 12, 23), VenueCode: "ST"})
	require.NoError(t, err)
	_, err = store.UpsertRace(ctx, meetingID, &models.Race{RaceNo: 1})
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.errs[oddsWinURL] = fmt.Errorf("%w: re-login budget exhausted", utils.ErrAuthExpired)
	o := testOrchestrator(store, newFakeFetcher(), fetcher)

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(ctx, scope, Options{Odds: true, Facets: []models.Facet{models.FacetWin}})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesFailed)
	require.NotEmpty(t, sum.Failures)
	assert.Equal(t, "odds", sum.Failures[0].Stage)
	assert.Equal(t, "Auth_Expired", sum.Failures[0].Category)
}

func TestRunScrape_CancelledContext(t *testing.T) {
	o := testOrchestrator(newFakeStore(), resultsFixtures(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scope := Scope{From: day(2025, 12, 23), To: day(2025, 12, 23)}
	sum, err := o.RunScrape(ctx, scope, Options{Results: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.DatesFailed)
	assert.Equal(t, 0, sum.DatesScraped)
}
