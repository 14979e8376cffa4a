package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/utils"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, debug bool) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: connecting to postgres: %v", utils.ErrDatabase, err)
	}
	return db, nil
}

// PostgresStore implements Store on bun. The same type serves both the
// root connection and a transaction scope: RunInUnit hands fn a copy bound
// to the transaction.
type PostgresStore struct {
	db  *bun.DB // nil inside a unit
	idb bun.IDB
	log *logrus.Entry
}

func NewPostgresStore(db *bun.DB, log *logrus.Entry) *PostgresStore {
	return &PostgresStore{db: db, idb: db, log: log}
}

func (s *PostgresStore) RunInUnit(ctx context.Context, fn func(ctx context.Context, unit Store) error) error {
	if s.db == nil {
		// Already inside a unit; nested calls join it.
		return fn(ctx, s)
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &PostgresStore{idb: tx, log: s.log})
	})
	if err != nil {
		return dbErr("transactional unit", err)
	}
	return nil
}

func (s *PostgresStore) MeetingExists(ctx context.Context, date time.Time, venueCode string) (bool, error) {
	q := s.idb.NewSelect().
		Model((*MeetingRow)(nil)).
		Where("date = ?", date.Format("2006-01-02"))
	if venueCode != "" {
		q = q.Where("venue_code = ?", venueCode)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, dbErr("checking meeting existence", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpsertMeeting(ctx context.Context, m *models.Meeting) (int64, error) {
	row := &MeetingRow{
		Date:      m.Date,
		VenueCode: m.VenueCode,
		VenueName: m.VenueName,
		Season:    m.Season,
		SourceURL: m.SourceURL,
	}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (date, venue_code) DO UPDATE").
		Set("venue_name = EXCLUDED.venue_name").
		Set("season = EXCLUDED.season").
		Set("source_url = EXCLUDED.source_url").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting meeting", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) UpsertRace(ctx context.Context, meetingID int64, r *models.Race) (int64, error) {
	row := &RaceRow{
		MeetingID:    meetingID,
		RaceNo:       r.RaceNo,
		NameCN:       r.NameCN,
		ClassText:    r.ClassText,
		DistanceM:    r.DistanceM,
		Going:        r.Going,
		Course:       r.Course,
		PrizeHKD:     r.PrizeHKD,
		SourceURL:    r.SourceURL,
		SectionalURL: r.SectionalURL,
	}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (meeting_id, race_no) DO UPDATE").
		Set("name_cn = EXCLUDED.name_cn").
		Set("class_text = EXCLUDED.class_text").
		Set("distance_m = EXCLUDED.distance_m").
		Set("going = EXCLUDED.going").
		Set("course = EXCLUDED.course").
		Set("prize_hkd = EXCLUDED.prize_hkd").
		Set("source_url = EXCLUDED.source_url").
		Set("sectional_url = EXCLUDED.sectional_url").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting race", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) UpsertHorse(ctx context.Context, h *models.HorseRef) (int64, error) {
	row := &HorseRow{Code: h.Code, NameCN: h.NameCN, AuthorityID: h.AuthorityID, ProfileURL: h.ProfileURL}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (code) DO UPDATE").
		Set("name_cn = EXCLUDED.name_cn").
		Set("authority_id = EXCLUDED.authority_id").
		Set("profile_url = EXCLUDED.profile_url").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting horse", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) UpsertJockey(ctx context.Context, j *models.JockeyRef) (int64, error) {
	row := &JockeyRow{Code: j.Code, NameCN: j.NameCN}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (code) DO UPDATE").
		Set("name_cn = EXCLUDED.name_cn").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting jockey", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) UpsertTrainer(ctx context.Context, t *models.TrainerRef) (int64, error) {
	row := &TrainerRow{Code: t.Code, NameCN: t.NameCN}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (code) DO UPDATE").
		Set("name_cn = EXCLUDED.name_cn").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting trainer", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) UpsertRunner(ctx context.Context, raceID, horseID, jockeyID, trainerID int64, r *models.Runner) (int64, error) {
	row := &RunnerRow{
		RaceID:         raceID,
		HorseID:        horseID,
		JockeyID:       jockeyID,
		TrainerID:      trainerID,
		HorseNo:        r.HorseNo,
		FinishOrder:    r.FinishOrder,
		DrawNo:         r.DrawNo,
		ActualWeight:   r.ActualWeight,
		DeclaredWeight: r.DeclaredWeight,
		LBW:            r.LBW,
		FinishTime:     r.FinishTime,
		WinOdds:        r.WinOdds,
	}
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (race_id, horse_id) DO UPDATE").
		Set("jockey_id = EXCLUDED.jockey_id").
		Set("trainer_id = EXCLUDED.trainer_id").
		Set("horse_no = EXCLUDED.horse_no").
		Set("finish_order = EXCLUDED.finish_order").
		Set("draw_no = EXCLUDED.draw_no").
		Set("actual_weight = EXCLUDED.actual_weight").
		Set("declared_weight = EXCLUDED.declared_weight").
		Set("lbw = EXCLUDED.lbw").
		Set("finish_time = EXCLUDED.finish_time").
		Set("win_odds = EXCLUDED.win_odds").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("upserting runner", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) ReplaceSectionals(ctx context.Context, runnerID int64, secs []models.Sectional) error {
	if len(secs) == 0 {
		return nil
	}
	rows := make([]SectionalRow, 0, len(secs))
	for _, sec := range secs {
		rows = append(rows, SectionalRow{
			RunnerID:    runnerID,
			SectionNo:   sec.SectionNo,
			Position:    sec.Position,
			TimeSeconds: sec.TimeSeconds,
		})
	}
	_, err := s.idb.NewInsert().Model(&rows).
		On("CONFLICT (runner_id, section_no) DO UPDATE").
		Set("position = EXCLUDED.position").
		Set("time_seconds = EXCLUDED.time_seconds").
		Exec(ctx)
	if err != nil {
		return dbErr("replacing sectionals", err)
	}
	return nil
}

func (s *PostgresStore) LastProfile(ctx context.Context, horseID int64) (*models.HorseProfile, time.Time, error) {
	row := new(ProfileRow)
	err := s.idb.NewSelect().Model(row).Where("horse_id = ?", horseID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, dbErr("loading profile", err)
	}
	return profileFromRow(row), row.LastObservedAt, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error {
	row := profileToRow(horseID, p)
	row.FirstObservedAt = observedAt
	row.LastObservedAt = observedAt
	_, err := s.idb.NewInsert().Model(row).
		On("CONFLICT (horse_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return dbErr("creating profile", err)
	}
	return nil
}

func (s *PostgresStore) RefreshProfile(ctx context.Context, horseID int64, p *models.HorseProfile, observedAt time.Time) error {
	row := profileToRow(horseID, p)
	row.LastObservedAt = observedAt
	_, err := s.idb.NewUpdate().Model(row).
		ExcludeColumn("id", "horse_id", "first_observed_at").
		Where("horse_id = ?", horseID).
		Exec(ctx)
	if err != nil {
		return dbErr("refreshing profile", err)
	}
	return nil
}

func (s *PostgresStore) AppendProfileHistory(ctx context.Context, horseID int64, p *models.HorseProfile, capturedAt time.Time) error {
	row := &ProfileHistoryRow{
		HorseID:           horseID,
		CapturedAt:        capturedAt,
		Origin:            p.Origin,
		Age:               p.Age,
		Colour:            p.Colour,
		Sex:               p.Sex,
		ImportType:        p.ImportType,
		SeasonPrizeHKD:    p.SeasonPrizeHKD,
		LifetimePrizeHKD:  p.LifetimePrizeHKD,
		RecordWins:        p.RecordWins,
		RecordSeconds:     p.RecordSeconds,
		RecordThirds:      p.RecordThirds,
		RecordStarts:      p.RecordStarts,
		Last10Starts:      p.Last10Starts,
		CurrentLocation:   p.CurrentLocation,
		OwnerName:         p.OwnerName,
		CurrentRating:     p.CurrentRating,
		SeasonStartRating: p.SeasonStartRating,
		SireName:          p.SireName,
		DamName:           p.DamName,
		DamSireName:       p.DamSireName,
		SourceURL:         p.SourceURL,
	}
	if _, err := s.idb.NewInsert().Model(row).Exec(ctx); err != nil {
		return dbErr("appending profile history", err)
	}
	return nil
}

func (s *PostgresStore) RunnerIDsByRace(ctx context.Context, raceID int64) (map[int]int64, error) {
	var rows []RunnerRow
	err := s.idb.NewSelect().Model(&rows).
		Column("id", "horse_no").
		Where("race_id = ?", raceID).
		Scan(ctx)
	if err != nil {
		return nil, dbErr("listing runners", err)
	}
	byHorseNo := make(map[int]int64, len(rows))
	for _, r := range rows {
		byHorseNo[r.HorseNo] = r.ID
	}
	return byHorseNo, nil
}

func (s *PostgresStore) RacesByDate(ctx context.Context, date time.Time) (map[int]int64, error) {
	var rows []RaceRow
	err := s.idb.NewSelect().Model(&rows).
		Column("rc.id", "rc.race_no").
		Join("JOIN meetings AS m ON m.id = rc.meeting_id").
		Where("m.date = ?", date.Format("2006-01-02")).
		Scan(ctx)
	if err != nil {
		return nil, dbErr("listing races for date", err)
	}
	byNo := make(map[int]int64, len(rows))
	for _, r := range rows {
		byNo[r.RaceNo] = r.ID
	}
	return byNo, nil
}

func (s *PostgresStore) InsertOddsSamples(ctx context.Context, byHorseNo map[int]int64, samples []models.OddsSample) (int, error) {
	rows := make([]OddsSampleRow, 0, len(samples))
	for _, sample := range samples {
		runnerID, ok := byHorseNo[sample.HorseNo]
		if !ok {
			// Scratched or renumbered horse; nothing to attach the sample to.
			continue
		}
		rows = append(rows, OddsSampleRow{
			RunnerID:   runnerID,
			BetType:    sample.BetType,
			ObservedAt: sample.ObservedAt,
			Value:      sample.Value,
			SourceURL:  sample.SourceURL,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res, err := s.idb.NewInsert().Model(&rows).
		On("CONFLICT (runner_id, bet_type, observed_at) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, dbErr("inserting odds samples", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(inserted), nil
}

func profileToRow(horseID int64, p *models.HorseProfile) *ProfileRow {
	return &ProfileRow{
		HorseID:           horseID,
		Origin:            p.Origin,
		Age:               p.Age,
		Colour:            p.Colour,
		Sex:               p.Sex,
		ImportType:        p.ImportType,
		SeasonPrizeHKD:    p.SeasonPrizeHKD,
		LifetimePrizeHKD:  p.LifetimePrizeHKD,
		RecordWins:        p.RecordWins,
		RecordSeconds:     p.RecordSeconds,
		RecordThirds:      p.RecordThirds,
		RecordStarts:      p.RecordStarts,
		Last10Starts:      p.Last10Starts,
		CurrentLocation:   p.CurrentLocation,
		OwnerName:         p.OwnerName,
		CurrentRating:     p.CurrentRating,
		SeasonStartRating: p.SeasonStartRating,
		SireName:          p.SireName,
		DamName:           p.DamName,
		DamSireName:       p.DamSireName,
		SourceURL:         p.SourceURL,
	}
}

func profileFromRow(row *ProfileRow) *models.HorseProfile {
	return &models.HorseProfile{
		Origin:            row.Origin,
		Age:               row.Age,
		Colour:            row.Colour,
		Sex:               row.Sex,
		ImportType:        row.ImportType,
		SeasonPrizeHKD:    row.SeasonPrizeHKD,
		LifetimePrizeHKD:  row.LifetimePrizeHKD,
		RecordWins:        row.RecordWins,
		RecordSeconds:     row.RecordSeconds,
		RecordThirds:      row.RecordThirds,
		RecordStarts:      row.RecordStarts,
		Last10Starts:      row.Last10Starts,
		CurrentLocation:   row.CurrentLocation,
		OwnerName:         row.OwnerName,
		CurrentRating:     row.CurrentRating,
		SeasonStartRating: row.SeasonStartRating,
		SireName:          row.SireName,
		DamName:           row.DamName,
		DamSireName:       row.DamSireName,
		SourceURL:         row.SourceURL,
	}
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", utils.ErrDatabase, op, err)
}
