// Package boiledrepos implements repositories on top of sqlboiler's query layer.
package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
)

const dayFormat = "2006-01-02"

type dailyRow struct {
	Day   time.Time `boil:"day"`
	Count int       `boil:"count"`
}

type analyticsRepository struct {
	exec boil.ContextExecutor
}

var _ elective.AnalyticsRepository = (*analyticsRepository)(nil) // interface compliance check

func NewAnalyticsRepository(exec core.DBExecutor) *analyticsRepository {
	return &analyticsRepository{exec: exec}
}

func (repo *analyticsRepository) RecordDailyRegistration(ctx context.Context, offeringID string, at time.Time) error {
	q := `INSERT INTO daily_registrations (offering_id, day, count) VALUES ($1, $2::date, 1)
		ON CONFLICT (offering_id, day) DO UPDATE SET count = daily_registrations.count + 1`
	day := core.StartOfDay(at).Format(dayFormat)
	if _, err := queries.Raw(q, offeringID, day).ExecContext(ctx, repo.exec); err != nil {
		return errors.Wrap(err, "upserting daily registrations")
	}
	return nil
}

func (repo *analyticsRepository) QueryDailyCounts(ctx context.Context, offeringID string, from, to time.Time) ([]elective.DailyCount, error) {
	q := `SELECT day, count FROM daily_registrations
		WHERE offering_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY day ASC`

	var rows []dailyRow
	err := queries.Raw(q, offeringID, core.StartOfDay(from).Format(dayFormat), core.StartOfDay(to).Format(dayFormat)).
		Bind(ctx, repo.exec, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying daily registrations")
	}

	counts := make([]elective.DailyCount, 0, len(rows))
	for _, r := range rows {
		counts = append(counts, elective.DailyCount{Day: core.StartOfDay(r.Day), Count: r.Count})
	}
	return counts, nil
}

func (repo *analyticsRepository) DeleteDailyCounts(ctx context.Context, offeringID string) error {
	_, err := queries.Raw("DELETE FROM daily_registrations WHERE offering_id = $1", offeringID).ExecContext(ctx, repo.exec)
	return errors.Wrap(err, "deleting daily registrations")
}
