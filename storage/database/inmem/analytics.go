package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
)

type analyticsRepository struct {
	db *DB
}

var _ elective.AnalyticsRepository = (*analyticsRepository)(nil)

func NewAnalyticsRepository(db *DB) *analyticsRepository {
	return &analyticsRepository{db: db}
}

func (repo *analyticsRepository) RecordDailyRegistration(_ context.Context, offeringID string, at time.Time) error {
	repo.db.dailyMu.Lock()
	defer repo.db.dailyMu.Unlock()

	repo.db.daily[dailyKey{offeringID: offeringID, day: core.StartOfDay(at)}]++
	return nil
}

func (repo *analyticsRepository) QueryDailyCounts(_ context.Context, offeringID string, from, to time.Time) ([]elective.DailyCount, error) {
	repo.db.dailyMu.RLock()
	defer repo.db.dailyMu.RUnlock()

	from, to = core.StartOfDay(from), core.StartOfDay(to)
	counts := make([]elective.DailyCount, 0)
	for key, count := range repo.db.daily {
		if key.offeringID != offeringID || key.day.Before(from) || key.day.After(to) {
			continue
		}
		counts = append(counts, elective.DailyCount{Day: key.day, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Day.Before(counts[j].Day) })
	return counts, nil
}

func (repo *analyticsRepository) DeleteDailyCounts(_ context.Context, offeringID string) error {
	repo.db.dailyMu.Lock()
	defer repo.db.dailyMu.Unlock()

	for key := range repo.db.daily {
		if key.offeringID == offeringID {
			delete(repo.db.daily, key)
		}
	}
	return nil
}
