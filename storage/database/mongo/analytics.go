package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
)

type dailyDoc struct {
	OfferingID string    `bson:"offering_id"`
	Day        time.Time `bson:"day"`
	Count      int       `bson:"count"`
}

type analyticsRepository struct {
	coll *mongo.Collection
}

var _ elective.AnalyticsRepository = (*analyticsRepository)(nil)

func NewAnalyticsRepository(db *mongo.Database) *analyticsRepository {
	return &analyticsRepository{coll: db.Collection(dailyColl)}
}

func (repo *analyticsRepository) RecordDailyRegistration(ctx context.Context, offeringID string, at time.Time) error {
	filter := bson.M{"offering_id": offeringID, "day": core.StartOfDay(at)}
	update := bson.M{"$inc": bson.M{"count": 1}}
	if _, err := repo.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return errors.Wrap(err, "upserting daily registrations")
	}
	return nil
}

func (repo *analyticsRepository) QueryDailyCounts(ctx context.Context, offeringID string, from, to time.Time) ([]elective.DailyCount, error) {
	filter := bson.M{
		"offering_id": offeringID,
		"day":         bson.M{"$gte": core.StartOfDay(from), "$lte": core.StartOfDay(to)},
	}
	cursor, err := repo.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "day", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "finding daily registrations")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []dailyDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding daily registrations")
	}
	counts := make([]elective.DailyCount, 0, len(docs))
	for _, d := range docs {
		counts = append(counts, elective.DailyCount{Day: core.StartOfDay(d.Day), Count: d.Count})
	}
	return counts, nil
}

func (repo *analyticsRepository) DeleteDailyCounts(ctx context.Context, offeringID string) error {
	_, err := repo.coll.DeleteMany(ctx, bson.M{"offering_id": offeringID})
	return errors.Wrap(err, "deleting daily registrations")
}
