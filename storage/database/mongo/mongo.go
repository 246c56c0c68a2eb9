// Package mongorepos implements the repositories on MongoDB.
package mongorepos

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// collection names
const (
	usersColl         = "users"
	offeringsColl     = "offerings"
	registrationsColl = "registrations"
	dailyColl         = "daily_registrations"
	newsColl          = "news"
)

// EnsureIndexes creates the indexes the repositories rely on for uniqueness & lookups.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		usersColl: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		offeringsColl: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		registrationsColl: {
			{
				Keys:    bson.D{{Key: "offering_id", Value: 1}, {Key: "student_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		dailyColl: {
			{
				Keys:    bson.D{{Key: "offering_id", Value: 1}, {Key: "day", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		newsColl: {
			{Keys: bson.D{{Key: "published_at", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", coll)
		}
	}
	return nil
}

// containsCI matches values containing `s`, ignoring case.
func containsCI(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

// equalsCI matches values equal to `s`, ignoring case.
func equalsCI(s string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(s) + "$", "$options": "i"}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
