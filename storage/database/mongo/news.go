package mongorepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/MrXof/ElectiveFlow/core/news"
)

type newsDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	ImageURL    string    `bson:"image_url"`
	ArticleURL  string    `bson:"article_url"`
	PublishedAt time.Time `bson:"published_at"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d newsDoc) toNews() news.News {
	return news.News{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		ImageURL:    d.ImageURL,
		ArticleURL:  d.ArticleURL,
		PublishedAt: d.PublishedAt.UTC(),
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

// latestNewsOptions sorts the feed newest first.
func latestNewsOptions(limit int) *options.FindOptionsBuilder {
	return options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
}

type newsRepository struct {
	coll *mongo.Collection
}

var _ news.Repository = (*newsRepository)(nil)

func NewNewsRepository(db *mongo.Database) *newsRepository {
	return &newsRepository{coll: db.Collection(newsColl)}
}

func (repo *newsRepository) CreateNews(ctx context.Context, n news.News) (news.News, error) {
	n.ID = uuid.New().String()
	doc := newsDoc{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		ImageURL:    n.ImageURL,
		ArticleURL:  n.ArticleURL,
		PublishedAt: n.PublishedAt.UTC(),
		CreatedAt:   n.CreatedAt.UTC(),
	}
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		return news.News{}, errors.Wrap(err, "inserting news")
	}
	return n, nil
}

func (repo *newsRepository) LatestNews(ctx context.Context, limit int) ([]news.News, error) {
	cursor, err := repo.coll.Find(ctx, bson.M{}, latestNewsOptions(limit))
	if err != nil {
		return nil, errors.Wrap(err, "finding news")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []newsDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding news")
	}
	items := make([]news.News, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.toNews())
	}
	return items, nil
}

func (repo *newsRepository) DeleteNews(ctx context.Context, id string) error {
	res, err := repo.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "deleting news")
	}
	if res.DeletedCount == 0 {
		return news.ErrNotFound
	}
	return nil
}
