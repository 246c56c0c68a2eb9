package news

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
)

// FeedSize is the number of News the feed holds.
const FeedSize = 20

var (
	nowFunc = time.Now // mockable

	ErrNotFound = errors.New("news not found")
)

type (
	Repository interface {
		CreateNews(ctx context.Context, n News) (News, error)
		// LatestNews returns at most `limit` News, the most recently published first.
		LatestNews(ctx context.Context, limit int) ([]News, error)
		DeleteNews(ctx context.Context, id string) error
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (svc *Service) Publish(ctx context.Context, nn NewNews) (News, error) {
	now := nowFunc().UTC()
	n := News{
		Title:       nn.Title,
		Description: nn.Description,
		ImageURL:    nn.ImageURL,
		ArticleURL:  nn.ArticleURL,
		PublishedAt: nn.PublishedAt.UTC(),
		CreatedAt:   now,
	}
	if n.PublishedAt.IsZero() {
		n.PublishedAt = now
	}
	n, err := svc.repo.CreateNews(ctx, n)
	if err != nil {
		return News{}, errors.Wrap(err, "creating news")
	}
	svc.logger.Info("news published", map[string]interface{}{"news": n.ID})
	return n, nil
}

// Latest returns the news feed. `limit` is capped to FeedSize, which is also the default.
func (svc *Service) Latest(ctx context.Context, limit int) ([]News, error) {
	if limit <= 0 || limit > FeedSize {
		limit = FeedSize
	}
	return svc.repo.LatestNews(ctx, limit)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteNews(ctx, id)
}
