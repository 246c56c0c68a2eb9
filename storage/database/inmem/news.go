package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/MrXof/ElectiveFlow/core/news"
)

type newsRepository struct {
	db *DB
}

var _ news.Repository = (*newsRepository)(nil)

func NewNewsRepository(db *DB) *newsRepository {
	return &newsRepository{db: db}
}

func (repo *newsRepository) CreateNews(_ context.Context, n news.News) (news.News, error) {
	repo.db.newsMu.Lock()
	defer repo.db.newsMu.Unlock()

	n.ID = uuid.New().String()
	stored := n
	repo.db.news[n.ID] = &stored
	return n, nil
}

func (repo *newsRepository) LatestNews(_ context.Context, limit int) ([]news.News, error) {
	repo.db.newsMu.RLock()
	defer repo.db.newsMu.RUnlock()

	items := make([]news.News, 0, len(repo.db.news))
	for _, n := range repo.db.news {
		items = append(items, *n)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (repo *newsRepository) DeleteNews(_ context.Context, id string) error {
	repo.db.newsMu.Lock()
	defer repo.db.newsMu.Unlock()

	if _, ok := repo.db.news[id]; !ok {
		return news.ErrNotFound
	}
	delete(repo.db.news, id)
	return nil
}
