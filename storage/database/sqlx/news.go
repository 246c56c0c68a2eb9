package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core/news"
)

const newsColumns = "id, title, description, image_url, article_url, published_at, created_at"

type newsRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	ImageURL    string    `db:"image_url"`
	ArticleURL  string    `db:"article_url"`
	PublishedAt time.Time `db:"published_at"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r newsRow) toNews() news.News {
	return news.News{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		ArticleURL:  r.ArticleURL,
		PublishedAt: r.PublishedAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type newsRepository struct {
	db *sqlx.DB
}

var _ news.Repository = (*newsRepository)(nil)

func NewNewsRepository(db *sqlx.DB) *newsRepository {
	return &newsRepository{db: db}
}

func (repo *newsRepository) CreateNews(ctx context.Context, n news.News) (news.News, error) {
	n.ID = uuid.New().String()
	row := newsRow{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		ImageURL:    n.ImageURL,
		ArticleURL:  n.ArticleURL,
		PublishedAt: n.PublishedAt.UTC(),
		CreatedAt:   n.CreatedAt.UTC(),
	}
	q := "INSERT INTO news (" + newsColumns + ") VALUES " +
		"(:id, :title, :description, :image_url, :article_url, :published_at, :created_at)"
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return news.News{}, errors.Wrap(err, "inserting news")
	}
	return n, nil
}

func (repo *newsRepository) LatestNews(ctx context.Context, limit int) ([]news.News, error) {
	var rows []newsRow
	q := "SELECT " + newsColumns + " FROM news ORDER BY published_at DESC, id ASC LIMIT $1"
	if err := repo.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, errors.Wrap(err, "selecting news")
	}
	items := make([]news.News, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toNews())
	}
	return items, nil
}

func (repo *newsRepository) DeleteNews(ctx context.Context, id string) error {
	if !isUUID(id) {
		return news.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, "DELETE FROM news WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting news")
	}
	return checkAffected(res, news.ErrNotFound)
}
