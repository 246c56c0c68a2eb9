package sqlxrepos

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrXof/ElectiveFlow/core/news"
)

const newsID = "c4b2a1d0-7e6f-4d5c-9b8a-1f2e3d4c5b04"

func TestNewsRepository_CreateNews(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO news").
		WithArgs(sqlmock.AnyArg(), "Open day", "Come visit", "", "https://uni.test/open-day", ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := NewNewsRepository(db).CreateNews(context.Background(), news.News{
		Title:       "Open day",
		Description: "Come visit",
		ArticleURL:  "https://uni.test/open-day",
		PublishedAt: ts,
		CreatedAt:   ts,
	})
	require.NoError(t, err)
	assert.True(t, isUUID(n.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewsRepository_LatestNews(t *testing.T) {
	db, mock := newMockDB(t)
	cols := []string{"id", "title", "description", "image_url", "article_url", "published_at", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM news ORDER BY published_at DESC, id ASC LIMIT \$1`).
		WithArgs(news.FeedSize).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(newsID, "Open day", "Come visit", "", "https://uni.test/open-day", ts, ts))

	items, err := NewNewsRepository(db).LatestNews(context.Background(), news.FeedSize)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, newsID, items[0].ID)
	assert.Equal(t, ts, items[0].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewsRepository_DeleteNews(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		affected int64
		wantErr  error
	}{
		{name: "deleted", id: newsID, affected: 1},
		{name: "unknown", id: newsID, wantErr: news.ErrNotFound},
		{name: "not a uuid", id: "abc", wantErr: news.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			if isUUID(tt.id) {
				mock.ExpectExec(`DELETE FROM news WHERE id = \$1`).
					WithArgs(tt.id).
					WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}
			err := NewNewsRepository(db).DeleteNews(context.Background(), tt.id)
			assert.Equal(t, tt.wantErr, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
