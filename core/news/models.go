package news

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrXof/ElectiveFlow/core"
)

// News is a university announcement shown in the news feed.
type News struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	ArticleURL  string    `json:"article_url"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewNews contains information needed to publish News. A zero PublishedAt means now.
type NewNews struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"required"`
	ImageURL    string    `json:"image_url" validate:"omitempty,url"`
	ArticleURL  string    `json:"article_url" validate:"required,url"`
	PublishedAt time.Time `json:"published_at"`
}

func (nn *NewNews) Validate(validate *validator.Validate) error {
	nn.Title = core.CleanString(nn.Title)
	nn.Description = core.CleanString(nn.Description)
	nn.ImageURL = core.CleanString(nn.ImageURL)
	nn.ArticleURL = core.CleanString(nn.ArticleURL)
	return validate.Struct(nn)
}
