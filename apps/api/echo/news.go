package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core/news"
)

type newsApi struct {
	svc      *news.Service
	validate *validator.Validate
}

func registerNewsAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *news.Service, validate *validator.Validate) {
	api := newsApi{
		svc:      svc,
		validate: validate,
	}

	ng := g.Group("/news", jwt)
	ng.GET("", api.latest)
	ng.POST("", api.publish, adminMiddleware())
	ng.DELETE("/:id", api.destroy, adminMiddleware())
}

func (api *newsApi) latest(ctx echo.Context) error {
	limit, err := intQueryParam(ctx, "limit", news.FeedSize)
	if err != nil {
		return err
	}
	items, err := api.svc.Latest(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "querying news")
	}
	if items == nil {
		items = []news.News{}
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *newsApi) publish(ctx echo.Context) error {
	var data news.NewNews
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNews")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	n, err := api.svc.Publish(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "publishing news")
	}
	return ctx.JSON(http.StatusCreated, n)
}

func (api *newsApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting news")
	}
	return ctx.NoContent(http.StatusNoContent)
}
