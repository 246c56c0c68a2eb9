package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
)

var (
	contextOfferingKey = "offering"

	errOfferingNotFoundInCtx = errors.New("elective not found in echo.Context")
)

type electiveApi struct {
	svc      *elective.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerElectiveAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *elective.Service, usrSvc *user.Service, validate *validator.Validate) {
	api := electiveApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	og := g.Group("/offerings", jwt)
	og.GET("", api.query)
	og.POST("", api.create, teacherMiddleware())

	// detail endpoints
	dg := og.Group("/:id", api.offeringMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, api.ownerOrAdminMiddleware)
	dg.DELETE("", api.destroy, api.ownerOrAdminMiddleware)
	dg.PUT("/teacher", api.reassignTeacher, adminMiddleware())
	dg.POST("/registrations", api.register, studentMiddleware())
	dg.GET("/registrations", api.queryRegistrations, api.ownerOrAdminMiddleware)
	dg.POST("/optimize", api.optimize, api.ownerOrAdminMiddleware)
	dg.POST("/autofill", api.autofill, api.ownerOrAdminMiddleware)
	dg.POST("/groups", api.reassignGroups, api.ownerOrAdminMiddleware)
	dg.GET("/analytics", api.analytics, api.ownerOrAdminMiddleware)
	dg.GET("/export", api.export, api.ownerOrAdminMiddleware)

	g.DELETE("/registrations/:id", api.unregister, jwt)
	g.GET("/users/me/registrations", api.myRegistrations, jwt)
	g.GET("/recommendations", api.recommend, jwt, studentMiddleware())
}

// Middleware

// offeringMiddleware loads the elective named by the `id` path param.
func (api *electiveApi) offeringMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		off, err := api.svc.GetOffering(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == elective.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding elective")
		}
		ctx.Set(contextOfferingKey, off)
		return next(ctx)
	}
}

// ownerOrAdminMiddleware only lets through the teacher of the elective and admins.
func (api *electiveApi) ownerOrAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		off, err := contextOffering(ctx)
		if err != nil {
			return err
		}
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.IsAdmin || (claims.IsTeacher && claims.Subject == off.TeacherID) {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

func contextOffering(ctx echo.Context) (elective.Offering, error) {
	off, ok := ctx.Get(contextOfferingKey).(elective.Offering)
	if !ok {
		return elective.Offering{}, errors.Wrap(errOfferingNotFoundInCtx, "retrieving elective from context")
	}
	return off, nil
}

// Handlers

func (api *electiveApi) query(ctx echo.Context) error {
	filter := new(elective.OfferingFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []elective.Offering{})
	}
	filter.Clean()
	if boolQueryParam(ctx, "open") {
		filter.OpenAt = time.Now().UTC()
	}

	offerings, err := api.svc.QueryOfferings(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying electives")
	}
	if offerings == nil {
		offerings = []elective.Offering{}
	}
	return ctx.JSON(http.StatusOK, offerings)
}

func (api *electiveApi) create(ctx echo.Context) error {
	var data elective.NewOffering
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOffering")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	teacher, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	off, err := api.svc.CreateOffering(ctx.Request().Context(), teacher, data)
	if err != nil {
		return errors.Wrap(err, "creating elective")
	}
	return ctx.JSON(http.StatusCreated, off)
}

func (api *electiveApi) retrieve(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, off)
}

func (api *electiveApi) update(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}

	var data elective.UpdateOffering
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateOffering")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	off, err = api.svc.UpdateOffering(ctx.Request().Context(), off.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating elective")
	}
	return ctx.JSON(http.StatusOK, off)
}

func (api *electiveApi) destroy(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteOffering(ctx.Request().Context(), off.ID); err != nil {
		return errors.Wrap(err, "deleting elective")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *electiveApi) reassignTeacher(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}

	var data TeacherRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	teacher, err := api.usrSvc.GetByID(ctx.Request().Context(), data.TeacherID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(err, core.FieldError{Field: "teacher_id", Error: user.ErrNotFound.Error()})
		}
		return errors.Wrap(err, "finding teacher")
	}
	off, err = api.svc.ReassignTeacher(ctx.Request().Context(), off.ID, teacher)
	if err != nil {
		return errors.Wrap(err, "reassigning teacher")
	}
	return ctx.JSON(http.StatusOK, off)
}

func (api *electiveApi) register(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}

	var data elective.NewRegistration
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRegistration")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	student, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reg, err := api.svc.Register(ctx.Request().Context(), off.ID, student, data)
	if err != nil {
		return errors.Wrap(err, "registering student")
	}
	return ctx.JSON(http.StatusCreated, reg)
}

func (api *electiveApi) queryRegistrations(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	filter := elective.RegistrationFilter{
		OfferingID: off.ID,
		Status:     elective.Status(ctx.QueryParam("status")),
	}
	regs, err := api.svc.QueryRegistrations(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []elective.Registration{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *electiveApi) unregister(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	reg, err := api.svc.GetRegistration(reqCtx, ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == elective.ErrRegistrationNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding registration")
	}

	// the student, the teacher of the elective or an admin
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(ctxUsr.IsAdmin() || reg.StudentID == ctxUsr.ID) {
		off, err := api.svc.GetOffering(reqCtx, reg.OfferingID)
		if err != nil {
			return errors.Wrap(err, "finding elective")
		}
		if off.TeacherID != ctxUsr.ID {
			return errHttpNotFound
		}
	}

	if err = api.svc.Unregister(reqCtx, reg.ID); err != nil {
		return errors.Wrap(err, "unregistering")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *electiveApi) myRegistrations(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	regs, err := api.svc.QueryRegistrations(ctx.Request().Context(), elective.RegistrationFilter{StudentID: ctxUsr.ID})
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []elective.Registration{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *electiveApi) optimize(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Optimize(ctx.Request().Context(), off.ID, boolQueryParam(ctx, "apply"))
	if err != nil {
		return errors.Wrap(err, "optimizing groups")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *electiveApi) autofill(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	placed, err := api.svc.AutoDistribute(ctx.Request().Context(), off.ID)
	if err != nil {
		return errors.Wrap(err, "filling groups")
	}
	return ctx.JSON(http.StatusOK, placed)
}

func (api *electiveApi) reassignGroups(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}

	var data GroupsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GroupsRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	changed, err := api.svc.ReassignGroups(ctx.Request().Context(), off.ID, data.Changes)
	if err != nil {
		return errors.Wrap(err, "reassigning groups")
	}
	if changed == nil {
		changed = []elective.Registration{}
	}
	return ctx.JSON(http.StatusOK, changed)
}

func (api *electiveApi) analytics(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	days, err := intQueryParam(ctx, "days", 0)
	if err != nil {
		return err
	}
	res, err := api.svc.Analytics(ctx.Request().Context(), off.ID, days)
	if err != nil {
		return errors.Wrap(err, "computing analytics")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *electiveApi) export(ctx echo.Context) error {
	off, err := contextOffering(ctx)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = api.svc.ExportRegistrations(ctx.Request().Context(), off.ID, &buf); err != nil {
		return errors.Wrap(err, "exporting registrations")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "registrations-"+off.ID+".csv"))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (api *electiveApi) recommend(ctx echo.Context) error {
	limit, err := intQueryParam(ctx, "limit", 0)
	if err != nil {
		return err
	}
	student, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	offerings, err := api.svc.Recommend(ctx.Request().Context(), student, limit)
	if err != nil {
		return errors.Wrap(err, "recommending electives")
	}
	if offerings == nil {
		offerings = []elective.Offering{}
	}
	return ctx.JSON(http.StatusOK, offerings)
}

// TeacherRequest names the teacher an elective is handed over to.
type TeacherRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
}

// GroupsRequest maps registration IDs to their new group; null unassigns.
type GroupsRequest struct {
	Changes elective.Changeset `json:"changes" validate:"required"`
}
