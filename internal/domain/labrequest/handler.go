package labrequest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/labflow/lims/internal/platform/auth"
	"github.com/labflow/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleStaff))

	g.POST("/requests", h.CreateRequest)
	g.GET("/requests", h.ListRequests)
	g.GET("/requests/search", h.SearchRequests)
	g.GET("/requests/:id", h.GetRequest)
	g.POST("/requests/approve", h.ApproveRequest)
	g.POST("/requests/:id/reject", h.RejectRequest)
	g.POST("/requests/approved/:id/recall", h.RecallRequest)

	g.POST("/tests", h.SaveResult)
	g.PUT("/tests/:id", h.UpdateResult)
	g.GET("/tests/search", h.SearchTests)
	g.GET("/tests/:id", h.GetTest)
	g.DELETE("/tests/:id", h.DeleteTest)

	g.GET("/catalog", h.GetCatalog)
}

// toHTTPError maps an engine error to a response carrying its stable code.
func toHTTPError(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = classify(err).(*Error)
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindConflict:
		status = http.StatusConflict
	case KindNotFound:
		status = http.StatusNotFound
	case KindTransient:
		status = http.StatusServiceUnavailable
	}

	he := echo.NewHTTPError(status, map[string]string{"code": e.Code, "message": e.Message})
	if e.Kind >= KindTransient {
		he.SetInternal(err)
	}
	return he
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var in CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreateRequest(c.Request().Context(), in, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p.View())
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	views, total, err := h.svc.ListRequests(c.Request().Context(), c.QueryParam("stage"), pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) SearchRequests(c echo.Context) error {
	views, err := h.svc.SearchRequests(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": views, "total": len(views)})
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.GetRequestDetails(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type approveBody struct {
	PatientID int64  `json:"patient_id"`
	RequestID *int64 `json:"request_id"`
}

func (h *Handler) ApproveRequest(c echo.Context) error {
	var body approveBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID <= 0 {
		return toHTTPError(missingField("patient_id"))
	}
	a, err := h.svc.ApproveRequest(c.Request().Context(), body.PatientID, body.RequestID, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a.View())
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body rejectBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rj, err := h.svc.RejectRequest(c.Request().Context(), id, body.Reason, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rj)
}

func (h *Handler) RecallRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.RecallToPending(c.Request().Context(), id, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p.View())
}

func (h *Handler) SaveResult(c echo.Context) error {
	var in SaveResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status := http.StatusCreated
	if in.TestID != nil {
		status = http.StatusOK
	}
	t, err := h.svc.SaveOrUpdateResult(c.Request().Context(), in, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(status, t)
}

func (h *Handler) UpdateResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in SaveResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.TestID = &id
	t, err := h.svc.SaveOrUpdateResult(c.Request().Context(), in, auth.ActorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) SearchTests(c echo.Context) error {
	tests, err := h.svc.SearchTestRecords(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return toHTTPError(err)
	}
	if tests == nil {
		tests = []*TestRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": tests, "total": len(tests)})
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTestRecord(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTestRecord(c.Request().Context(), id, auth.ActorFrom(c)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Catalog())
}
