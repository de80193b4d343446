package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labflow/lims/internal/platform/auth"
)

// Searcher is the read side of the audit log.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/audit-log", h.Search)
}

func (h *Handler) Search(c echo.Context) error {
	params, err := paramsFromQuery(c)
	if err != nil {
		return err
	}
	result, err := h.searcher.Search(c.Request().Context(), params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audit search failed")
	}
	return c.JSON(http.StatusOK, result)
}

func paramsFromQuery(c echo.Context) (SearchParams, error) {
	p := SearchParams{
		TableName: c.QueryParam("table_name"),
		UserID:    c.QueryParam("user_id"),
		Action:    c.QueryParam("action"),
	}

	ints := []struct {
		name string
		dst  *int
	}{{"limit", &p.Limit}, {"offset", &p.Offset}}
	for _, f := range ints {
		if v := c.QueryParam(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return p, echo.NewHTTPError(http.StatusBadRequest, "invalid "+f.name)
			}
			*f.dst = n
		}
	}
	if v := c.QueryParam("record_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, echo.NewHTTPError(http.StatusBadRequest, "invalid record_id")
		}
		p.RecordID = id
	}

	times := []struct {
		name string
		dst  **time.Time
	}{{"start_time", &p.StartTime}, {"end_time", &p.EndTime}}
	for _, f := range times {
		if v := c.QueryParam(f.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return p, echo.NewHTTPError(http.StatusBadRequest, f.name+" must be RFC 3339")
			}
			*f.dst = &t
		}
	}
	return p, nil
}
