package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/labflow/lims/internal/platform/auth"
)

// -- Fake searcher --

type fakeSearcher struct {
	got    SearchParams
	result *SearchResult
	err    error
}

func (f *fakeSearcher) Search(_ context.Context, p SearchParams) (*SearchResult, error) {
	f.got = p
	return f.result, f.err
}

func TestHandler_Search(t *testing.T) {
	s := &fakeSearcher{result: &SearchResult{
		Entries: []*Entry{{ID: 3, UserID: "reviewer", Action: ActionApproveRequest, TableName: "approved_requests", RecordID: 1}},
		Total:   1, Limit: 50,
	}}
	h := NewHandler(s)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/audit-log?table_name=approved_requests&record_id=1&limit=50&start_time=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if s.got.TableName != "approved_requests" || s.got.RecordID != 1 || s.got.Limit != 50 {
		t.Errorf("unexpected params: %+v", s.got)
	}
	if s.got.StartTime == nil || s.got.StartTime.Year() != 2026 {
		t.Errorf("expected start_time to be parsed, got %v", s.got.StartTime)
	}

	var body SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Total != 1 || body.Entries[0].Action != ActionApproveRequest {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHandler_Search_BadParams(t *testing.T) {
	tests := []string{
		"/api/v1/audit-log?record_id=abc",
		"/api/v1/audit-log?limit=ten",
		"/api/v1/audit-log?end_time=yesterday",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
			err := NewHandler(&fakeSearcher{}).Search(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}
}

func TestHandler_Search_StorageError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/audit-log", nil), httptest.NewRecorder())
	err := NewHandler(&fakeSearcher{err: errors.New("conn reset")}).Search(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", err)
	}
}

func TestHandler_RequiresAdmin(t *testing.T) {
	e := echo.New()
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "u1", "tech", []string{auth.RoleStaff})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(&fakeSearcher{result: &SearchResult{}}).RegisterRoutes(g)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit-log", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for staff, got %d", rec.Code)
	}
}
