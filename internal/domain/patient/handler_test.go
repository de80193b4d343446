package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError with %d, got %v", code, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestHandler_RegisterPatient(t *testing.T) {
	h, e := newTestHandler()

	body := `{"full_name":"Ana Santos","gender":"Female","age":34,"birth_date":"1991-07-02"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RegisterPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID == 0 || p.FullName != "Ana Santos" {
		t.Errorf("unexpected patient: %+v", p)
	}
}

func TestHandler_RegisterPatient_BadRequest(t *testing.T) {
	h, e := newTestHandler()

	body := `{"full_name":"Ana Santos","gender":"F","age":34,"birth_date":"1991-07-02"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	expectHTTPStatus(t, h.RegisterPatient(c), http.StatusBadRequest)
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	p := validPatient()
	_ = h.svc.Register(context.Background(), p, testActor)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_Errors(t *testing.T) {
	tests := []struct {
		id   string
		code int
	}{
		{"abc", http.StatusBadRequest},
		{"0", http.StatusBadRequest},
		{"77", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			h, e := newTestHandler()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			expectHTTPStatus(t, h.GetPatient(c), tt.code)
		})
	}
}

func TestHandler_SearchPatients(t *testing.T) {
	h, e := newTestHandler()
	_ = h.svc.Register(context.Background(), validPatient(), testActor)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients?q=santos", nil), rec)
	if err := h.SearchPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("expected 1 result, got %+v", body)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, e := newTestHandler()
	_ = h.svc.Register(context.Background(), validPatient(), testActor)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_DeletePatient_Conflict(t *testing.T) {
	h, e := newTestHandler()
	h.svc.SetReferenceChecker(stubRefs{referenced: true})
	_ = h.svc.Register(context.Background(), validPatient(), testActor)

	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("1")
	expectHTTPStatus(t, h.DeletePatient(c), http.StatusConflict)
}

func TestHandler_UpdatePatient(t *testing.T) {
	h, e := newTestHandler()
	_ = h.svc.Register(context.Background(), validPatient(), testActor)

	body := `{"full_name":"Ana Santos-Lim","gender":"Female","age":35,"birth_date":"1991-07-02"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/patients/1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID != 1 || p.FullName != "Ana Santos-Lim" || p.Age != 35 {
		t.Errorf("unexpected patient: %+v", p)
	}
}

func TestHandler_UpdatePatient_Errors(t *testing.T) {
	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"bad id", "abc", `{}`, http.StatusBadRequest},
		{"invalid body", "1", `{"full_name":"","gender":"Female","age":1,"birth_date":"2020-01-01"}`, http.StatusBadRequest},
		{"unknown patient", "7", `{"full_name":"X","gender":"Male","age":1,"birth_date":"2020-01-01"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler()
			_ = h.svc.Register(context.Background(), validPatient(), testActor)

			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			expectHTTPStatus(t, h.UpdatePatient(c), tt.want)
		})
	}
}
