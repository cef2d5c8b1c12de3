package ccda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// =========== Mock RecordFetcher ===========

type mockFetcher struct {
	bundle *fhirmodels.Bundle
	err    error
	gotNHS string
}

func (m *mockFetcher) FetchStructuredRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Bundle, error) {
	m.gotNHS = nhsNumber
	if m.err != nil {
		return nil, m.err
	}
	return m.bundle, nil
}

type upstreamError struct {
	status int
}

func (e *upstreamError) Error() string   { return fmt.Sprintf("upstream returned %d", e.status) }
func (e *upstreamError) HTTPStatus() int { return e.status }

func newTestHandler(fetcher RecordFetcher) *Handler {
	return NewHandler(newTestGenerator(), NewParser(), fetcher)
}

// =========== Handler Tests ===========

func TestHandler_GenerateCCD_Success(t *testing.T) {
	fetcher := &mockFetcher{bundle: loadStructuredRecord(t)}
	h := newTestHandler(fetcher)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/969%20093%207278/ccd", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("nhs")
	c.SetParamValues("969 093 7278")

	err := h.GenerateCCD(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if fetcher.gotNHS != "9690937278" {
		t.Errorf("expected normalized NHS number, got %q", fetcher.gotNHS)
	}

	contentType := rec.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/xml") {
		t.Errorf("expected Content-Type containing 'application/xml', got %q", contentType)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "ClinicalDocument") {
		t.Error("expected ClinicalDocument in response body")
	}
	if !strings.Contains(body, "SAMUEL") {
		t.Error("expected patient name in response body")
	}
}

func TestHandler_GenerateCCD_InvalidNHSNumber(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newTestHandler(fetcher)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/9690937279/ccd", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("nhs")
	c.SetParamValues("9690937279")

	if err := h.GenerateCCD(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if fetcher.gotNHS != "" {
		t.Error("expected fetcher not to be called")
	}
}

func TestHandler_GenerateCCD_UpstreamStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &upstreamError{status: http.StatusNotFound}, http.StatusNotFound},
		{"no consent", &upstreamError{status: http.StatusForbidden}, http.StatusForbidden},
		{"wrapped", fmt.Errorf("fetch: %w", &upstreamError{status: http.StatusServiceUnavailable}), http.StatusServiceUnavailable},
		{"plain error", fmt.Errorf("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockFetcher{err: tt.err})
			e := echo.New()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/9690937278/ccd", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("nhs")
			c.SetParamValues("9690937278")

			if err := h.GenerateCCD(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandler_GenerateCCD_NoFetcher(t *testing.T) {
	h := newTestHandler(nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/9690937278/ccd", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("nhs")
	c.SetParamValues("9690937278")

	if err := h.GenerateCCD(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandler_ConvertBundle_Success(t *testing.T) {
	h := newTestHandler(nil)
	e := echo.New()

	body, err := os.ReadFile("testdata/structured_record.json")
	if err != nil {
		t.Fatalf("read testdata: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/convert", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/fhir+json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ConvertBundle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Summary Care Record") {
		t.Error("expected document title in response body")
	}
}

func TestHandler_ConvertBundle_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "not json", http.StatusBadRequest},
		{"not a bundle", `{"resourceType":"Patient","id":"p1"}`, http.StatusBadRequest},
		{"no patient", `{"resourceType":"Bundle","type":"collection","entry":[]}`, http.StatusUnprocessableEntity},
		{"unresolved reference", `{"resourceType":"Bundle","type":"collection","entry":[
			{"resource":{"resourceType":"Patient","id":"p1"}},
			{"resource":{"resourceType":"List","id":"l1","title":"Problems","entry":[{"item":{"reference":"Condition/x"}}]}}
		]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(nil)
			e := echo.New()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/convert", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.ConvertBundle(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ParseCCDA_Success(t *testing.T) {
	h := newTestHandler(nil)
	e := echo.New()

	xmlData := generatedDocument(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/parse", strings.NewReader(string(xmlData)))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ParseCCDA(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("expected Content-Type containing 'application/json', got %q", contentType)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}

	if result["title"] != "Summary Care Record" {
		t.Errorf("expected title 'Summary Care Record', got %v", result["title"])
	}

	sections, ok := result["sections"].([]interface{})
	if !ok {
		t.Fatal("expected sections array in response")
	}
	if len(sections) != 5 {
		t.Errorf("expected 5 sections in parsed output, got %d", len(sections))
	}
}

func TestHandler_ParseCCDA_InvalidXML(t *testing.T) {
	h := newTestHandler(nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/parse", strings.NewReader("this is not valid xml"))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ParseCCDA(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h := newTestHandler(&mockFetcher{})
	e := echo.New()

	g := e.Group("/api/v1")
	h.RegisterRoutes(g)

	routes := e.Routes()
	routePaths := make(map[string]bool)
	for _, r := range routes {
		routePaths[r.Method+":"+r.Path] = true
	}

	expected := []string{
		"GET:/api/v1/patients/:nhs/ccd",
		"POST:/api/v1/ccda/convert",
		"POST:/api/v1/ccda/parse",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}
