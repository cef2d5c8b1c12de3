package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/SOAP/iti47", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected context to have a deadline")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/SOAP/iti38", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	}

	if err := RequestTimeout(20 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestRequestTimeout_WrappedDeadlineError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/SOAP/iti47", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return fmt.Errorf("pds lookup: %w", c.Request().Context().Err())
	}

	if err := RequestTimeout(10 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
}

// A handler that writes after the deadline keeps sole ownership of the
// response. Run with -race.
func TestRequestTimeout_HandlerWritesAfterDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/SOAP/iti38", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		time.Sleep(15 * time.Millisecond)
		return c.String(http.StatusOK, "failure body")
	}

	if err := RequestTimeout(5 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected the handler's 200, got %d", rec.Code)
	}
	if rec.Body.String() != "failure body" {
		t.Errorf("expected only the handler's body, got %q", rec.Body.String())
	}
}

func TestRequestTimeout_ServerRoundTrip(t *testing.T) {
	e := echo.New()
	e.Use(RequestTimeout(5 * time.Millisecond))
	e.POST("/SOAP/iti38", func(c echo.Context) error {
		time.Sleep(15 * time.Millisecond)
		return c.String(http.StatusOK, "late")
	})
	server := httptest.NewServer(e)
	defer server.Close()

	for i := 0; i < 5; i++ {
		resp, err := http.Post(server.URL+"/SOAP/iti38", "application/soap+xml", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/relay/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline on the relay socket")
		}
		return nil
	}

	if err := RequestTimeout(20*time.Millisecond, "/relay/ws")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/SOAP/iti39", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	err := RequestTimeout(5 * time.Second)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}
