package ccda

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xhuma/gateway/pkg/fhirmodels"
	"github.com/xhuma/gateway/pkg/nhsnumber"
)

// RecordFetcher retrieves the structured record bundle for a patient.
type RecordFetcher interface {
	FetchStructuredRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Bundle, error)
}

// statusCoder is implemented by upstream errors that know their HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Handler provides HTTP endpoints for C-CDA generation and parsing.
type Handler struct {
	generator *Generator
	parser    *Parser
	fetcher   RecordFetcher
}

// NewHandler creates a new C-CDA handler.
func NewHandler(generator *Generator, parser *Parser, fetcher RecordFetcher) *Handler {
	return &Handler{
		generator: generator,
		parser:    parser,
		fetcher:   fetcher,
	}
}

// RegisterRoutes registers C-CDA endpoints on the provided route group.
//
//	GET  /api/v1/patients/:nhs/ccd  - Generate CCD from the patient's GP record
//	POST /api/v1/ccda/convert       - Convert a posted structured record bundle
//	POST /api/v1/ccda/parse         - Parse an incoming C-CDA document
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients/:nhs/ccd", h.GenerateCCD)
	g.POST("/ccda/convert", h.ConvertBundle)
	g.POST("/ccda/parse", h.ParseCCDA)
}

// GenerateCCD handles GET /api/v1/patients/:nhs/ccd.
// It fetches the structured record and returns a CCD XML document.
func (h *Handler) GenerateCCD(c echo.Context) error {
	nhs := nhsnumber.Normalize(c.Param("nhs"))
	if err := nhsnumber.Validate(nhs); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid NHS number: " + err.Error(),
		})
	}
	if h.fetcher == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "no record source configured",
		})
	}

	bundle, err := h.fetcher.FetchStructuredRecord(c.Request().Context(), nhs)
	if err != nil {
		status := http.StatusBadGateway
		var sc statusCoder
		if errors.As(err, &sc) {
			status = sc.HTTPStatus()
		}
		return c.JSON(status, map[string]string{
			"error": "failed to fetch record: " + err.Error(),
		})
	}

	return h.render(c, bundle)
}

// ConvertBundle handles POST /api/v1/ccda/convert.
// It accepts a GP Connect structured record bundle and returns the CCD.
func (h *Handler) ConvertBundle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	bundle, err := fhirmodels.ParseBundle(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid bundle: " + err.Error(),
		})
	}

	return h.render(c, bundle)
}

func (h *Handler) render(c echo.Context, bundle *fhirmodels.Bundle) error {
	xmlData, err := h.generator.GenerateDocument(bundle)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoPatient) || isDocumentFatal(err) {
			status = http.StatusUnprocessableEntity
		}
		return c.JSON(status, map[string]string{
			"error": "failed to generate CCD: " + err.Error(),
		})
	}

	return c.Blob(http.StatusOK, "application/xml", xmlData)
}

// ParseCCDA handles POST /api/v1/ccda/parse.
// It accepts an XML body and returns parsed sections as JSON.
func (h *Handler) ParseCCDA(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	parsed, err := h.parser.Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse C-CDA: " + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, parsed)
}
