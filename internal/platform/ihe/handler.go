package ihe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xhuma/gateway/internal/platform/audit"
	"github.com/xhuma/gateway/internal/platform/cache"
	"github.com/xhuma/gateway/pkg/fhirmodels"
	"github.com/xhuma/gateway/pkg/nhsnumber"
)

const (
	contentTypeResponse = "application/soap+xml; charset=utf-8"
	slotPatientID       = "$XDSDocumentEntryPatientId"
	auditTimeout        = 5 * time.Second
)

var (
	tenDigitRun = regexp.MustCompile(`[0-9]{10}`)
	ceidPattern = regexp.MustCompile(`[A-Z0-9]{15}`)
)

// PatientLookup resolves an NHS number to the patient's demographics.
type PatientLookup interface {
	LookupPatient(ctx context.Context, nhsNumber string) (*fhirmodels.Patient, error)
}

// Auditor records one event per completed transaction.
type Auditor interface {
	Record(ctx context.Context, event audit.Event) error
}

// Metrics counts completed transactions by outcome.
type Metrics interface {
	Transaction(name, outcome string, elapsed time.Duration)
}

type statusCoder interface {
	HTTPStatus() int
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuditor records every transaction to a.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) { h.auditor = a }
}

// WithMetrics reports every completed transaction to m.
func WithMetrics(m Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// Handler dispatches the IHE SOAP endpoints.
type Handler struct {
	responder    *Responder
	lookup       PatientLookup
	correlator   *cache.Correlator
	auditor      Auditor
	metrics      Metrics
	communityID  string
	repositoryID string
	logger       zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(responder *Responder, lookup PatientLookup, correlator *cache.Correlator, communityID, repositoryID string, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		responder:    responder,
		lookup:       lookup,
		correlator:   correlator,
		communityID:  communityID,
		repositoryID: repositoryID,
		logger:       logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers the SOAP endpoints under /SOAP.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	soap := g.Group("/SOAP")
	soap.POST("/iti47", h.PatientDemographicsQuery)
	soap.POST("/iti38", h.RegistryStoredQuery)
	soap.POST("/iti39", h.RetrieveDocumentSet)
}

// PatientDemographicsQuery handles ITI-47. The CEID in the query is
// correlated with the NHS number before the demographics lookup.
func (h *Handler) PatientDemographicsQuery(c echo.Context) error {
	tx := newTransaction(TransactionITI47)
	defer h.finish(c, tx)
	ctx := c.Request().Context()

	env, err := h.parse(c)
	if err != nil {
		return h.reject(c, tx, http.StatusBadRequest, err)
	}
	tx.MessageID = env.Header.MessageID
	if env.Body.PatientQuery == nil {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("missing PRPA_IN201305UV02"))
	}
	query := env.Body.PatientQuery.ControlActProcess.QueryByParameter

	nhs := nhsnumber.Normalize(query.LivingSubjectID(OIDNHSNumber))
	if nhs == "" {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("no NHS number found"))
	}
	if err := nhsnumber.Validate(nhs); err != nil {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("%v", err))
	}
	ceid := query.LivingSubjectID(OIDCEID)
	if ceid == "" {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("no care everywhere id found"))
	}
	tx.NHSNumber, tx.CEID = nhs, ceid
	tx.Advance(StateParsed)

	if err := h.correlator.MapCEID(ctx, ceid, nhs); err != nil {
		return h.reject(c, tx, http.StatusServiceUnavailable, fmt.Errorf("correlate CEID: %w", err))
	}

	patient, err := h.lookup.LookupPatient(ctx, nhs)
	if err != nil {
		return h.reject(c, tx, upstreamStatus(err), err)
	}
	tx.Advance(StateResolved)

	return h.respond(c, tx, BuildITI47Response(ITI47Input{
		MessageID: env.Header.MessageID,
		NHSNumber: nhs,
		CEID:      ceid,
		Patient:   patient,
		Query:     query,
	}))
}

// RegistryStoredQuery handles ITI-38. Generation failures are answered
// with a Failure status body, not an HTTP error.
func (h *Handler) RegistryStoredQuery(c echo.Context) error {
	tx := newTransaction(TransactionITI38)
	defer h.finish(c, tx)
	ctx := c.Request().Context()

	env, err := h.parse(c)
	if err != nil {
		return h.reject(c, tx, http.StatusBadRequest, err)
	}
	tx.MessageID = env.Header.MessageID
	req := env.Body.AdhocQuery
	if req == nil {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("missing AdhocQueryRequest"))
	}
	patientID, ok := req.SlotValue(slotPatientID)
	if !ok {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("missing %s slot", slotPatientID))
	}
	tx.Advance(StateParsed)

	nhs, ceid, err := h.resolvePatientID(ctx, patientID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrMalformedRequest) {
			status = http.StatusBadRequest
		}
		return h.reject(c, tx, status, err)
	}
	tx.NHSNumber, tx.CEID = nhs, ceid
	tx.Advance(StateResolved)

	relatesTo := env.Header.MessageID
	if relatesTo == "" {
		relatesTo = req.AdhocQuery.ID
	}
	result := h.responder.RegistryStoredQuery(ctx, nhs, ceid, relatesTo)
	tx.DocumentID = result.DocumentID
	tx.Err = result.Failure
	return h.respond(c, tx, result.Envelope)
}

// RetrieveDocumentSet handles ITI-39 for documents still in the cache.
func (h *Handler) RetrieveDocumentSet(c echo.Context) error {
	tx := newTransaction(TransactionITI39)
	defer h.finish(c, tx)
	ctx := c.Request().Context()

	env, err := h.parse(c)
	if err != nil {
		return h.reject(c, tx, http.StatusBadRequest, err)
	}
	tx.MessageID = env.Header.MessageID
	if env.Body.Retrieve == nil {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("missing RetrieveDocumentSetRequest"))
	}
	docID := env.Body.Retrieve.DocumentUniqueID()
	if docID == "" {
		return h.reject(c, tx, http.StatusBadRequest, malformedf("DocumentUniqueId not found"))
	}
	tx.DocumentID = docID
	tx.Advance(StateParsed)

	document, ok, err := h.correlator.Document(ctx, docID)
	if err != nil {
		return h.reject(c, tx, http.StatusServiceUnavailable, err)
	}
	if !ok {
		return h.reject(c, tx, http.StatusNotFound,
			fmt.Errorf("%w: document with id %s not found or is empty", ErrDocumentNotFound, docID))
	}
	tx.Advance(StateResolved)

	return h.respond(c, tx, BuildITI39Response(ITI39Input{
		MessageID:    env.Header.MessageID,
		CommunityID:  h.communityID,
		RepositoryID: h.repositoryID,
		DocumentID:   docID,
		Document:     document,
	}))
}

// resolvePatientID accepts an NHS number, a CX-style id containing one,
// or a CEID previously correlated by ITI-47.
func (h *Handler) resolvePatientID(ctx context.Context, raw string) (nhs, ceid string, err error) {
	switch {
	case nhsnumber.IsValid(raw):
		nhs = raw
	case nhsnumber.IsValid(tenDigitRun.FindString(raw)):
		nhs = tenDigitRun.FindString(raw)
	}
	if nhs != "" {
		ceid, _, err = h.correlator.CEIDForNHS(ctx, nhs)
		if err != nil {
			h.logger.Warn().Err(err).Msg("CEID lookup failed")
		}
		return nhs, ceid, nil
	}

	ceid = ceidPattern.FindString(raw)
	if ceid == "" {
		return "", "", malformedf("patient id %q is neither an NHS number nor a CEID", raw)
	}
	nhs, ok, err := h.correlator.NHSForCEID(ctx, ceid)
	if err != nil {
		return "", "", fmt.Errorf("resolve CEID: %w", err)
	}
	if !ok {
		return "", "", malformedf("no NHS number correlated with CEID %s", ceid)
	}
	return nhs, ceid, nil
}

func (h *Handler) parse(c echo.Context) (*RequestEnvelope, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, malformedf("read body: %v", err)
	}
	return ParseRequest(c.Request().Header.Get(echo.HeaderContentType), body)
}

func (h *Handler) respond(c echo.Context, tx *Transaction, env *Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		tx.Reject(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to render response"})
	}
	tx.Advance(StateResponded)
	return c.Blob(http.StatusOK, contentTypeResponse, body)
}

func (h *Handler) reject(c echo.Context, tx *Transaction, status int, err error) error {
	tx.Reject(err)
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func (h *Handler) finish(c echo.Context, tx *Transaction) {
	event := h.logger.Info()
	if tx.State == StateRejected {
		event = h.logger.Warn()
	}
	event.Object("tx", tx).
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Int("status", c.Response().Status).
		Msg("soap transaction")

	result := outcome(tx)
	if h.metrics != nil {
		h.metrics.Transaction(tx.Name, string(result), tx.Elapsed())
	}
	if h.auditor == nil {
		return
	}
	// The request deadline may already have passed; the event is still owed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), auditTimeout)
	defer cancel()
	err := h.auditor.Record(ctx, audit.Event{
		Transaction: tx.Name,
		Outcome:     result,
		ErrorCode:   errorCode(tx),
		NHSNumber:   tx.NHSNumber,
		MessageID:   tx.MessageID,
		DocumentID:  tx.DocumentID,
		RequestID:   c.Response().Header().Get(echo.HeaderXRequestID),
		ClientIP:    c.RealIP(),
		UserAgent:   c.Request().UserAgent(),
		Status:      c.Response().Status,
		Duration:    tx.Elapsed(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("transaction", tx.Name).Msg("failed to record audit event")
	}
}

func outcome(tx *Transaction) audit.Outcome {
	switch {
	case tx.State == StateRejected:
		return audit.OutcomeRejected
	case tx.Err != nil:
		return audit.OutcomeFailure
	default:
		return audit.OutcomeSuccess
	}
}

func errorCode(tx *Transaction) string {
	switch {
	case tx.Err == nil:
		return ""
	case tx.State == StateResponded:
		return errorCodeRegistry
	case errors.Is(tx.Err, ErrMalformedRequest):
		return "MalformedRequest"
	case errors.Is(tx.Err, ErrDocumentNotFound):
		return "DocumentNotFound"
	}
	switch upstreamStatus(tx.Err) {
	case http.StatusNotFound:
		return "PatientNotFound"
	case http.StatusForbidden:
		return "NoConsent"
	default:
		return "UpstreamUnavailable"
	}
}

func upstreamStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return http.StatusBadGateway
}
