// Package gpconnect fetches patient demographics from PDS and structured
// records from GP Connect.
package gpconnect

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

const (
	interactionStructuredRecord = "urn:nhs:names:services:gpconnect:fhir:operation:gpc.getstructuredrecord-1"
	contentTypeFHIR             = "application/fhir+json"
	structuredRecordPath        = "/Patient/$gpc.getstructuredrecord"
	pdsPatientPath              = "personal-demographics/FHIR/R4/Patient/"
	pdsTokenPath                = "oauth2/token"
	defaultTimeout              = 30 * time.Second
)

// Config holds the upstream endpoints and credentials.
type Config struct {
	GPConnectURL string
	Audience     string
	Issuer       string
	FromASID     string
	ToASID       string
	Requester    Requester

	PDSBaseURL string
	APIKey     string
	KeyID      string
	PrivateKey *rsa.PrivateKey

	Timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTransport routes every upstream request through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// WithHTTPClient replaces the HTTP client used for upstream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to PDS and GP Connect. It satisfies the record fetcher
// and patient lookup collaborators of the SOAP handlers.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenSource
	logger zerolog.Logger
	now    func() time.Time
}

// NewClient creates a Client. PDS lookups are disabled when PDSBaseURL
// is empty; the patient is then taken from the structured record.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.GPConnectURL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = cfg.Requester.ODSCode
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if cfg.PDSBaseURL != "" {
		c.tokens = &tokenSource{
			tokenURL: joinURL(cfg.PDSBaseURL, pdsTokenPath),
			apiKey:   cfg.APIKey,
			keyID:    cfg.KeyID,
			key:      cfg.PrivateKey,
			client:   c.http,
			now:      func() time.Time { return c.now() },
		}
	}
	return c
}

// ---------------------------------------------------------------------------
// PDS
// ---------------------------------------------------------------------------

// LookupPatient reads the patient's demographics from PDS. A rejected
// token is refreshed and the read retried once.
func (c *Client) LookupPatient(ctx context.Context, nhsNumber string) (*fhirmodels.Patient, error) {
	if c.tokens == nil {
		bundle, err := c.FetchStructuredRecord(ctx, nhsNumber)
		if err != nil {
			return nil, err
		}
		patient, ok := bundle.FirstPatient()
		if !ok {
			return nil, fmt.Errorf("%w: structured record has no Patient", ErrPatientNotFound)
		}
		return patient, nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("pds token: %w", err)
	}
	resp, body, err := c.readPatient(ctx, nhsNumber, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Info().Msg("pds rejected access token, refreshing")
		c.tokens.Invalidate(token)
		if token, err = c.tokens.Token(ctx); err != nil {
			return nil, fmt.Errorf("pds token: %w", err)
		}
		if resp, body, err = c.readPatient(ctx, nhsNumber, token); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Service: "pds", StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var patient fhirmodels.Patient
	if err := json.Unmarshal(body, &patient); err != nil {
		return nil, fmt.Errorf("%w: decode pds patient: %v", ErrUpstreamUnavailable, err)
	}
	if patient.ResourceType != fhirmodels.TypePatient {
		return nil, fmt.Errorf("%w: pds returned %q", ErrUpstreamUnavailable, patient.ResourceType)
	}
	return &patient, nil
}

func (c *Client) readPatient(ctx context.Context, nhsNumber, token string) (*http.Response, []byte, error) {
	url := joinURL(c.cfg.PDSBaseURL, pdsPatientPath+nhsNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build pds request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Correlation-ID", uuid.NewString())
	req.Header.Set("NHSD-End-User-Organisation-ODS", c.cfg.Requester.ODSCode)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentTypeFHIR)
	return c.do(req, "pds")
}

// ---------------------------------------------------------------------------
// GP Connect
// ---------------------------------------------------------------------------

// FetchStructuredRecord retrieves the patient's structured record bundle.
// Entries that carry only comments are dropped.
func (c *Client) FetchStructuredRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Bundle, error) {
	token, err := accessToken(c.cfg.Issuer, c.cfg.Audience, c.cfg.Requester, c.now())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(structuredRecordParameters(nhsNumber))
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	url := strings.TrimRight(c.cfg.GPConnectURL, "/") + structuredRecordPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gp connect request: %w", err)
	}
	req.Header.Set("Ssp-TraceID", uuid.NewString())
	req.Header.Set("Ssp-From", c.cfg.FromASID)
	req.Header.Set("Ssp-To", c.cfg.ToASID)
	req.Header.Set("Ssp-InteractionID", interactionStructuredRecord)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentTypeFHIR)
	req.Header.Set("Content-Type", contentTypeFHIR)

	resp, body, err := c.do(req, "gp connect")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Service: "gp connect", StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	bundle, err := fhirmodels.ParseBundle(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	entries := bundle.Entry[:0]
	for _, e := range bundle.Entry {
		if e.Resource != nil {
			entries = append(entries, e)
		}
	}
	bundle.Entry = entries
	return bundle, nil
}

// FetchPatientRecord reads demographics and the structured record
// concurrently.
func (c *Client) FetchPatientRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Patient, *fhirmodels.Bundle, error) {
	if c.tokens == nil {
		bundle, err := c.FetchStructuredRecord(ctx, nhsNumber)
		if err != nil {
			return nil, nil, err
		}
		patient, _ := bundle.FirstPatient()
		return patient, bundle, nil
	}

	var (
		patient *fhirmodels.Patient
		bundle  *fhirmodels.Bundle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patient, err = c.LookupPatient(gctx, nhsNumber)
		return err
	})
	g.Go(func() error {
		var err error
		bundle, err = c.FetchStructuredRecord(gctx, nhsNumber)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return patient, bundle, nil
}

func structuredRecordParameters(nhsNumber string) fhirmodels.Parameters {
	no := false
	return fhirmodels.Parameters{
		ResourceType: "Parameters",
		Parameter: []fhirmodels.Parameter{
			{
				Name:            "patientNHSNumber",
				ValueIdentifier: &fhirmodels.Identifier{System: fhirmodels.SystemNHSNumber, Value: nhsNumber},
			},
			{
				Name: "includeAllergies",
				Part: []fhirmodels.Parameter{{Name: "includeResolvedAllergies", ValueBoolean: &no}},
			},
			{
				Name: "includeMedication",
				Part: []fhirmodels.Parameter{{Name: "includePrescriptionIssues", ValueBoolean: &no}},
			},
			{Name: "includeProblems"},
			{Name: "includeImmunisations"},
			{Name: "includeInvestigations"},
		},
	}
}

// do sends req and reads the whole body. Transport failures are reported
// as ErrUpstreamUnavailable.
func (c *Client) do(req *http.Request, service string) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, nil, req.Context().Err()
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: read body: %v", ErrUpstreamUnavailable, service, err)
	}
	c.logger.Debug().
		Str("service", service).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream request")
	return resp, body, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
