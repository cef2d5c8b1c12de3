package ihe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/xhuma/gateway/internal/platform/cache"
	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// RecordFetcher fetches a patient's demographics and structured record.
type RecordFetcher interface {
	FetchPatientRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Patient, *fhirmodels.Bundle, error)
}

// DocumentGenerator renders a structured record as a CDA document.
type DocumentGenerator interface {
	GenerateDocument(bundle *fhirmodels.Bundle) ([]byte, error)
}

// DocumentBuilder produces and caches summary documents. Concurrent
// requests for the same NHS number share a single generation.
type DocumentBuilder struct {
	fetcher    RecordFetcher
	generator  DocumentGenerator
	correlator *cache.Correlator
	timeout    time.Duration
	logger     zerolog.Logger
	group      singleflight.Group
	newID      func() string
}

// NewDocumentBuilder creates a DocumentBuilder. timeout bounds each
// generation independently of the requests waiting on it.
func NewDocumentBuilder(fetcher RecordFetcher, generator DocumentGenerator, correlator *cache.Correlator, timeout time.Duration, logger zerolog.Logger) *DocumentBuilder {
	return &DocumentBuilder{
		fetcher:    fetcher,
		generator:  generator,
		correlator: correlator,
		timeout:    timeout,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// DocumentID returns the cached document id for the NHS number, or
// generates a new document on a miss.
func (b *DocumentBuilder) DocumentID(ctx context.Context, nhsNumber string) (string, error) {
	docID, ok, err := b.correlator.DocumentForNHS(ctx, nhsNumber)
	if err != nil {
		b.logger.Warn().Err(err).Msg("document cache lookup failed, regenerating")
	} else if ok {
		return docID, nil
	}
	return b.Generate(ctx, nhsNumber)
}

// Generate fetches the record, renders it and stores the document. The
// shared work is detached from ctx cancellation so one caller giving up
// does not fail the others waiting on the same NHS number.
func (b *DocumentBuilder) Generate(ctx context.Context, nhsNumber string) (string, error) {
	ch := b.group.DoChan(nhsNumber, func() (interface{}, error) {
		genCtx := context.WithoutCancel(ctx)
		if b.timeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(genCtx, b.timeout)
			defer cancel()
		}
		return b.generate(genCtx, nhsNumber)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (b *DocumentBuilder) generate(ctx context.Context, nhsNumber string) (string, error) {
	start := time.Now()

	patient, bundle, err := b.fetcher.FetchPatientRecord(ctx, nhsNumber)
	if err != nil {
		return "", fmt.Errorf("fetch record: %w", err)
	}

	document, err := b.generator.GenerateDocument(bundle)
	if err != nil {
		return "", fmt.Errorf("generate document: %w", err)
	}

	docID := b.newID()
	if err := b.correlator.PutDocument(ctx, nhsNumber, docID, document); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	event := b.logger.Info().
		Str("document_id", docID).
		Int("size", len(document)).
		Dur("elapsed", time.Since(start))
	if patient != nil {
		event = event.Str("gp_practice", GPPracticeCode(patient))
	}
	event.Msg("summary document generated")
	return docID, nil
}
