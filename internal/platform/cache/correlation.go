package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	prefixCEID    = "ceid:"
	prefixNHSCEID = "nhs-ceid:"
	prefixNHSDoc  = "nhs-doc:"
	prefixDoc     = "doc:"
)

// Correlator maps CEIDs to NHS numbers (both ways), NHS numbers to their
// most recent document id, and document ids to the stored CDA document.
// Writes are last write wins.
type Correlator struct {
	store       Store
	identityTTL time.Duration
	documentTTL time.Duration
}

// NewCorrelator returns a Correlator over store. A zero TTL means the
// entries never expire.
func NewCorrelator(store Store, identityTTL, documentTTL time.Duration) *Correlator {
	return &Correlator{store: store, identityTTL: identityTTL, documentTTL: documentTTL}
}

// MapCEID records the CEID for an NHS number in both directions.
func (c *Correlator) MapCEID(ctx context.Context, ceid, nhsNumber string) error {
	if err := c.put(ctx, prefixCEID+ceid, nhsNumber, c.identityTTL); err != nil {
		return err
	}
	return c.put(ctx, prefixNHSCEID+nhsNumber, ceid, c.identityTTL)
}

// NHSForCEID resolves a CEID to the NHS number it was last mapped to.
func (c *Correlator) NHSForCEID(ctx context.Context, ceid string) (string, bool, error) {
	return c.store.Get(ctx, prefixCEID+ceid)
}

// CEIDForNHS resolves an NHS number to its last known CEID.
func (c *Correlator) CEIDForNHS(ctx context.Context, nhsNumber string) (string, bool, error) {
	return c.store.Get(ctx, prefixNHSCEID+nhsNumber)
}

// DocumentForNHS returns the id of the document last generated for the
// NHS number. A pointer whose document has expired or been evicted is
// reported as a miss.
func (c *Correlator) DocumentForNHS(ctx context.Context, nhsNumber string) (string, bool, error) {
	docID, ok, err := c.store.Get(ctx, prefixNHSDoc+nhsNumber)
	if err != nil || !ok {
		return "", false, err
	}
	exists, err := c.store.Exists(ctx, prefixDoc+docID)
	if err != nil || !exists {
		return "", false, err
	}
	return docID, true, nil
}

// PutDocument stores the CDA document under docID and points the NHS
// number at it. The document is written first, and the pointer expires
// no later than the document.
func (c *Correlator) PutDocument(ctx context.Context, nhsNumber, docID string, document []byte) error {
	encoded := base64.StdEncoding.EncodeToString(document)
	if err := c.put(ctx, prefixDoc+docID, encoded, c.documentTTL); err != nil {
		return err
	}
	return c.put(ctx, prefixNHSDoc+nhsNumber, docID, c.pointerTTL())
}

// pointerTTL trims the pointer lifetime so it lapses before the document.
func (c *Correlator) pointerTTL() time.Duration {
	if c.documentTTL <= 0 {
		return c.documentTTL
	}
	if margin := c.documentTTL / 10; margin < time.Minute {
		return c.documentTTL - margin
	}
	return c.documentTTL - time.Minute
}

// Document returns the decoded CDA document stored under docID.
func (c *Correlator) Document(ctx context.Context, docID string) ([]byte, bool, error) {
	encoded, ok, err := c.store.Get(ctx, prefixDoc+docID)
	if err != nil || !ok {
		return nil, ok, err
	}
	document, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode document %s: %w", docID, err)
	}
	return document, true, nil
}

func (c *Correlator) put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.store.SetEx(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return nil
}
