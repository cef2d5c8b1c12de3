package ihe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xhuma/gateway/internal/platform/cache"
	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (f *blockingFetcher) FetchPatientRecord(ctx context.Context, nhsNumber string) (*fhirmodels.Patient, *fhirmodels.Bundle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case <-f.release:
		return nil, &fhirmodels.Bundle{}, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

type stubGenerator struct {
	err error
}

func (g stubGenerator) GenerateDocument(*fhirmodels.Bundle) ([]byte, error) {
	if g.err != nil {
		return nil, g.err
	}
	return []byte("<ClinicalDocument/>"), nil
}

func newTestBuilder(fetcher RecordFetcher, gen DocumentGenerator, timeout time.Duration) (*DocumentBuilder, *cache.Correlator) {
	correlator := cache.NewCorrelator(cache.NewMemoryStore(time.Minute), time.Hour, time.Hour)
	return NewDocumentBuilder(fetcher, gen, correlator, timeout, zerolog.Nop()), correlator
}

func TestDocumentBuilder_ConcurrentRequestsShareGeneration(t *testing.T) {
	fetcher := newBlockingFetcher()
	builder, correlator := newTestBuilder(fetcher, stubGenerator{}, 5*time.Second)

	const callers = 5
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids[0], errs[0] = builder.Generate(context.Background(), "9690937278")
	}()
	<-fetcher.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = builder.Generate(context.Background(), "9690937278")
		}(i)
	}
	// Give the followers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("caller %d got document %q, want %q", i, ids[i], ids[0])
		}
	}
	cached, ok, _ := correlator.DocumentForNHS(context.Background(), "9690937278")
	if !ok || cached != ids[0] {
		t.Errorf("expected cached id %q, got (%q, %v)", ids[0], cached, ok)
	}
}

func TestDocumentBuilder_CallerCancelDoesNotAbortGeneration(t *testing.T) {
	fetcher := newBlockingFetcher()
	builder, correlator := newTestBuilder(fetcher, stubGenerator{}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := builder.Generate(ctx, "9690937278")
		done <- err
	}()
	<-fetcher.started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(fetcher.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := correlator.DocumentForNHS(context.Background(), "9690937278"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected detached generation to complete and cache the document")
}

func TestDocumentBuilder_Timeout(t *testing.T) {
	fetcher := newBlockingFetcher()
	builder, _ := newTestBuilder(fetcher, stubGenerator{}, 20*time.Millisecond)

	_, err := builder.Generate(context.Background(), "9690937278")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDocumentBuilder_GenerationError(t *testing.T) {
	fetcher := newBlockingFetcher()
	close(fetcher.release)
	genErr := errors.New("no lists in bundle")
	builder, correlator := newTestBuilder(fetcher, stubGenerator{err: genErr}, time.Second)

	if _, err := builder.DocumentID(context.Background(), "9690937278"); !errors.Is(err, genErr) {
		t.Errorf("expected generation error, got %v", err)
	}
	if _, ok, _ := correlator.DocumentForNHS(context.Background(), "9690937278"); ok {
		t.Error("failed generation must not be cached")
	}
}

func TestDocumentBuilder_DocumentIDCacheHit(t *testing.T) {
	fetcher := newBlockingFetcher()
	builder, correlator := newTestBuilder(fetcher, stubGenerator{}, time.Second)
	if err := correlator.PutDocument(context.Background(), "9690937278", "doc-1", []byte("<x/>")); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	id, err := builder.DocumentID(context.Background(), "9690937278")
	if err != nil || id != "doc-1" {
		t.Errorf("expected cached doc-1, got (%q, %v)", id, err)
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no fetch, got %d", fetcher.calls)
	}
}

func TestDocumentBuilder_DanglingPointerRegenerates(t *testing.T) {
	fetcher := newBlockingFetcher()
	close(fetcher.release)
	store := cache.NewMemoryStore(time.Minute)
	correlator := cache.NewCorrelator(store, time.Hour, time.Hour)
	builder := NewDocumentBuilder(fetcher, stubGenerator{}, correlator, time.Second, zerolog.Nop())

	if err := store.Set(context.Background(), "nhs-doc:9690937278", "evicted-doc"); err != nil {
		t.Fatalf("seed pointer: %v", err)
	}

	id, err := builder.DocumentID(context.Background(), "9690937278")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "evicted-doc" {
		t.Fatal("expected a fresh document id, got the dangling one")
	}
	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
	if _, ok, _ := correlator.Document(context.Background(), id); !ok {
		t.Error("expected regenerated document to be stored")
	}
}
