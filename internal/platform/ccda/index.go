package ccda

import (
	"strings"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// ResourceIndex resolves "Type/id" references within a single bundle.
type ResourceIndex struct {
	resources map[string]fhirmodels.Resource
}

// NewResourceIndex indexes every resource in the bundle. Entries without a
// resource are skipped; a later duplicate key replaces an earlier one.
func NewResourceIndex(bundle *fhirmodels.Bundle) *ResourceIndex {
	idx := &ResourceIndex{resources: make(map[string]fhirmodels.Resource)}
	if bundle == nil {
		return idx
	}
	for _, e := range bundle.Entry {
		if e.Resource == nil || e.Resource.GetID() == "" {
			continue
		}
		idx.resources[fhirmodels.Ref(e.Resource)] = e.Resource
	}
	return idx
}

// Len returns the number of indexed resources.
func (idx *ResourceIndex) Len() int { return len(idx.resources) }

// Resolve returns the resource addressed by ref. Absolute references are
// matched on their trailing "Type/id".
func (idx *ResourceIndex) Resolve(ref string) (fhirmodels.Resource, error) {
	key := referenceKey(ref)
	if r, ok := idx.resources[key]; ok {
		return r, nil
	}
	return nil, &UnresolvedReferenceError{Reference: ref}
}

func referenceKey(ref string) string {
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) < 2 {
		return ref
	}
	// drop a trailing _history/<version>
	if len(parts) >= 4 && parts[len(parts)-2] == "_history" {
		parts = parts[:len(parts)-2]
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

// resolveAs resolves ref and asserts its concrete type.
func resolveAs[T fhirmodels.Resource](idx *ResourceIndex, ref string) (T, error) {
	var zero T
	r, err := idx.Resolve(ref)
	if err != nil {
		return zero, err
	}
	typed, ok := r.(T)
	if !ok {
		return zero, entryErrorf(ref, "expected %T, got %s", zero, r.GetResourceType())
	}
	return typed, nil
}
