package fhirmodels

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type Bundle struct {
	ResourceBase
	Type  string        `json:"type,omitempty"`
	Total *int          `json:"total,omitempty"`
	Entry []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds a decoded resource. Resource is nil for entries that
// carry no resource (GP Connect emits comment-only entries).
type BundleEntry struct {
	FullURL  string   `json:"fullUrl,omitempty"`
	Resource Resource `json:"-"`
}

type rawBundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	var raw rawBundleEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.FullURL = raw.FullURL
	if len(raw.Resource) == 0 {
		return nil
	}
	res, err := DecodeResource(raw.Resource)
	if err != nil {
		return err
	}
	e.Resource = res
	return nil
}

func (e BundleEntry) MarshalJSON() ([]byte, error) {
	out := struct {
		FullURL  string   `json:"fullUrl,omitempty"`
		Resource Resource `json:"resource,omitempty"`
	}{e.FullURL, e.Resource}
	return json.Marshal(out)
}

// DecodeResource decodes a single resource, dispatching on resourceType.
func DecodeResource(data []byte) (Resource, error) {
	var head ResourceBase
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode resource header: %w", err)
	}

	var res Resource
	switch head.ResourceType {
	case TypePatient:
		res = &Patient{}
	case TypeList:
		res = &List{}
	case TypeMedicationStatement:
		res = &MedicationStatement{}
	case TypeMedication:
		res = &Medication{}
	case TypeCondition:
		res = &Condition{}
	case TypeAllergyIntolerance:
		res = &AllergyIntolerance{}
	case TypeImmunization:
		res = &Immunization{}
	case TypeObservation:
		res = &Observation{}
	case TypeOrganization:
		res = &Organization{}
	case TypePractitioner:
		res = &Practitioner{}
	case TypeOperationOutcome:
		res = &OperationOutcome{}
	case "":
		return nil, fmt.Errorf("resource has no resourceType")
	default:
		return &Other{ResourceBase: head}, nil
	}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.ResourceType, err)
	}
	return res, nil
}

// ParseBundle decodes a FHIR Bundle from JSON.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("expected Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// Resources returns the non-empty entry resources in bundle order.
func (b *Bundle) Resources() []Resource {
	out := make([]Resource, 0, len(b.Entry))
	for _, e := range b.Entry {
		if e.Resource != nil {
			out = append(out, e.Resource)
		}
	}
	return out
}

// FirstPatient returns the first Patient resource in the bundle.
func (b *Bundle) FirstPatient() (*Patient, bool) {
	for _, e := range b.Entry {
		if p, ok := e.Resource.(*Patient); ok {
			return p, true
		}
	}
	return nil, false
}

// Lists returns every List resource in bundle order.
func (b *Bundle) Lists() []*List {
	var out []*List
	for _, e := range b.Entry {
		if l, ok := e.Resource.(*List); ok {
			out = append(out, l)
		}
	}
	return out
}

// Parameters is the FHIR Parameters resource used as an operation body.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

type Parameter struct {
	Name            string      `json:"name"`
	ValueIdentifier *Identifier `json:"valueIdentifier,omitempty"`
	ValueBoolean    *bool       `json:"valueBoolean,omitempty"`
	Part            []Parameter `json:"part,omitempty"`
}
