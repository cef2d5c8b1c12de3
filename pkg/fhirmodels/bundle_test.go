package fhirmodels

import "testing"

const sampleBundle = `{
  "resourceType": "Bundle",
  "id": "b1",
  "type": "collection",
  "entry": [
    {"fullUrl": "urn:uuid:p1", "resource": {"resourceType": "Patient", "id": "p1",
      "identifier": [{"system": "https://fhir.nhs.uk/Id/nhs-number", "value": "9690937278"}],
      "name": [{"use": "official", "family": "SMITH", "given": ["Jane", "Anne"]}],
      "gender": "female", "birthDate": "1970-03-01"}},
    {"resource": {"resourceType": "List", "id": "l1", "title": "Problems",
      "entry": [{"item": {"reference": "Condition/c1"}}]}},
    {"resource": {"resourceType": "Condition", "id": "c1", "clinicalStatus": "active",
      "code": {"coding": [{"system": "http://snomed.info/sct", "code": "38341003", "display": "Hypertension"}]},
      "assertedDate": "2019-05-02"}},
    {"resource": {"resourceType": "Device", "id": "d1"}},
    {"fhir_comments": ["comment only"]}
  ]
}`

func TestParseBundle(t *testing.T) {
	b, err := ParseBundle([]byte(sampleBundle))
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	if len(b.Entry) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(b.Entry))
	}
	if got := len(b.Resources()); got != 4 {
		t.Errorf("expected 4 resources, got %d", got)
	}

	p, ok := b.FirstPatient()
	if !ok {
		t.Fatal("expected a patient")
	}
	if p.NHSNumber() != "9690937278" {
		t.Errorf("NHSNumber = %q", p.NHSNumber())
	}
	name, ok := p.OfficialName()
	if !ok || name.GivenNames() != "Jane Anne" {
		t.Errorf("unexpected name %+v", name)
	}

	lists := b.Lists()
	if len(lists) != 1 || lists[0].Title != ListTitleProblems {
		t.Fatalf("unexpected lists %+v", lists)
	}

	cond, ok := b.Entry[2].Resource.(*Condition)
	if !ok {
		t.Fatalf("entry 2 is %T, want *Condition", b.Entry[2].Resource)
	}
	if Ref(cond) != "Condition/c1" {
		t.Errorf("Ref = %q", Ref(cond))
	}
	if cond.Code.DisplayText() != "Hypertension" {
		t.Errorf("DisplayText = %q", cond.Code.DisplayText())
	}

	if _, ok := b.Entry[3].Resource.(*Other); !ok {
		t.Errorf("unknown resource types should decode as *Other, got %T", b.Entry[3].Resource)
	}
}

func TestParseBundle_RejectsOtherResources(t *testing.T) {
	if _, err := ParseBundle([]byte(`{"resourceType": "Patient", "id": "x"}`)); err == nil {
		t.Fatal("expected error for non-Bundle input")
	}
	if _, err := ParseBundle([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDecodeResource_MissingType(t *testing.T) {
	if _, err := DecodeResource([]byte(`{"id": "x"}`)); err == nil {
		t.Fatal("expected error for resource without resourceType")
	}
}

func TestObservationMembers(t *testing.T) {
	obs := &Observation{Related: []ObservationRelated{
		{Type: RelatedHasMember, Target: Reference{Reference: "Observation/a"}},
		{Type: RelatedDerivedFrom, Target: Reference{Reference: "Observation/b"}},
		{Type: RelatedHasMember, Target: Reference{Reference: "Observation/c"}},
	}}
	members := obs.Members()
	if len(members) != 2 || members[0].Reference != "Observation/a" || members[1].Reference != "Observation/c" {
		t.Errorf("unexpected members %+v", members)
	}
}

func TestFindExtension(t *testing.T) {
	exts := []Extension{{URL: "a", ValueString: "1"}, {URL: ExtensionLastIssueDate, ValueDateTime: "2020-01-01"}}
	ext, ok := FindExtension(exts, ExtensionLastIssueDate)
	if !ok || ext.ValueDateTime != "2020-01-01" {
		t.Errorf("FindExtension = %+v, %v", ext, ok)
	}
	if _, ok := FindExtension(exts, "missing"); ok {
		t.Error("expected miss")
	}
}
