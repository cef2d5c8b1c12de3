package ccda

import (
	"testing"
)

func generatedDocument(t *testing.T) []byte {
	t.Helper()
	xmlData, err := newTestGenerator().GenerateDocument(loadStructuredRecord(t))
	if err != nil {
		t.Fatalf("failed to generate CCD: %v", err)
	}
	return xmlData
}

func TestParser_Parse_Header(t *testing.T) {
	parsed, err := NewParser().Parse(generatedDocument(t))
	if err != nil {
		t.Fatalf("failed to parse CCD: %v", err)
	}

	if parsed.ID == "" {
		t.Error("expected document id")
	}
	if parsed.Created.IsZero() {
		t.Error("expected Created time to be set")
	}
	if parsed.Patient.Gender != "male" {
		t.Errorf("expected gender 'male', got %q", parsed.Patient.Gender)
	}
	if parsed.Patient.DOB != "1938-12-11" {
		t.Errorf("expected DOB '1938-12-11', got %q", parsed.Patient.DOB)
	}
	if len(parsed.Patient.Identifiers) != 1 {
		t.Fatalf("expected 1 patient identifier, got %d", len(parsed.Patient.Identifiers))
	}
	if id := parsed.Patient.Identifiers[0]; id.Root != OIDNHSNumber || id.Extension != "9690937278" {
		t.Errorf("unexpected identifier %+v", id)
	}
}

func TestParser_Parse_Sections(t *testing.T) {
	parsed, err := NewParser().Parse(generatedDocument(t))
	if err != nil {
		t.Fatalf("failed to parse CCD: %v", err)
	}

	wantTypes := []string{"allergies", "medications", "problems", "immunizations", "vital_signs"}
	if len(parsed.Sections) != len(wantTypes) {
		t.Fatalf("expected %d sections, got %d", len(wantTypes), len(parsed.Sections))
	}
	for i, want := range wantTypes {
		if parsed.Sections[i].Type != want {
			t.Errorf("section %d: expected type %q, got %q", i, want, parsed.Sections[i].Type)
		}
	}

	meds, _ := parsed.Section("medications")
	if meds.EntryCount != 2 {
		t.Errorf("expected 2 medication entries, got %d", meds.EntryCount)
	}
	if len(meds.Headers) != len(MedicationColumns) {
		t.Errorf("expected %d medication headers, got %d", len(MedicationColumns), len(meds.Headers))
	}
	if got := meds.Rows[1][4]; got != "One tablet at onset of migraine; May repeat after two hours" {
		t.Errorf("unexpected joined instructions %q", got)
	}

	imms, _ := parsed.Section("immunizations")
	if imms.EntryCount != 1 || imms.Rows[0][0] != "10/10/2019" {
		t.Errorf("unexpected immunisations section %+v", imms)
	}

	problems, _ := parsed.Section("problems")
	if problems.EntryCount != 0 || problems.Rows[0][0] != "No information available" {
		t.Errorf("expected problems placeholder, got %+v", problems)
	}
}

func TestParser_Section_Missing(t *testing.T) {
	doc := &ParsedDocument{}
	if _, ok := doc.Section("results"); ok {
		t.Error("expected missing section to report false")
	}
}

func TestParser_Parse_InvalidXML(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse([]byte("this is not xml"))
	if err == nil {
		t.Error("expected error for invalid XML")
	}
}

func TestParser_Parse_EmptyInput(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse([]byte{})
	if err == nil {
		t.Error("expected error for empty input")
	}
}

func TestParseHL7Time(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"20240501103000", "2024-05-01T10:30:00Z", false},
		{"202405011030", "2024-05-01T10:30:00Z", false},
		{"20240501", "2024-05-01T00:00:00Z", false},
		{"20240501103000+0100", "2024-05-01T10:30:00Z", false},
		{"2024", "", true},
	}
	for _, tt := range tests {
		got, err := parseHL7Time(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseHL7Time(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHL7Time(%q): unexpected error %v", tt.in, err)
			continue
		}
		if s := got.Format("2006-01-02T15:04:05Z07:00"); s != tt.want {
			t.Errorf("parseHL7Time(%q) = %s, want %s", tt.in, s, tt.want)
		}
	}
}
