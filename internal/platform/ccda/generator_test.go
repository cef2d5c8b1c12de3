package ccda

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// =========== Test Data Helpers ===========

func loadStructuredRecord(t *testing.T) *fhirmodels.Bundle {
	t.Helper()
	data, err := os.ReadFile("testdata/structured_record.json")
	if err != nil {
		t.Fatalf("read testdata: %v", err)
	}
	b, err := fhirmodels.ParseBundle(data)
	if err != nil {
		t.Fatalf("parse testdata: %v", err)
	}
	return b
}

func newTestGenerator() *Generator {
	g := NewGenerator("Test Practice", "2.16.840.1.113883.2.1.3.34.9001", zerolog.Nop())
	g.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }
	return g
}

func newBundle(resources ...fhirmodels.Resource) *fhirmodels.Bundle {
	b := &fhirmodels.Bundle{ResourceBase: fhirmodels.ResourceBase{ResourceType: "Bundle"}, Type: "collection"}
	for _, r := range resources {
		b.Entry = append(b.Entry, fhirmodels.BundleEntry{Resource: r})
	}
	return b
}

func base(resourceType, id string) fhirmodels.ResourceBase {
	return fhirmodels.ResourceBase{ResourceType: resourceType, ID: id}
}

func testPatient() *fhirmodels.Patient {
	return &fhirmodels.Patient{
		ResourceBase: base("Patient", "p1"),
		Identifier:   []fhirmodels.Identifier{{System: fhirmodels.SystemNHSNumber, Value: "9690937278"}},
		Name:         []fhirmodels.HumanName{{Use: "official", Family: "SMITH", Given: []string{"Jane"}}},
		Gender:       "female",
		BirthDate:    "1970-03-01",
	}
}

func problemList(refs ...string) *fhirmodels.List {
	l := &fhirmodels.List{ResourceBase: base("List", "problems"), Title: fhirmodels.ListTitleProblems}
	for _, r := range refs {
		l.Entry = append(l.Entry, fhirmodels.ListEntry{Item: fhirmodels.Reference{Reference: r}})
	}
	return l
}

func snomed(code, display string) *fhirmodels.CodeableConcept {
	return &fhirmodels.CodeableConcept{
		Coding: []fhirmodels.Coding{{System: fhirmodels.SystemSNOMED, Code: code, Display: display}},
	}
}

func condition(id, asserted string, code *fhirmodels.CodeableConcept) *fhirmodels.Condition {
	return &fhirmodels.Condition{
		ResourceBase:   base("Condition", id),
		ClinicalStatus: "active",
		Code:           code,
		AssertedDate:   asserted,
	}
}

func sectionTitles(doc *ClinicalDocument) []string {
	var titles []string
	for _, c := range doc.Component.StructuredBody.Components {
		titles = append(titles, c.Section.Title)
	}
	return titles
}

func findSection(t *testing.T, doc *ClinicalDocument, title string) *Section {
	t.Helper()
	for _, c := range doc.Component.StructuredBody.Components {
		if c.Section.Title == title {
			return c.Section
		}
	}
	t.Fatalf("section %q not found", title)
	return nil
}

// =========== Assemble Tests ===========

func TestAssemble_SectionOrder(t *testing.T) {
	g := newTestGenerator()
	bundle := loadStructuredRecord(t)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Allergies and Adverse Reactions", "Medications", "Problems", "Immunisations", "Vital Signs"}
	if diff := cmp.Diff(want, sectionTitles(doc)); diff != "" {
		t.Errorf("section titles mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_Header(t *testing.T) {
	g := newTestGenerator()
	bundle := loadStructuredRecord(t)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Code.Code != LOINCSummaryNote {
		t.Errorf("expected document code %s, got %s", LOINCSummaryNote, doc.Code.Code)
	}
	if doc.RealmCode.Code != "GB" {
		t.Errorf("expected realm GB, got %q", doc.RealmCode.Code)
	}
	if doc.LanguageCode.Code != "en-GB" {
		t.Errorf("expected language en-GB, got %q", doc.LanguageCode.Code)
	}
	if doc.EffectiveTime.Value != "20240501103000" {
		t.Errorf("unexpected effective time %q", doc.EffectiveTime.Value)
	}
	if len(doc.TemplateIDs) != 2 || doc.TemplateIDs[1].Extension != Version20150801 {
		t.Errorf("expected versioned CCD template pair, got %+v", doc.TemplateIDs)
	}

	role := doc.RecordTarget.PatientRole
	if len(role.IDs) != 1 || role.IDs[0].Root != OIDNHSNumber || role.IDs[0].Extension != "9690937278" {
		t.Errorf("unexpected patient ids %+v", role.IDs)
	}
	if role.Patient.Name.Family != "SAMUEL" || role.Patient.Name.Given != "Lucien" {
		t.Errorf("unexpected name %+v", role.Patient.Name)
	}
	if role.Patient.AdministrativeGenderCode.Code != "M" {
		t.Errorf("expected gender M, got %q", role.Patient.AdministrativeGenderCode.Code)
	}
	if role.Patient.BirthTime.Value != "19381211" {
		t.Errorf("expected birth time 19381211, got %q", role.Patient.BirthTime.Value)
	}

	ivl := doc.DocumentationOf.ServiceEvent.EffectiveTime
	if ivl.Low.Value != "19381211" || ivl.High.Value != "20240501" {
		t.Errorf("unexpected service event interval low=%q high=%q", ivl.Low.Value, ivl.High.Value)
	}
}

func TestAssemble_EmptySectionPlaceholder(t *testing.T) {
	g := newTestGenerator()
	bundle := loadStructuredRecord(t)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	problems := findSection(t, doc, "Problems")
	if len(problems.Entries) != 0 {
		t.Errorf("expected no problem entries, got %d", len(problems.Entries))
	}
	rows := problems.Text.Table.Tbody.Trs
	if len(rows) != 1 {
		t.Fatalf("expected 1 placeholder row, got %d", len(rows))
	}
	want := []string{"No information available", "", ""}
	if diff := cmp.Diff(want, rows[0].Tds); diff != "" {
		t.Errorf("placeholder row mismatch (-want +got):\n%s", diff)
	}

	vitals := findSection(t, doc, "Vital Signs")
	if len(vitals.Entries) != 0 {
		t.Errorf("expected vital signs to be empty, got %d entries", len(vitals.Entries))
	}
}

func TestAssemble_MedicationRows(t *testing.T) {
	g := newTestGenerator()
	bundle := loadStructuredRecord(t)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meds := findSection(t, doc, "Medications")
	if len(meds.Entries) != 2 {
		t.Fatalf("expected 2 medication entries, got %d", len(meds.Entries))
	}
	if diff := cmp.Diff(MedicationColumns, meds.Text.Table.Thead.Tr.Ths); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	want := []string{
		"15/01/2018",
		"",
		"active",
		"Paracetamol 500mg tablets",
		"One or two tablets up to four times a day when required",
		"Prescribed at GP practice",
		"01/06/2018",
	}
	if diff := cmp.Diff(want, meds.Text.Table.Tbody.Trs[0].Tds); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_UnknownListTitleDropped(t *testing.T) {
	g := newTestGenerator()
	bundle := loadStructuredRecord(t)

	out, err := g.GenerateDocument(bundle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(out), "Outbound referral") || strings.Contains(string(out), "ReferralRequest") {
		t.Error("expected list with unknown title to be dropped")
	}
}

func TestAssemble_NoPatient(t *testing.T) {
	g := newTestGenerator()
	bundle := newBundle(problemList())

	_, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if !errors.Is(err, ErrNoPatient) {
		t.Fatalf("expected ErrNoPatient, got %v", err)
	}
}

func TestAssemble_UnresolvedReferenceFails(t *testing.T) {
	g := newTestGenerator()
	bundle := newBundle(testPatient(), problemList("Condition/missing"))

	_, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Fatalf("expected ErrUnresolvedReference, got %v", err)
	}
	var ure *UnresolvedReferenceError
	if !errors.As(err, &ure) || ure.Reference != "Condition/missing" {
		t.Errorf("expected error to name the reference, got %v", err)
	}
}

func TestAssemble_InvalidDateFails(t *testing.T) {
	g := newTestGenerator()
	bundle := newBundle(
		testPatient(),
		problemList("Condition/c1"),
		condition("c1", "01/02/2019", snomed("38341003", "Hypertension")),
	)

	_, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestAssemble_SkipsUnmappableEntry(t *testing.T) {
	g := newTestGenerator()
	bundle := newBundle(
		testPatient(),
		problemList("Condition/c1", "Condition/c2"),
		condition("c1", "2019-05-02", nil),
		condition("c2", "2019-05-02", snomed("38341003", "Hypertension")),
	)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	problems := findSection(t, doc, "Problems")
	if len(problems.Entries) != 1 {
		t.Fatalf("expected 1 problem entry, got %d", len(problems.Entries))
	}
	want := []string{"02/05/2019", "active", "Hypertension"}
	if diff := cmp.Diff(want, problems.Text.Table.Tbody.Trs[0].Tds); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_SkipsDeletedListItems(t *testing.T) {
	g := newTestGenerator()
	list := problemList("Condition/c1")
	deleted := true
	list.Entry = append(list.Entry, fhirmodels.ListEntry{
		Deleted: &deleted,
		Item:    fhirmodels.Reference{Reference: "Condition/gone"},
	})
	bundle := newBundle(testPatient(), list, condition("c1", "2019-05-02", snomed("38341003", "Hypertension")))

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(findSection(t, doc, "Problems").Entries); got != 1 {
		t.Errorf("expected 1 problem entry, got %d", got)
	}
}

func TestAssemble_WrongResourceTypeSkipped(t *testing.T) {
	g := newTestGenerator()
	bundle := newBundle(
		testPatient(),
		problemList("Immunization/i1"),
		&fhirmodels.Immunization{ResourceBase: base("Immunization", "i1"), VaccineCode: snomed("396429000", "MMR")},
	)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(findSection(t, doc, "Problems").Entries); got != 0 {
		t.Errorf("expected mismatched resource to be skipped, got %d entries", got)
	}
}

func TestAssemble_MissingBirthDate(t *testing.T) {
	g := newTestGenerator()
	p := testPatient()
	p.BirthDate = ""
	bundle := newBundle(p)

	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.RecordTarget.PatientRole.Patient.BirthTime.NullFlavor != NullUnknown {
		t.Error("expected birth time nullFlavor UNK")
	}
	if doc.DocumentationOf.ServiceEvent.EffectiveTime.Low.NullFlavor != NullUnknown {
		t.Error("expected service event low nullFlavor UNK")
	}
}

// =========== Rendering Tests ===========

func TestGenerateDocument_XML(t *testing.T) {
	g := newTestGenerator()
	out, err := g.GenerateDocument(loadStructuredRecord(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	xmlStr := string(out)

	checks := []struct {
		name string
		want string
	}{
		{"xml declaration", `<?xml version="1.0" encoding="UTF-8"?>`},
		{"root namespace", `<ClinicalDocument xmlns="urn:hl7-org:v3"`},
		{"xsi namespace", `xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`},
		{"type id", `root="2.16.840.1.113883.1.3" extension="POCD_HD000040"`},
		{"nhs number", `root="2.16.840.1.113883.2.1.4.1" extension="9690937278"`},
		{"prn period", `value="0.25" unit="d"`},
		{"institution specified", `institutionSpecified="true"`},
		{"precondition", `<precondition typeCode="PRCN">`},
		{"dose translation", `xsi:type="PQR"`},
		{"sequence number", `<sequenceNumber value="2">`},
		{"collapsed effective time", `<effectiveTime xsi:type="IVL_TS">`},
		{"allergy template", `root="2.16.840.1.113883.10.20.22.4.30"`},
		{"reaction", `typeCode="MFST"`},
		{"immunization lot", `<lotNumberText>MMR-4471</lotNumberText>`},
		{"read translation", `code="di11."`},
	}
	for _, c := range checks {
		if !strings.Contains(xmlStr, c.want) {
			t.Errorf("%s: expected output to contain %q", c.name, c.want)
		}
	}
}

func TestGenerateDocument_RoundTripThroughParser(t *testing.T) {
	g := newTestGenerator()
	out, err := g.GenerateDocument(loadStructuredRecord(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := NewParser().Parse(out)
	if err != nil {
		t.Fatalf("parse generated document: %v", err)
	}
	if parsed.Title != "Summary Care Record" {
		t.Errorf("unexpected title %q", parsed.Title)
	}
	if parsed.Patient.Name != "Lucien SAMUEL" {
		t.Errorf("unexpected patient name %q", parsed.Patient.Name)
	}
	allergies, ok := parsed.Section("allergies")
	if !ok {
		t.Fatal("expected allergies section")
	}
	if allergies.EntryCount != 1 {
		t.Errorf("expected 1 allergy entry, got %d", allergies.EntryCount)
	}
	if diff := cmp.Diff([]string{"01/07/2016", "active", "Amoxicillin allergy"}, allergies.Rows[0]); diff != "" {
		t.Errorf("allergy row mismatch (-want +got):\n%s", diff)
	}
}

// =========== Conversion Metrics ===========

type recordedOp struct {
	operation string
	status    string
}

type fakeRecorder struct {
	ops      []recordedOp
	sections []string
}

func (r *fakeRecorder) ConversionOperation(operation, status string) {
	r.ops = append(r.ops, recordedOp{operation, status})
}

func (r *fakeRecorder) ObserveSection(section string, _ time.Duration) {
	r.sections = append(r.sections, section)
}

func (r *fakeRecorder) count(operation, status string) int {
	n := 0
	for _, op := range r.ops {
		if op.operation == operation && op.status == status {
			n++
		}
	}
	return n
}

func TestGenerateDocument_RecordsConversion(t *testing.T) {
	rec := &fakeRecorder{}
	g := NewGenerator("Test Practice", "2.16.840.1.113883.2.1.3.34.9001", zerolog.Nop(), WithRecorder(rec))

	if _, err := g.GenerateDocument(loadStructuredRecord(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Allergies and Adverse Reactions", "Medications", "Problems", "Immunisations", "Vital Signs"}
	if diff := cmp.Diff(want, rec.sections); diff != "" {
		t.Errorf("section timings mismatch (-want +got):\n%s", diff)
	}
	if rec.count("start_conversion", "success") != 1 || rec.count("complete_conversion", "success") != 1 {
		t.Errorf("expected one start and one successful completion, got %+v", rec.ops)
	}
	if rec.count("convert_section_Medications", "success") != 1 {
		t.Errorf("expected a successful medications section, got %+v", rec.ops)
	}
}

func TestGenerateDocument_RecordsFailure(t *testing.T) {
	rec := &fakeRecorder{}
	g := NewGenerator("Test Practice", "2.16.840.1.113883.2.1.3.34.9001", zerolog.Nop(), WithRecorder(rec))
	bundle := newBundle(testPatient(), problemList("Condition/missing"))

	if _, err := g.GenerateDocument(bundle); !errors.Is(err, ErrUnresolvedReference) {
		t.Fatalf("expected ErrUnresolvedReference, got %v", err)
	}
	if rec.count("convert_section_Problems", "failure") != 1 {
		t.Errorf("expected a failed problems section, got %+v", rec.ops)
	}
	if rec.count("complete_conversion", "failure") != 1 {
		t.Errorf("expected a failed completion, got %+v", rec.ops)
	}
}
