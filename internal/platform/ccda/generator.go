package ccda

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// entryMapper maps one list item of a section.
type entryMapper func(res fhirmodels.Resource, idx *ResourceIndex) (EntryWithRow, error)

// sectionSpec describes one fixed section of the summary document.
type sectionSpec struct {
	listTitle  string
	templateID string
	loinc      string
	title      string
	columns    []string
	mapEntry   entryMapper
}

// VitalSignColumns are the narrative headers of the vital signs section.
var VitalSignColumns = []string{"Date", "Observation", "Value"}

// sections is the fixed section order of the summary document. Vital
// signs have no mapper and are always emitted empty.
var sections = []sectionSpec{
	{
		listTitle:  fhirmodels.ListTitleAllergies,
		templateID: OIDAllergiesSection,
		loinc:      LOINCAllergies,
		title:      "Allergies and Adverse Reactions",
		columns:    AllergyColumns,
		mapEntry: func(res fhirmodels.Resource, _ *ResourceIndex) (EntryWithRow, error) {
			a, ok := res.(*fhirmodels.AllergyIntolerance)
			if !ok {
				return EntryWithRow{}, unexpectedResource(res)
			}
			return MapAllergy(a)
		},
	},
	{
		listTitle:  fhirmodels.ListTitleMedications,
		templateID: OIDMedicationsSection,
		loinc:      LOINCMedications,
		title:      "Medications",
		columns:    MedicationColumns,
		mapEntry: func(res fhirmodels.Resource, idx *ResourceIndex) (EntryWithRow, error) {
			m, ok := res.(*fhirmodels.MedicationStatement)
			if !ok {
				return EntryWithRow{}, unexpectedResource(res)
			}
			return MapMedication(m, idx)
		},
	},
	{
		listTitle:  fhirmodels.ListTitleProblems,
		templateID: OIDProblemsSection,
		loinc:      LOINCProblems,
		title:      "Problems",
		columns:    ProblemColumns,
		mapEntry: func(res fhirmodels.Resource, _ *ResourceIndex) (EntryWithRow, error) {
			c, ok := res.(*fhirmodels.Condition)
			if !ok {
				return EntryWithRow{}, unexpectedResource(res)
			}
			return MapProblem(c)
		},
	},
	{
		listTitle:  fhirmodels.ListTitleImmunisations,
		templateID: OIDImmunizationsSection,
		loinc:      LOINCImmunizations,
		title:      "Immunisations",
		columns:    ImmunizationColumns,
		mapEntry: func(res fhirmodels.Resource, _ *ResourceIndex) (EntryWithRow, error) {
			i, ok := res.(*fhirmodels.Immunization)
			if !ok {
				return EntryWithRow{}, unexpectedResource(res)
			}
			return MapImmunization(i)
		},
	},
	{
		listTitle:  fhirmodels.ListTitleVitalSigns,
		templateID: OIDVitalSignsSection,
		loinc:      LOINCVitalSigns,
		title:      "Vital Signs",
		columns:    VitalSignColumns,
	},
}

func unexpectedResource(res fhirmodels.Resource) error {
	return entryErrorf(fhirmodels.Ref(res), "unexpected resource type in list")
}

// Recorder receives conversion measurements.
type Recorder interface {
	ConversionOperation(operation, status string)
	ObserveSection(section string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ConversionOperation(string, string)   {}
func (nopRecorder) ObserveSection(string, time.Duration) {}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRecorder reports conversion counts and section timings to r.
func WithRecorder(r Recorder) GeneratorOption {
	return func(g *Generator) { g.metrics = r }
}

// Generator creates C-CDA CCD documents from GP Connect structured record
// bundles. It is safe for concurrent use because it holds only immutable
// configuration.
type Generator struct {
	orgName string // Custodian organization name
	orgOID  string // Custodian OID
	device  string
	logger  zerolog.Logger
	metrics Recorder
	now     func() time.Time
}

// NewGenerator creates a new C-CDA generator.
func NewGenerator(orgName, orgOID string, logger zerolog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		orgName: orgName,
		orgOID:  orgOID,
		device:  "SCR Connector",
		logger:  logger,
		metrics: nopRecorder{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Conversion step names reported to the Recorder.
const (
	opStartConversion    = "start_conversion"
	opCompleteConversion = "complete_conversion"
	statusSuccess        = "success"
	statusFailure        = "failure"
)

// GenerateDocument indexes the bundle, assembles the CCD and renders it.
func (g *Generator) GenerateDocument(bundle *fhirmodels.Bundle) ([]byte, error) {
	g.metrics.ConversionOperation(opStartConversion, statusSuccess)
	doc, err := g.Assemble(bundle, NewResourceIndex(bundle))
	if err == nil {
		var out []byte
		if out, err = g.Render(doc); err == nil {
			g.metrics.ConversionOperation(opCompleteConversion, statusSuccess)
			return out, nil
		}
	}
	g.metrics.ConversionOperation(opCompleteConversion, statusFailure)
	return nil, err
}

// Render marshals the document with an XML declaration.
func (g *Generator) Render(doc *ClinicalDocument) ([]byte, error) {
	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ccda: failed to marshal XML: %w", err)
	}

	// Prepend XML declaration
	header := []byte(xml.Header)
	result := make([]byte, len(header)+len(output))
	copy(result, header)
	copy(result[len(header):], output)
	return result, nil
}

// Assemble builds the ClinicalDocument for the first Patient in the bundle
// with the five summary sections in fixed order.
func (g *Generator) Assemble(bundle *fhirmodels.Bundle, idx *ResourceIndex) (*ClinicalDocument, error) {
	if bundle == nil {
		return nil, fmt.Errorf("ccda: bundle is nil")
	}
	patient, ok := bundle.FirstPatient()
	if !ok {
		return nil, ErrNoPatient
	}
	birth, err := optionalDate(patient.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("patient birth date: %w", err)
	}

	now := g.now().UTC()
	doc := &ClinicalDocument{
		XSI:       XSINamespace,
		SDTC:      SDTCNamespace,
		VOC:       VOCNamespace,
		RealmCode: codedPtr(NewCS("GB")),
		TypeID: &II{
			Root:      OIDCDARoot,
			Extension: "POCD_HD000040",
		},
		TemplateIDs: TemplateIDPair(OIDCCDDocument, Version20150801),
		ID:          &II{Root: uuid.New().String()},
		Code: codedPtr(NewCE(Concept{
			Code:           LOINCSummaryNote,
			CodeSystem:     OIDLOINC,
			CodeSystemName: "LOINC",
			DisplayName:    "Summarization of Episode Note",
		})),
		Title:               "Summary Care Record",
		EffectiveTime:       &TS{Value: formatHL7Time(now)},
		ConfidentialityCode: codedPtr(NewCE(Concept{Code: "N", CodeSystem: OIDConfidentiality})),
		LanguageCode:        codedPtr(NewCS("en-GB")),
	}

	// Header components
	doc.RecordTarget = g.buildRecordTarget(patient, birth)
	doc.Author = g.buildAuthor(now)
	doc.Custodian = g.buildCustodian()
	doc.DocumentationOf = buildDocumentationOf(birth, now)

	// Body sections
	lists := make(map[string][]*fhirmodels.List)
	for _, l := range bundle.Lists() {
		lists[l.Title] = append(lists[l.Title], l)
	}

	components := make([]SectionComponent, 0, len(sections))
	for _, spec := range sections {
		sec, err := g.buildSection(spec, lists[spec.listTitle], idx)
		if err != nil {
			return nil, err
		}
		components = append(components, SectionComponent{Section: sec})
	}
	doc.Component = &Component{
		StructuredBody: &StructuredBody{Components: components},
	}
	return doc, nil
}

// buildSection maps every item of the section's lists. Entry-level errors
// skip the entry; invalid dates and unresolved references abort.
func (g *Generator) buildSection(spec sectionSpec, lists []*fhirmodels.List, idx *ResourceIndex) (_ *Section, err error) {
	start := time.Now()
	defer func() {
		g.metrics.ObserveSection(spec.title, time.Since(start))
		status := statusSuccess
		if err != nil {
			status = statusFailure
		}
		g.metrics.ConversionOperation("convert_section_"+spec.title, status)
	}()

	sec := newSection(spec.templateID, spec.loinc, spec.title)

	var rows [][]string
	if spec.mapEntry != nil {
		for _, l := range lists {
			for _, item := range l.Entry {
				if item.Deleted != nil && *item.Deleted {
					continue
				}
				res, err := idx.Resolve(item.Item.Reference)
				if err != nil {
					return nil, fmt.Errorf("section %q: %w", spec.title, err)
				}
				mapped, err := spec.mapEntry(res, idx)
				if err != nil {
					if isDocumentFatal(err) {
						return nil, fmt.Errorf("section %q: %w", spec.title, err)
					}
					g.logger.Warn().
						Err(err).
						Str("section", spec.title).
						Str("reference", item.Item.Reference).
						Msg("skipping entry that could not be mapped")
					continue
				}
				sec.Entries = append(sec.Entries, mapped.Entry)
				rows = append(rows, mapped.Row)
			}
		}
	}

	if len(sec.Entries) == 0 {
		rows = [][]string{placeholderRow(len(spec.columns))}
	}
	sec.Text = buildNarrativeTable(spec.columns, rows)
	return &sec, nil
}

// buildRecordTarget constructs the patient header from a FHIR Patient resource.
func (g *Generator) buildRecordTarget(patient *fhirmodels.Patient, birth string) *RecordTarget {
	role := &PatientRole{}

	if nhs := patient.NHSNumber(); nhs != "" {
		role.IDs = []II{{Root: OIDNHSNumber, Extension: nhs}}
	} else {
		role.IDs = []II{{Root: g.orgOID, Extension: patient.ID}}
	}

	// Address
	if len(patient.Address) > 0 {
		role.Addr = buildAddress(patient.Address[0])
	}

	// Demographics
	pat := &Patient{}
	if n, ok := patient.OfficialName(); ok {
		pat.Name = buildName(n)
	}
	pat.AdministrativeGenderCode = codedPtr(NewCE(Concept{
		Code:        mapGenderCode(patient.Gender),
		CodeSystem:  OIDAdminGender,
		DisplayName: patient.Gender,
	}))
	if birth != "" {
		pat.BirthTime = &TS{Value: birth}
	} else {
		pat.BirthTime = &TS{NullFlavor: NullUnknown}
	}

	role.Patient = pat
	return &RecordTarget{PatientRole: role}
}

// buildAuthor creates the document author section.
func (g *Generator) buildAuthor(now time.Time) *Author {
	return &Author{
		Time: &TS{Value: formatHL7Time(now)},
		AssignedAuthor: &AssignedAuthor{
			IDs:     []II{{Root: g.orgOID}},
			Addr:    &Address{NullFlavor: string(NullNotApplicable)},
			Telecom: &TEL{NullFlavor: NullNotApplicable},
			AssignedAuthoringDevice: &AuthoringDevice{
				ManufacturerModelName: g.device,
				SoftwareName:          g.device,
			},
			RepresentedOrganization: &Organization{
				IDs:   []II{{Root: g.orgOID}},
				Names: []string{g.orgName},
			},
		},
	}
}

// buildCustodian creates the custodian section.
func (g *Generator) buildCustodian() *Custodian {
	return &Custodian{
		AssignedCustodian: &AssignedCustodian{
			RepresentedCustodianOrganization: &Organization{
				IDs:   []II{{Root: g.orgOID}},
				Names: []string{g.orgName},
			},
		},
	}
}

// buildDocumentationOf covers the patient's life up to the document date.
func buildDocumentationOf(birth string, now time.Time) *DocumentationOf {
	low := &IVXBTS{Value: birth}
	if birth == "" {
		low = &IVXBTS{NullFlavor: NullUnknown}
	}
	return &DocumentationOf{
		ServiceEvent: &ServiceEvent{
			ClassCode: "PCPR",
			EffectiveTime: &IVLTS{
				Low:  low,
				High: &IVXBTS{Value: now.Format("20060102")},
			},
		},
	}
}

func newSection(templateID, loincCode, title string) Section {
	return Section{
		TemplateIDs: TemplateIDPair(templateID, Version20150801),
		Code: codedPtr(NewCE(Concept{
			Code:           loincCode,
			CodeSystem:     OIDLOINC,
			CodeSystemName: "LOINC",
			DisplayName:    title,
		})),
		Title: title,
	}
}

func mapGenderCode(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "M"
	case "female":
		return "F"
	default:
		return "UN"
	}
}

func formatHL7Time(t time.Time) string {
	return t.Format("20060102150405")
}

func buildAddress(addr fhirmodels.Address) *Address {
	return &Address{
		Use:           "HP",
		StreetAddress: addr.Line,
		City:          addr.City,
		County:        addr.District,
		PostalCode:    addr.PostalCode,
		Country:       addr.Country,
	}
}

func buildName(n fhirmodels.HumanName) *Name {
	name := &Name{
		Use:    "L",
		Given:  n.GivenNames(),
		Family: n.Family,
	}
	if len(n.Prefix) > 0 {
		name.Prefix = strings.Join(n.Prefix, " ")
	}
	return name
}
