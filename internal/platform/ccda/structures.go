package ccda

import "encoding/xml"

// ClinicalDocument is the root element of a CDA R2 document.
type ClinicalDocument struct {
	XMLName             xml.Name         `xml:"urn:hl7-org:v3 ClinicalDocument"`
	XSI                 string           `xml:"xmlns:xsi,attr"`
	SDTC                string           `xml:"xmlns:sdtc,attr,omitempty"`
	VOC                 string           `xml:"xmlns:voc,attr,omitempty"`
	RealmCode           *Coded           `xml:"realmCode,omitempty"`
	TypeID              *II              `xml:"typeId,omitempty"`
	TemplateIDs         []II             `xml:"templateId,omitempty"`
	ID                  *II              `xml:"id,omitempty"`
	Code                *Coded           `xml:"code,omitempty"`
	Title               string           `xml:"title,omitempty"`
	EffectiveTime       *TS              `xml:"effectiveTime,omitempty"`
	ConfidentialityCode *Coded           `xml:"confidentialityCode,omitempty"`
	LanguageCode        *Coded           `xml:"languageCode,omitempty"`
	RecordTarget        *RecordTarget    `xml:"recordTarget,omitempty"`
	Author              *Author          `xml:"author,omitempty"`
	Custodian           *Custodian       `xml:"custodian,omitempty"`
	DocumentationOf     *DocumentationOf `xml:"documentationOf,omitempty"`
	Component           *Component       `xml:"component,omitempty"`
}

// RecordTarget holds the patient information in the CDA header.
type RecordTarget struct {
	PatientRole *PatientRole `xml:"patientRole,omitempty"`
}

// PatientRole contains patient identifiers and demographics.
type PatientRole struct {
	IDs     []II     `xml:"id,omitempty"`
	Addr    *Address `xml:"addr,omitempty"`
	Telecom []TEL    `xml:"telecom,omitempty"`
	Patient *Patient `xml:"patient,omitempty"`
}

// Patient holds patient demographic data.
type Patient struct {
	Name                     *Name  `xml:"name,omitempty"`
	AdministrativeGenderCode *Coded `xml:"administrativeGenderCode,omitempty"`
	BirthTime                *TS    `xml:"birthTime,omitempty"`
}

// Name represents a person's name.
type Name struct {
	Use    string `xml:"use,attr,omitempty"`
	Prefix string `xml:"prefix,omitempty"`
	Given  string `xml:"given,omitempty"`
	Family string `xml:"family,omitempty"`
}

// Address represents a postal address.
type Address struct {
	Use           string   `xml:"use,attr,omitempty"`
	NullFlavor    string   `xml:"nullFlavor,attr,omitempty"`
	StreetAddress []string `xml:"streetAddressLine,omitempty"`
	City          string   `xml:"city,omitempty"`
	County        string   `xml:"county,omitempty"`
	PostalCode    string   `xml:"postalCode,omitempty"`
	Country       string   `xml:"country,omitempty"`
}

// Author holds authoring information in the CDA header.
type Author struct {
	Time           *TS             `xml:"time,omitempty"`
	AssignedAuthor *AssignedAuthor `xml:"assignedAuthor,omitempty"`
}

// AssignedAuthor identifies the author entity.
type AssignedAuthor struct {
	IDs                     []II             `xml:"id,omitempty"`
	Addr                    *Address         `xml:"addr,omitempty"`
	Telecom                 *TEL             `xml:"telecom,omitempty"`
	AssignedAuthoringDevice *AuthoringDevice `xml:"assignedAuthoringDevice,omitempty"`
	RepresentedOrganization *Organization    `xml:"representedOrganization,omitempty"`
}

// AuthoringDevice identifies a device as the author.
type AuthoringDevice struct {
	ManufacturerModelName string `xml:"manufacturerModelName,omitempty"`
	SoftwareName          string `xml:"softwareName,omitempty"`
}

// Organization represents a healthcare organization.
type Organization struct {
	IDs   []II     `xml:"id,omitempty"`
	Names []string `xml:"name,omitempty"`
}

// Custodian holds the custodian organization in the CDA header.
type Custodian struct {
	AssignedCustodian *AssignedCustodian `xml:"assignedCustodian,omitempty"`
}

// AssignedCustodian contains the custodian organization.
type AssignedCustodian struct {
	RepresentedCustodianOrganization *Organization `xml:"representedCustodianOrganization,omitempty"`
}

// DocumentationOf records the service event documented.
type DocumentationOf struct {
	ServiceEvent *ServiceEvent `xml:"serviceEvent,omitempty"`
}

// ServiceEvent describes the clinical service documented.
type ServiceEvent struct {
	ClassCode     string `xml:"classCode,attr,omitempty"`
	EffectiveTime *IVLTS `xml:"effectiveTime,omitempty"`
}

// Component wraps the structured body of the CDA document.
type Component struct {
	StructuredBody *StructuredBody `xml:"structuredBody,omitempty"`
}

// StructuredBody holds the document sections.
type StructuredBody struct {
	Components []SectionComponent `xml:"component,omitempty"`
}

// SectionComponent wraps a single section.
type SectionComponent struct {
	Section *Section `xml:"section,omitempty"`
}

// Section represents a CDA section with template, code, narrative, and entries.
type Section struct {
	TemplateIDs []II       `xml:"templateId,omitempty"`
	Code        *Coded     `xml:"code,omitempty"`
	Title       string     `xml:"title,omitempty"`
	Text        *Narrative `xml:"text,omitempty"`
	Entries     []Entry    `xml:"entry,omitempty"`
}

// Entry represents a CDA entry element containing clinical data. Exactly
// one of the clinical statements is set.
type Entry struct {
	TypeCode                string                   `xml:"typeCode,attr,omitempty"`
	Act                     *Act                     `xml:"act,omitempty"`
	Observation             *Observation             `xml:"observation,omitempty"`
	Organizer               *Organizer               `xml:"organizer,omitempty"`
	SubstanceAdministration *SubstanceAdministration `xml:"substanceAdministration,omitempty"`
}

// Act represents a CDA act element.
type Act struct {
	ClassCode          string              `xml:"classCode,attr,omitempty"`
	MoodCode           string              `xml:"moodCode,attr,omitempty"`
	TemplateIDs        []II                `xml:"templateId,omitempty"`
	IDs                []II                `xml:"id,omitempty"`
	Code               *Coded              `xml:"code,omitempty"`
	Text               *ED                 `xml:"text,omitempty"`
	StatusCode         *Coded              `xml:"statusCode,omitempty"`
	EffectiveTime      *IVLTS              `xml:"effectiveTime,omitempty"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship,omitempty"`
}

// SequenceNumber orders sibling entry relationships.
type SequenceNumber struct {
	Value int `xml:"value,attr"`
}

// EntryRelationship links entries together.
type EntryRelationship struct {
	TypeCode                string                   `xml:"typeCode,attr,omitempty"`
	InversionInd            *bool                    `xml:"inversionInd,attr,omitempty"`
	SequenceNumber          *SequenceNumber          `xml:"sequenceNumber,omitempty"`
	Act                     *Act                     `xml:"act,omitempty"`
	Observation             *Observation             `xml:"observation,omitempty"`
	SubstanceAdministration *SubstanceAdministration `xml:"substanceAdministration,omitempty"`
}

// Observation represents a CDA observation.
type Observation struct {
	ClassCode          string              `xml:"classCode,attr,omitempty"`
	MoodCode           string              `xml:"moodCode,attr,omitempty"`
	NegationInd        *bool               `xml:"negationInd,attr,omitempty"`
	TemplateIDs        []II                `xml:"templateId,omitempty"`
	IDs                []II                `xml:"id,omitempty"`
	Code               *Coded              `xml:"code,omitempty"`
	Text               *ED                 `xml:"text,omitempty"`
	StatusCode         *Coded              `xml:"statusCode,omitempty"`
	EffectiveTime      TimeValue           `xml:"effectiveTime,omitempty"`
	Values             []Datatype          `xml:"value,omitempty"`
	Interpretations    []Coded             `xml:"interpretationCode,omitempty"`
	Participants       []Participant       `xml:"participant,omitempty"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship,omitempty"`
	ReferenceRanges    []ReferenceRange    `xml:"referenceRange,omitempty"`
}

// ReferenceRange wraps an observation range.
type ReferenceRange struct {
	ObservationRange ObservationRange `xml:"observationRange"`
}

// ObservationRange is a normal range, given as text or as an interval.
type ObservationRange struct {
	Text  *ED      `xml:"text,omitempty"`
	Value Datatype `xml:"value,omitempty"`
}

// Participant represents a participant in an entry.
type Participant struct {
	TypeCode        string           `xml:"typeCode,attr,omitempty"`
	ParticipantRole *ParticipantRole `xml:"participantRole,omitempty"`
}

// ParticipantRole holds participant role information.
type ParticipantRole struct {
	ClassCode     string         `xml:"classCode,attr,omitempty"`
	PlayingEntity *PlayingEntity `xml:"playingEntity,omitempty"`
}

// PlayingEntity holds an entity name and code.
type PlayingEntity struct {
	ClassCode string `xml:"classCode,attr,omitempty"`
	Code      *Coded `xml:"code,omitempty"`
	Name      string `xml:"name,omitempty"`
}

// SubstanceAdministration represents a medication or immunization entry.
type SubstanceAdministration struct {
	ClassCode          string              `xml:"classCode,attr,omitempty"`
	MoodCode           string              `xml:"moodCode,attr,omitempty"`
	NegationInd        *bool               `xml:"negationInd,attr,omitempty"`
	TemplateIDs        []II                `xml:"templateId,omitempty"`
	IDs                []II                `xml:"id,omitempty"`
	Code               *Coded              `xml:"code,omitempty"`
	Text               *ED                 `xml:"text,omitempty"`
	StatusCode         *Coded              `xml:"statusCode,omitempty"`
	EffectiveTimes     EffectiveTimes      `xml:"effectiveTime,omitempty"`
	RouteCode          *Coded              `xml:"routeCode,omitempty"`
	DoseQuantity       *PQ                 `xml:"doseQuantity,omitempty"`
	Consumable         *Consumable         `xml:"consumable,omitempty"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship,omitempty"`
	Preconditions      []Precondition      `xml:"precondition,omitempty"`
}

// Precondition gates a medication on a criterion, e.g. "as needed".
type Precondition struct {
	TypeCode  string    `xml:"typeCode,attr,omitempty"`
	Criterion Criterion `xml:"criterion"`
}

// Criterion is the condition a precondition asserts.
type Criterion struct {
	TemplateIDs []II     `xml:"templateId,omitempty"`
	Code        *Coded   `xml:"code,omitempty"`
	Value       Datatype `xml:"value,omitempty"`
}

// Consumable wraps a manufactured product (medication or vaccine).
type Consumable struct {
	ManufacturedProduct *ManufacturedProduct `xml:"manufacturedProduct,omitempty"`
}

// ManufacturedProduct holds a medication material.
type ManufacturedProduct struct {
	ClassCode            string                `xml:"classCode,attr,omitempty"`
	TemplateIDs          []II                  `xml:"templateId,omitempty"`
	IDs                  []II                  `xml:"id,omitempty"`
	ManufacturedMaterial *ManufacturedMaterial `xml:"manufacturedMaterial,omitempty"`
}

// ManufacturedMaterial holds the medication code.
type ManufacturedMaterial struct {
	Code      *Coded `xml:"code,omitempty"`
	Name      string `xml:"name,omitempty"`
	LotNumber string `xml:"lotNumberText,omitempty"`
}

// Organizer groups related observations (e.g., lab panels).
type Organizer struct {
	ClassCode     string               `xml:"classCode,attr,omitempty"`
	MoodCode      string               `xml:"moodCode,attr,omitempty"`
	TemplateIDs   []II                 `xml:"templateId,omitempty"`
	IDs           []II                 `xml:"id,omitempty"`
	Code          *Coded               `xml:"code,omitempty"`
	StatusCode    *Coded               `xml:"statusCode,omitempty"`
	EffectiveTime *IVLTS               `xml:"effectiveTime,omitempty"`
	Components    []OrganizerComponent `xml:"component,omitempty"`
}

// OrganizerComponent wraps an observation inside an organizer.
type OrganizerComponent struct {
	Observation *Observation `xml:"observation,omitempty"`
}

// EntryWithRow is one mapped entry and the narrative row describing it.
type EntryWithRow struct {
	Entry Entry
	Row   []string
}

func boolPtr(b bool) *bool { return &b }
