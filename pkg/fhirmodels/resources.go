package fhirmodels

// Resource is implemented by every resource decoded out of a Bundle.
type Resource interface {
	GetResourceType() string
	GetID() string
}

// ResourceBase carries the fields shared by every resource.
type ResourceBase struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`
}

func (r *ResourceBase) GetResourceType() string { return r.ResourceType }
func (r *ResourceBase) GetID() string           { return r.ID }

// Ref returns the "Type/id" key the resource is addressed by.
func Ref(r Resource) string {
	return r.GetResourceType() + "/" + r.GetID()
}

type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

type Patient struct {
	ResourceBase
	Extension           []Extension    `json:"extension,omitempty"`
	Identifier          []Identifier   `json:"identifier,omitempty"`
	Active              *bool          `json:"active,omitempty"`
	Name                []HumanName    `json:"name,omitempty"`
	Telecom             []ContactPoint `json:"telecom,omitempty"`
	Gender              string         `json:"gender,omitempty"`
	BirthDate           string         `json:"birthDate,omitempty"`
	Address             []Address      `json:"address,omitempty"`
	GeneralPractitioner []Reference    `json:"generalPractitioner,omitempty"`
}

// NHSNumber returns the value of the patient's NHS number identifier.
func (p *Patient) NHSNumber() string {
	for _, id := range p.Identifier {
		if id.System == SystemNHSNumber {
			return id.Value
		}
	}
	return ""
}

// OfficialName returns the usual/official name, else the first one.
func (p *Patient) OfficialName() (HumanName, bool) {
	for _, n := range p.Name {
		if n.Use == "official" || n.Use == "usual" {
			return n, true
		}
	}
	if len(p.Name) > 0 {
		return p.Name[0], true
	}
	return HumanName{}, false
}

type Organization struct {
	ResourceBase
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       string       `json:"name,omitempty"`
}

// ODSCode returns the organisation's ODS code identifier.
func (o *Organization) ODSCode() string {
	for _, id := range o.Identifier {
		if id.System == SystemODSCode {
			return id.Value
		}
	}
	return ""
}

type Practitioner struct {
	ResourceBase
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
}

type ListEntry struct {
	Flag    *CodeableConcept `json:"flag,omitempty"`
	Deleted *bool            `json:"deleted,omitempty"`
	Date    string           `json:"date,omitempty"`
	Item    Reference        `json:"item"`
}

type List struct {
	ResourceBase
	Status      string           `json:"status,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	Title       string           `json:"title,omitempty"`
	Code        *CodeableConcept `json:"code,omitempty"`
	Subject     *Reference       `json:"subject,omitempty"`
	Date        string           `json:"date,omitempty"`
	Entry       []ListEntry      `json:"entry,omitempty"`
	EmptyReason *CodeableConcept `json:"emptyReason,omitempty"`
}

type MedicationStatement struct {
	ResourceBase
	Extension           []Extension      `json:"extension,omitempty"`
	Identifier          []Identifier     `json:"identifier,omitempty"`
	BasedOn             []Reference      `json:"basedOn,omitempty"`
	Status              string           `json:"status,omitempty"`
	MedicationReference *Reference       `json:"medicationReference,omitempty"`
	EffectivePeriod     *Period          `json:"effectivePeriod,omitempty"`
	DateAsserted        string           `json:"dateAsserted,omitempty"`
	Subject             *Reference       `json:"subject,omitempty"`
	Taken               string           `json:"taken,omitempty"`
	Note                []Annotation     `json:"note,omitempty"`
	Dosage              []Dosage         `json:"dosage,omitempty"`
	Category            *CodeableConcept `json:"category,omitempty"`
}

type Annotation struct {
	Text string `json:"text,omitempty"`
	Time string `json:"time,omitempty"`
}

type Medication struct {
	ResourceBase
	Code *CodeableConcept `json:"code,omitempty"`
}

type Condition struct {
	ResourceBase
	Extension         []Extension       `json:"extension,omitempty"`
	Identifier        []Identifier      `json:"identifier,omitempty"`
	ClinicalStatus    string            `json:"clinicalStatus,omitempty"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Code              *CodeableConcept  `json:"code,omitempty"`
	Subject           *Reference        `json:"subject,omitempty"`
	OnsetDateTime     string            `json:"onsetDateTime,omitempty"`
	AbatementDateTime string            `json:"abatementDateTime,omitempty"`
	AssertedDate      string            `json:"assertedDate,omitempty"`
	Note              []Annotation      `json:"note,omitempty"`
}

type AllergyReaction struct {
	Substance     *CodeableConcept  `json:"substance,omitempty"`
	Manifestation []CodeableConcept `json:"manifestation,omitempty"`
	Description   string            `json:"description,omitempty"`
	Onset         string            `json:"onset,omitempty"`
	Severity      string            `json:"severity,omitempty"`
}

type AllergyIntolerance struct {
	ResourceBase
	Identifier         []Identifier      `json:"identifier,omitempty"`
	ClinicalStatus     string            `json:"clinicalStatus,omitempty"`
	VerificationStatus string            `json:"verificationStatus,omitempty"`
	Category           []string          `json:"category,omitempty"`
	Code               *CodeableConcept  `json:"code,omitempty"`
	Patient            *Reference        `json:"patient,omitempty"`
	OnsetDateTime      string            `json:"onsetDateTime,omitempty"`
	AssertedDate       string            `json:"assertedDate,omitempty"`
	Reaction           []AllergyReaction `json:"reaction,omitempty"`
}

type Immunization struct {
	ResourceBase
	Identifier    []Identifier     `json:"identifier,omitempty"`
	Status        string           `json:"status,omitempty"`
	NotGiven      *bool            `json:"notGiven,omitempty"`
	VaccineCode   *CodeableConcept `json:"vaccineCode,omitempty"`
	Patient       *Reference       `json:"patient,omitempty"`
	Date          string           `json:"date,omitempty"`
	PrimarySource *bool            `json:"primarySource,omitempty"`
	LotNumber     string           `json:"lotNumber,omitempty"`
	Site          *CodeableConcept `json:"site,omitempty"`
	Route         *CodeableConcept `json:"route,omitempty"`
}

type ObservationReferenceRange struct {
	Low  *Quantity `json:"low,omitempty"`
	High *Quantity `json:"high,omitempty"`
	Text string    `json:"text,omitempty"`
}

type ObservationRelated struct {
	Type   string    `json:"type,omitempty"`
	Target Reference `json:"target"`
}

type Observation struct {
	ResourceBase
	Identifier        []Identifier                `json:"identifier,omitempty"`
	Status            string                      `json:"status,omitempty"`
	Category          []CodeableConcept           `json:"category,omitempty"`
	Code              *CodeableConcept            `json:"code,omitempty"`
	Subject           *Reference                  `json:"subject,omitempty"`
	EffectiveDateTime string                      `json:"effectiveDateTime,omitempty"`
	EffectivePeriod   *Period                     `json:"effectivePeriod,omitempty"`
	Issued            string                      `json:"issued,omitempty"`
	ValueQuantity     *Quantity                   `json:"valueQuantity,omitempty"`
	ValueString       string                      `json:"valueString,omitempty"`
	Interpretation    *CodeableConcept            `json:"interpretation,omitempty"`
	Comment           string                      `json:"comment,omitempty"`
	ReferenceRange    []ObservationReferenceRange `json:"referenceRange,omitempty"`
	Related           []ObservationRelated        `json:"related,omitempty"`
}

// Members returns the targets of the observation's has-member relations.
func (o *Observation) Members() []Reference {
	var out []Reference
	for _, rel := range o.Related {
		if rel.Type == RelatedHasMember {
			out = append(out, rel.Target)
		}
	}
	return out
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity,omitempty"`
	Code        string           `json:"code,omitempty"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

type OperationOutcome struct {
	ResourceBase
	Issue []OperationOutcomeIssue `json:"issue,omitempty"`
}

// Other holds any resource type the gateway does not model.
type Other struct {
	ResourceBase
}
