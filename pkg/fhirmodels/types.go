package fhirmodels

// Common FHIR and GP Connect value set constants used across the application.

// Identifier and extension systems published by NHS Digital.
const (
	SystemNHSNumber = "https://fhir.nhs.uk/Id/nhs-number"
	SystemODSCode   = "https://fhir.nhs.uk/Id/ods-organization-code"

	ExtensionLastIssueDate     = "https://fhir.nhs.uk/STU3/StructureDefinition/Extension-CareConnect-GPC-MedicationStatementLastIssueDate-1"
	ExtensionPrescribingAgency = "https://fhir.nhs.uk/STU3/StructureDefinition/Extension-CareConnect-GPC-PrescribingAgency-1"
)

// Terminology systems.
const (
	SystemSNOMED = "http://snomed.info/sct"
	SystemLOINC  = "http://loinc.org"
)

// List titles returned by the GP Connect structured record.
const (
	ListTitleAllergies     = "Allergies and adverse reactions"
	ListTitleMedications   = "Medications and medical devices"
	ListTitleProblems      = "Problems"
	ListTitleImmunisations = "Immunisations"
	ListTitleVitalSigns    = "Vital Signs"
)

// Resource type names.
const (
	TypePatient             = "Patient"
	TypeList                = "List"
	TypeMedicationStatement = "MedicationStatement"
	TypeMedicationRequest   = "MedicationRequest"
	TypeMedication          = "Medication"
	TypeCondition           = "Condition"
	TypeAllergyIntolerance  = "AllergyIntolerance"
	TypeImmunization        = "Immunization"
	TypeObservation         = "Observation"
	TypeOrganization        = "Organization"
	TypePractitioner        = "Practitioner"
	TypeOperationOutcome    = "OperationOutcome"
)

// ConditionClinicalStatus codes.
const (
	ConditionActive     = "active"
	ConditionRecurrence = "recurrence"
	ConditionInactive   = "inactive"
	ConditionRemission  = "remission"
	ConditionResolved   = "resolved"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// ObservationRelatedType codes.
const (
	RelatedHasMember   = "has-member"
	RelatedDerivedFrom = "derived-from"
)
