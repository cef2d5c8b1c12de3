package ccda

// CDA OIDs and template identifiers for C-CDA 2.1 CCD documents.
const (
	// CDA namespace
	CDANamespace  = "urn:hl7-org:v3"
	XSINamespace  = "http://www.w3.org/2001/XMLSchema-instance"
	SDTCNamespace = "urn:hl7-org:sdtc"
	VOCNamespace  = "urn:hl7-org:v3/voc"

	// Document-level template IDs
	OIDCCDDocument = "2.16.840.1.113883.10.20.22.1.2"
	OIDCDARoot     = "2.16.840.1.113883.1.3"

	// Section-level template IDs
	OIDAllergiesSection     = "2.16.840.1.113883.10.20.22.2.6.1"
	OIDMedicationsSection   = "2.16.840.1.113883.10.20.22.2.1.1"
	OIDProblemsSection      = "2.16.840.1.113883.10.20.22.2.5.1"
	OIDResultsSection       = "2.16.840.1.113883.10.20.22.2.3.1"
	OIDVitalSignsSection    = "2.16.840.1.113883.10.20.22.2.4.1"
	OIDImmunizationsSection = "2.16.840.1.113883.10.20.22.2.2.1"

	// Entry-level template IDs
	OIDAllergyConcernAct          = "2.16.840.1.113883.10.20.22.4.30"
	OIDAllergyObservation         = "2.16.840.1.113883.10.20.22.4.7"
	OIDReactionObservation        = "2.16.840.1.113883.10.20.22.4.9"
	OIDMedicationActivity         = "2.16.840.1.113883.10.20.22.4.16"
	OIDMedicationInformation      = "2.16.840.1.113883.10.20.22.4.23"
	OIDInstruction                = "2.16.840.1.113883.10.20.22.4.20"
	OIDPreconditionCriterion      = "2.16.840.1.113883.10.20.22.4.25"
	OIDProblemConcernAct          = "2.16.840.1.113883.10.20.22.4.3"
	OIDProblemObservation         = "2.16.840.1.113883.10.20.22.4.4"
	OIDResultOrganizer            = "2.16.840.1.113883.10.20.22.4.1"
	OIDResultObservation          = "2.16.840.1.113883.10.20.22.4.2"
	OIDImmunizationActivity       = "2.16.840.1.113883.10.20.22.4.52"
	OIDImmunizationMedicationInfo = "2.16.840.1.113883.10.20.22.4.54"

	// Template versions
	Version20140609 = "2014-06-09"
	Version20150801 = "2015-08-01"

	// LOINC codes for section identification
	LOINCSummaryNote   = "34133-9"
	LOINCAllergies     = "48765-2"
	LOINCMedications   = "10160-0"
	LOINCProblems      = "11450-4"
	LOINCResults       = "30954-2"
	LOINCVitalSigns    = "8716-3"
	LOINCImmunizations = "11369-6"

	// Code system OIDs
	OIDLOINC           = "2.16.840.1.113883.6.1"
	OIDSNOMED          = "2.16.840.1.113883.6.96"
	OIDRxNorm          = "2.16.840.1.113883.6.88"
	OIDICD10           = "2.16.840.1.113883.6.90"
	OIDCVX             = "2.16.840.1.113883.12.292"
	OIDReadV2          = "2.16.840.1.113883.2.1.6.2"
	OIDCTV3            = "2.16.840.1.113883.2.1.3.2.4.14"
	OIDMultilex        = "2.16.840.1.113883.2.1.6.4"
	OIDGemscript       = "2.16.840.1.113883.2.1.6.15"
	OIDEMISDrug        = "2.16.840.1.113883.2.1.6.9"
	OIDAdminGender     = "2.16.840.1.113883.5.1"
	OIDActCode         = "2.16.840.1.113883.5.4"
	OIDActClass        = "2.16.840.1.113883.5.6"
	OIDConfidentiality = "2.16.840.1.113883.5.25"

	// Identifier roots
	OIDNHSNumber = "2.16.840.1.113883.2.1.4.1"
	OIDODSCode   = "2.16.840.1.113883.2.1.4.3"
)

// Fixed codes used by the entry templates.
const (
	CodeAssertion      = "ASSERTION"
	CodeConcern        = "CONC"
	CodeCondition      = "64572001"
	CodeProblemLOINC   = "75323-6"
	CodeDrugAllergy    = "416098002"
	CodeInstruction    = "422037009"
	noInformationLabel = "No information available"
)
