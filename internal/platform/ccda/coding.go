package ccda

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// codeSystems maps FHIR system URIs and code system names to OIDs.
var codeSystems = map[string]string{
	"http://snomed.info/sct":                                  OIDSNOMED,
	"SNOMED CT":                                               OIDSNOMED,
	"SNOMED":                                                  OIDSNOMED,
	"LOINC":                                                   OIDLOINC,
	"http://loinc.org":                                        OIDLOINC,
	"http://www.nlm.nih.gov/research/umls/rxnorm":             OIDRxNorm,
	"http://hl7.org/fhir/sid/icd-10":                          OIDICD10,
	"http://hl7.org/fhir/sid/cvx":                             OIDCVX,
	"http://read.info/readv2":                                 OIDReadV2,
	"http://read.info/ctv3":                                   OIDCTV3,
	"https://fhir.hl7.org.uk/Id/multilex-drug-codes":          OIDMultilex,
	"https://fhir.hl7.org.uk/Id/resipuk-gemscript-drug-codes": OIDGemscript,
	"https://fhir.hl7.org.uk/Id/emis-drug-codes":              OIDEMISDrug,
}

// ResolveCodeSystem returns the OID for a code system name or FHIR system
// URI. Names that are already OIDs are returned unchanged. Unknown names
// are logged and reported with ok=false.
func ResolveCodeSystem(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if oid, ok := codeSystems[name]; ok {
		return oid, true
	}
	if oid, ok := strings.CutPrefix(name, "urn:oid:"); ok && isOID(oid) {
		return oid, true
	}
	if isOID(name) {
		return name, true
	}
	log.Warn().Str("code_system", name).Msg("unknown code system, codeSystem left empty")
	return "", false
}

func isOID(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return strings.Contains(s, ".")
}

// codingToCD converts a single FHIR coding, resolving its system.
func codingToCD(c fhirmodels.Coding) Coded {
	return NewCD(Concept{
		Code:           c.Code,
		CodeSystemName: c.System,
		DisplayName:    c.Display,
	})
}

// SelectPrimaryAndTranslations picks the SNOMED CT coding as the primary
// code (the first coding if none is SNOMED) and carries every other coding,
// in input order, as a translation.
func SelectPrimaryAndTranslations(codings []fhirmodels.Coding) (Coded, error) {
	if len(codings) == 0 {
		return Coded{}, ErrNoCoding
	}

	primary := 0
	for i, c := range codings {
		if oid, ok := codeSystems[c.System]; ok && oid == OIDSNOMED {
			primary = i
			break
		}
	}

	out := codingToCD(codings[primary])
	for i, c := range codings {
		if i == primary {
			continue
		}
		out.Translation = append(out.Translation, codingToCD(c))
	}
	return out, nil
}

// conceptCode maps a CodeableConcept, falling back to its text as the
// original text of a null-flavoured code when it has no codings.
func conceptCode(cc *fhirmodels.CodeableConcept) (Coded, error) {
	if cc == nil {
		return Coded{}, ErrNoCoding
	}
	code, err := SelectPrimaryAndTranslations(cc.Coding)
	if err != nil {
		if cc.Text == "" {
			return Coded{}, err
		}
		code = NullCD(NullOther)
		code.OriginalText = cc.Text
		return code, nil
	}
	if cc.Text != "" && code.OriginalText == "" && cc.Text != code.DisplayName {
		code.OriginalText = cc.Text
	}
	return code, nil
}

// TemplateIDPair returns the unversioned and versioned template identifiers.
func TemplateIDPair(root, extension string) []II {
	return []II{{Root: root}, {Root: root, Extension: extension}}
}

// NormalizeDate converts an ISO-8601 date or date-time to HL7 YYYYMMDD.
// Only the date part (first ten characters) is considered.
func NormalizeDate(iso string) (string, error) {
	s := strings.TrimSpace(iso)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, iso)
	}
	return t.Format("20060102"), nil
}

// FormatReadableDate converts YYYYMMDD into DD/MM/YYYY for narrative tables.
func FormatReadableDate(hl7 string) (string, error) {
	if len(hl7) != 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, hl7)
	}
	t, err := time.Parse("20060102", hl7)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, hl7)
	}
	return t.Format("02/01/2006"), nil
}

// optionalDate normalises a date that may legitimately be absent. Absent
// dates yield "", present but malformed dates fail with ErrInvalidDate.
func optionalDate(iso string) (string, error) {
	if strings.TrimSpace(iso) == "" {
		return "", nil
	}
	return NormalizeDate(iso)
}

// readableDate renders an HL7 date for a narrative cell, "" when absent.
func readableDate(hl7 string) string {
	if hl7 == "" {
		return ""
	}
	s, err := FormatReadableDate(hl7)
	if err != nil {
		return hl7
	}
	return s
}
