package ccda

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// ParsedDocument is a summary view of a C-CDA document: header, patient and
// per-section narrative.
type ParsedDocument struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Created  time.Time       `json:"created"`
	Patient  ParsedPatient   `json:"patient"`
	Sections []ParsedSection `json:"sections"`
}

// ParsedPatient contains the patient demographics extracted from the CDA header.
type ParsedPatient struct {
	Name        string     `json:"name"`
	DOB         string     `json:"dob"`
	Gender      string     `json:"gender"`
	Identifiers []ParsedID `json:"identifiers"`
}

// ParsedID is a parsed identifier.
type ParsedID struct {
	Root      string `json:"root"`
	Extension string `json:"extension,omitempty"`
}

// ParsedSection holds data extracted from a single CDA section.
type ParsedSection struct {
	Type       string     `json:"type"` // "allergies", "medications", "problems", etc.
	Title      string     `json:"title"`
	EntryCount int        `json:"entryCount"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
}

// read-side view of the document; the write-side model marshals only.
type readDocument struct {
	ID            readID   `xml:"id"`
	Title         string   `xml:"title"`
	EffectiveTime readTime `xml:"effectiveTime"`
	PatientRole   struct {
		IDs     []readID `xml:"id"`
		Patient struct {
			Name struct {
				Given  []string `xml:"given"`
				Family string   `xml:"family"`
			} `xml:"name"`
			Gender struct {
				Code        string `xml:"code,attr"`
				DisplayName string `xml:"displayName,attr"`
			} `xml:"administrativeGenderCode"`
			BirthTime readTime `xml:"birthTime"`
		} `xml:"patient"`
	} `xml:"recordTarget>patientRole"`
	Sections []readSection `xml:"component>structuredBody>component>section"`
}

type readID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

type readTime struct {
	Value string `xml:"value,attr"`
}

type readSection struct {
	Code struct {
		Code string `xml:"code,attr"`
	} `xml:"code"`
	Title   string   `xml:"title"`
	Headers []string `xml:"text>table>thead>tr>th"`
	Rows    []struct {
		Cells []string `xml:"td"`
	} `xml:"text>table>tbody>tr"`
	Entries []struct{} `xml:"entry"`
}

// Parser extracts a summary from C-CDA documents. It is safe for
// concurrent use because it holds no mutable state.
type Parser struct{}

// NewParser creates a new C-CDA parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a C-CDA XML document and extracts its summary.
func (p *Parser) Parse(xmlData []byte) (*ParsedDocument, error) {
	if len(xmlData) == 0 {
		return nil, fmt.Errorf("ccda: XML data is empty")
	}

	var doc readDocument
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		return nil, fmt.Errorf("ccda: failed to parse XML: %w", err)
	}

	result := &ParsedDocument{
		ID:    doc.ID.Root,
		Title: doc.Title,
	}

	// Parse effective time
	if doc.EffectiveTime.Value != "" {
		if t, err := parseHL7Time(doc.EffectiveTime.Value); err == nil {
			result.Created = t
		}
	}

	// Parse patient
	role := doc.PatientRole
	for _, id := range role.IDs {
		result.Patient.Identifiers = append(result.Patient.Identifiers, ParsedID(id))
	}
	pat := role.Patient
	parts := append([]string{}, pat.Name.Given...)
	if pat.Name.Family != "" {
		parts = append(parts, pat.Name.Family)
	}
	result.Patient.Name = strings.Join(parts, " ")
	result.Patient.Gender = pat.Gender.DisplayName
	if result.Patient.Gender == "" {
		result.Patient.Gender = pat.Gender.Code
	}
	if pat.BirthTime.Value != "" {
		result.Patient.DOB = formatParsedDate(pat.BirthTime.Value)
	}

	// Parse sections
	for _, s := range doc.Sections {
		ps := ParsedSection{
			Type:       mapLOINCToType(s.Code.Code),
			Title:      s.Title,
			EntryCount: len(s.Entries),
			Headers:    s.Headers,
		}
		for _, r := range s.Rows {
			ps.Rows = append(ps.Rows, r.Cells)
		}
		result.Sections = append(result.Sections, ps)
	}

	return result, nil
}

// Section returns the parsed section of the given type.
func (d *ParsedDocument) Section(sectionType string) (ParsedSection, bool) {
	for _, s := range d.Sections {
		if s.Type == sectionType {
			return s, true
		}
	}
	return ParsedSection{}, false
}

func mapLOINCToType(code string) string {
	switch code {
	case LOINCAllergies:
		return "allergies"
	case LOINCMedications:
		return "medications"
	case LOINCProblems:
		return "problems"
	case LOINCResults:
		return "results"
	case LOINCVitalSigns:
		return "vital_signs"
	case LOINCImmunizations:
		return "immunizations"
	default:
		return ""
	}
}

// parseHL7Time parses an HL7 time string into a time.Time.
func parseHL7Time(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 14: // YYYYMMDDHHmmss
		return time.Parse("20060102150405", s)
	case 12: // YYYYMMDDHHmm
		return time.Parse("200601021504", s)
	case 8: // YYYYMMDD
		return time.Parse("20060102", s)
	default:
		if len(s) > 14 {
			return time.Parse("20060102150405", s[:14])
		}
		return time.Time{}, fmt.Errorf("ccda: unrecognized time format: %s", s)
	}
}

// formatParsedDate converts an HL7 date (YYYYMMDD) to a more readable format.
func formatParsedDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 8 {
		return s[:4] + "-" + s[4:6] + "-" + s[6:8]
	}
	return s
}
