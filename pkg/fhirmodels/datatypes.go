package fhirmodels

import "strings"

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// DisplayText returns the concept's text, falling back to the first coding
// that carries a display.
func (c *CodeableConcept) DisplayText() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	for _, cd := range c.Coding {
		if cd.Display != "" {
			return cd.Display
		}
	}
	return ""
}

type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Quantity struct {
	Value      *float64 `json:"value,omitempty"`
	Comparator string   `json:"comparator,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	System     string   `json:"system,omitempty"`
	Code       string   `json:"code,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
}

// GivenNames joins the given names with single spaces.
func (n HumanName) GivenNames() string {
	return strings.Join(n.Given, " ")
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

type Extension struct {
	URL                  string           `json:"url"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueDateTime        string           `json:"valueDateTime,omitempty"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
	Extension            []Extension      `json:"extension,omitempty"`
}

// FindExtension returns the first extension with the given URL.
func FindExtension(exts []Extension, url string) (Extension, bool) {
	for _, ext := range exts {
		if ext.URL == url {
			return ext, true
		}
	}
	return Extension{}, false
}

type TimingRepeat struct {
	Frequency    *int     `json:"frequency,omitempty"`
	FrequencyMax *int     `json:"frequencyMax,omitempty"`
	Period       *float64 `json:"period,omitempty"`
	PeriodUnit   string   `json:"periodUnit,omitempty"`
	When         []string `json:"when,omitempty"`
}

type Timing struct {
	Event  []string         `json:"event,omitempty"`
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

type Dosage struct {
	Sequence                *int             `json:"sequence,omitempty"`
	Text                    string           `json:"text,omitempty"`
	PatientInstruction      string           `json:"patientInstruction,omitempty"`
	Timing                  *Timing          `json:"timing,omitempty"`
	AsNeededBoolean         *bool            `json:"asNeededBoolean,omitempty"`
	AsNeededCodeableConcept *CodeableConcept `json:"asNeededCodeableConcept,omitempty"`
	Site                    *CodeableConcept `json:"site,omitempty"`
	Route                   *CodeableConcept `json:"route,omitempty"`
	Method                  *CodeableConcept `json:"method,omitempty"`
	DoseQuantity            *Quantity        `json:"doseQuantity,omitempty"`
}
