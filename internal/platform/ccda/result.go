package ccda

import (
	"strings"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// ResultColumns are the narrative headers of a results table.
var ResultColumns = []string{"Date", "Test", "Results"}

// MapGroupedResult maps a test group header observation to a result
// organizer with one result observation per has-member target. Observations
// without members return ErrNotGrouped; standalone results are not mapped.
func MapGroupedResult(obs *fhirmodels.Observation, idx *ResourceIndex) (EntryWithRow, error) {
	ref := fhirmodels.Ref(obs)
	members := obs.Members()
	if len(members) == 0 {
		return EntryWithRow{}, ErrNotGrouped
	}

	code, err := conceptCode(obs.Code)
	if err != nil {
		return EntryWithRow{}, &EntryError{Resource: ref, Err: err}
	}
	date, err := optionalDate(observationDate(obs))
	if err != nil {
		return EntryWithRow{}, err
	}

	org := &Organizer{
		ClassCode:     "BATTERY",
		MoodCode:      "EVN",
		TemplateIDs:   TemplateIDPair(OIDResultOrganizer, Version20150801),
		IDs:           []II{identifierII(obs.Identifier, ref)},
		Code:          &code,
		StatusCode:    codedPtr(NewCS("completed")),
		EffectiveTime: lowBound(date),
	}

	var summary []string
	for _, m := range members {
		member, err := resolveAs[*fhirmodels.Observation](idx, m.Reference)
		if err != nil {
			return EntryWithRow{}, err
		}
		ro, text, err := resultObservation(member)
		if err != nil {
			return EntryWithRow{}, err
		}
		org.Components = append(org.Components, OrganizerComponent{Observation: ro})
		summary = append(summary, text)
	}

	return EntryWithRow{
		Entry: Entry{Organizer: org},
		Row:   []string{readableDate(date), obs.Code.DisplayText(), strings.Join(summary, "; ")},
	}, nil
}

// resultObservation maps one member result and returns its narrative text.
func resultObservation(obs *fhirmodels.Observation) (*Observation, string, error) {
	ref := fhirmodels.Ref(obs)
	code, err := conceptCode(obs.Code)
	if err != nil {
		return nil, "", &EntryError{Resource: ref, Err: err}
	}
	date, err := optionalDate(observationDate(obs))
	if err != nil {
		return nil, "", err
	}

	unit := ""
	var value Datatype
	text := obs.Code.DisplayText()
	switch {
	case obs.ValueQuantity != nil && obs.ValueQuantity.Value != nil:
		q := obs.ValueQuantity
		unit = quantityUnit(q)
		value = PQ{Value: q.Value, Unit: unit}
		text += ": " + formatFloat(*q.Value)
		if q.Unit != "" {
			text += " " + q.Unit
		}
	case obs.ValueString != "":
		value = ST{Text: obs.ValueString}
		text += ": " + obs.ValueString
	default:
		value = PQ{NullFlavor: NullNoInformation}
	}

	effective := TS{Value: date}
	if date == "" {
		effective = TS{NullFlavor: NullUnknown}
	}

	out := &Observation{
		ClassCode:     "OBS",
		MoodCode:      "EVN",
		TemplateIDs:   TemplateIDPair(OIDResultObservation, Version20150801),
		IDs:           []II{identifierII(obs.Identifier, ref)},
		Code:          &code,
		StatusCode:    codedPtr(NewCS("completed")),
		EffectiveTime: effective,
		Values:        []Datatype{value},
	}
	if obs.Interpretation != nil {
		if c, err := conceptCode(obs.Interpretation); err == nil {
			out.Interpretations = []Coded{c}
		}
	}
	for _, rr := range obs.ReferenceRange {
		if r, ok := referenceRange(rr, unit); ok {
			out.ReferenceRanges = append(out.ReferenceRanges, r)
		}
	}
	return out, text, nil
}

// referenceRange renders a range as free text, or as an IVL_PQ whose bounds
// share the result's unit.
func referenceRange(rr fhirmodels.ObservationReferenceRange, unit string) (ReferenceRange, bool) {
	if rr.Text != "" {
		return ReferenceRange{ObservationRange: ObservationRange{Text: &ED{Text: rr.Text}}}, true
	}
	if rr.Low == nil && rr.High == nil {
		return ReferenceRange{}, false
	}
	ivl := IVLPQ{}
	if rr.Low != nil && rr.Low.Value != nil {
		ivl.Low = &IVXBPQ{Value: rr.Low.Value, Unit: unit}
	}
	if rr.High != nil && rr.High.Value != nil {
		ivl.High = &IVXBPQ{Value: rr.High.Value, Unit: unit}
	}
	return ReferenceRange{ObservationRange: ObservationRange{Value: ivl}}, true
}

// quantityUnit prefers the UCUM code over the display unit.
func quantityUnit(q *fhirmodels.Quantity) string {
	if q.Code != "" && q.System == "http://unitsofmeasure.org" {
		return q.Code
	}
	return q.Unit
}

func observationDate(obs *fhirmodels.Observation) string {
	if obs.EffectiveDateTime != "" {
		return obs.EffectiveDateTime
	}
	if obs.EffectivePeriod != nil {
		return obs.EffectivePeriod.Start
	}
	return obs.Issued
}
