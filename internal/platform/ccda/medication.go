package ccda

import (
	"strings"

	"github.com/google/uuid"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// OIDTimingEvent is the HL7 TimingEvent code system used by EIVL_TS events.
const OIDTimingEvent = "2.16.840.1.113883.5.139"

// eventTimingCodes are the FHIR event-timing codes that map onto EIVL_TS.
var eventTimingCodes = map[string]bool{
	"MORN": true, "MORN.early": true, "MORN.late": true,
	"NOON": true,
	"AFT": true, "AFT.early": true, "AFT.late": true,
	"EVE": true, "EVE.early": true, "EVE.late": true,
	"NIGHT": true, "PHS": true, "HS": true, "WAKE": true,
	"C": true, "CM": true, "CD": true, "CV": true,
	"AC": true, "ACM": true, "ACD": true, "ACV": true,
	"PC": true, "PCM": true, "PCD": true, "PCV": true,
}

// MedicationColumns are the narrative headers of the medications section.
var MedicationColumns = []string{
	"Start Date", "End Date", "Status", "Medication", "Instructions", "Prescribing Agency", "Last Issued",
}

// MapMedication maps a MedicationStatement to a medication activity. The
// referenced Medication is resolved through idx.
func MapMedication(stmt *fhirmodels.MedicationStatement, idx *ResourceIndex) (EntryWithRow, error) {
	ref := fhirmodels.Ref(stmt)
	if stmt.MedicationReference == nil || stmt.MedicationReference.Reference == "" {
		return EntryWithRow{}, entryErrorf(ref, "no medication reference")
	}
	med, err := resolveAs[*fhirmodels.Medication](idx, stmt.MedicationReference.Reference)
	if err != nil {
		return EntryWithRow{}, err
	}
	code, err := conceptCode(med.Code)
	if err != nil {
		return EntryWithRow{}, &EntryError{Resource: fhirmodels.Ref(med), Err: err}
	}

	var start, end string
	if p := stmt.EffectivePeriod; p != nil {
		if start, err = optionalDate(p.Start); err != nil {
			return EntryWithRow{}, err
		}
		if end, err = optionalDate(p.End); err != nil {
			return EntryWithRow{}, err
		}
	}

	var times EffectiveTimes
	if start != "" {
		times = append(times, SXCMTS{Value: start, Operator: "low"})
	}
	if end != "" {
		times = append(times, SXCMTS{Value: end, Operator: "high"})
	}

	sa := &SubstanceAdministration{
		ClassCode:   "SBADM",
		MoodCode:    "INT",
		TemplateIDs: TemplateIDPair(OIDMedicationActivity, Version20140609),
		IDs:         []II{identifierII(stmt.Identifier, ref)},
		StatusCode:  codedPtr(NewCS(stmt.Status)),
		Consumable: &Consumable{
			ManufacturedProduct: &ManufacturedProduct{
				ClassCode:   "MANU",
				TemplateIDs: TemplateIDPair(OIDMedicationInformation, Version20140609),
				IDs:         []II{{Root: stableID(fhirmodels.Ref(med))}},
				ManufacturedMaterial: &ManufacturedMaterial{
					Code: &code,
				},
			},
		},
	}

	if len(stmt.Dosage) > 0 {
		d := stmt.Dosage[0]
		timing, prn, err := dosageTiming(ref, d)
		if err != nil {
			return EntryWithRow{}, err
		}
		times = append(times, timing...)
		if prn {
			sa.Preconditions = []Precondition{asNeededPrecondition(d)}
		}
		sa.DoseQuantity = doseQuantity(d.DoseQuantity)
		sa.RouteCode = routeCode(d)
	}
	sa.EffectiveTimes = times

	var instructions []string
	for i, d := range stmt.Dosage {
		if d.Text == "" {
			continue
		}
		instructions = append(instructions, d.Text)
		rel := EntryRelationship{
			TypeCode:     "SUBJ",
			InversionInd: boolPtr(true),
			Observation:  instructionObservation(d.Text),
		}
		if len(stmt.Dosage) > 1 {
			rel.SequenceNumber = &SequenceNumber{Value: i + 1}
		}
		sa.EntryRelationships = append(sa.EntryRelationships, rel)
	}

	agency := ""
	if ext, ok := fhirmodels.FindExtension(stmt.Extension, fhirmodels.ExtensionPrescribingAgency); ok {
		agency = ext.ValueCodeableConcept.DisplayText()
	}
	lastIssued := ""
	if ext, ok := fhirmodels.FindExtension(stmt.Extension, fhirmodels.ExtensionLastIssueDate); ok {
		if lastIssued, err = optionalDate(ext.ValueDateTime); err != nil {
			return EntryWithRow{}, err
		}
	}

	display := med.Code.DisplayText()
	if display == "" {
		display = code.DisplayName
	}

	return EntryWithRow{
		Entry: Entry{SubstanceAdministration: sa},
		Row: []string{
			readableDate(start),
			readableDate(end),
			stmt.Status,
			display,
			strings.Join(instructions, "; "),
			agency,
			readableDate(lastIssued),
		},
	}, nil
}

// dosageTiming derives the PIVL_TS dose period and EIVL_TS events of a
// dosage. Only a frequencyMax marks the dosage as PRN and divides the
// period by it; otherwise the period is divided by the frequency. The
// asNeeded fields alone never make a dosage PRN.
func dosageTiming(ref string, d fhirmodels.Dosage) ([]TimeValue, bool, error) {
	if d.Timing == nil || d.Timing.Repeat == nil {
		return nil, false, nil
	}
	rep := d.Timing.Repeat
	prn := rep.FrequencyMax != nil

	var times []TimeValue
	if rep.Period != nil {
		period := *rep.Period
		switch {
		case rep.FrequencyMax != nil:
			if *rep.FrequencyMax <= 0 {
				return nil, false, entryErrorf(ref, "frequencyMax must be positive")
			}
			period /= float64(*rep.FrequencyMax)
		case rep.Frequency != nil:
			if *rep.Frequency <= 0 {
				return nil, false, entryErrorf(ref, "frequency must be positive")
			}
			period /= float64(*rep.Frequency)
		}
		times = append(times, PIVLTS{
			Operator:             "A",
			InstitutionSpecified: rep.Frequency != nil,
			Period:               &PQ{Value: Float(period), Unit: rep.PeriodUnit},
		})
	}

	for _, w := range rep.When {
		if !eventTimingCodes[w] {
			continue
		}
		event := NewCE(Concept{Code: w, CodeSystem: OIDTimingEvent, CodeSystemName: "TimingEvent"})
		times = append(times, EIVLTS{Operator: "A", Event: &event})
	}
	return times, prn, nil
}

// asNeededPrecondition asserts the as-needed reason, or NI when none is coded.
func asNeededPrecondition(d fhirmodels.Dosage) Precondition {
	var value Datatype = NullCD(NullNoInformation)
	if d.AsNeededCodeableConcept != nil {
		if c, err := conceptCode(d.AsNeededCodeableConcept); err == nil {
			value = c
		}
	}
	return Precondition{
		TypeCode: "PRCN",
		Criterion: Criterion{
			TemplateIDs: TemplateIDPair(OIDPreconditionCriterion, Version20140609),
			Code:        codedPtr(NewCD(Concept{Code: CodeAssertion, CodeSystem: OIDActCode})),
			Value:       value,
		},
	}
}

// doseQuantity carries the dose as a PQR translation; GP Connect dose units
// are free text ("tablet", "drop") rather than UCUM.
func doseQuantity(q *fhirmodels.Quantity) *PQ {
	if q == nil || q.Value == nil {
		return nil
	}
	return &PQ{
		NullFlavor: NullOther,
		Translation: []Coded{NewPQR(*q.Value, Concept{
			Code:           q.Code,
			CodeSystemName: q.System,
			OriginalText:   q.Unit,
		})},
	}
}

func routeCode(d fhirmodels.Dosage) *Coded {
	for _, cc := range []*fhirmodels.CodeableConcept{d.Route, d.Method} {
		if cc == nil {
			continue
		}
		if c, err := conceptCode(cc); err == nil {
			return &c
		}
	}
	return nil
}

func instructionObservation(text string) *Observation {
	return &Observation{
		ClassCode:   "OBS",
		MoodCode:    "EVN",
		TemplateIDs: TemplateIDPair(OIDInstruction, Version20140609),
		Code: codedPtr(NewCD(Concept{
			Code:           CodeInstruction,
			CodeSystem:     OIDSNOMED,
			CodeSystemName: "SNOMED CT",
			DisplayName:    "Medication administration instructions",
		})),
		StatusCode: codedPtr(NewCS("completed")),
		Values:     []Datatype{ST{Text: text}},
	}
}

// identifierII uses the first business identifier, else a stable id
// derived from the resource reference.
func identifierII(ids []fhirmodels.Identifier, ref string) II {
	for _, id := range ids {
		if id.Value != "" {
			return II{Root: id.Value, AssigningAuthorityName: id.System}
		}
	}
	return II{Root: stableID(ref)}
}

// stableID derives a UUID from a resource reference so the same resource
// always maps to the same instance identifier.
func stableID(ref string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ref)).String()
}

func codedPtr(c Coded) *Coded { return &c }
