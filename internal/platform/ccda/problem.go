package ccda

import "github.com/xhuma/gateway/pkg/fhirmodels"

// ProblemColumns are the narrative headers of the problems section.
var ProblemColumns = []string{"Date", "Status", "Condition"}

// MapProblem maps a Condition to a problem concern act wrapping a problem
// observation. Only a low bound is recorded, from the asserted date (the
// onset date when GP Connect omits it).
func MapProblem(cond *fhirmodels.Condition) (EntryWithRow, error) {
	ref := fhirmodels.Ref(cond)
	value, err := conceptCode(cond.Code)
	if err != nil {
		return EntryWithRow{}, &EntryError{Resource: ref, Err: err}
	}

	asserted := cond.AssertedDate
	if asserted == "" {
		asserted = cond.OnsetDateTime
	}
	low, err := optionalDate(asserted)
	if err != nil {
		return EntryWithRow{}, err
	}

	obs := &Observation{
		ClassCode:   "OBS",
		MoodCode:    "EVN",
		TemplateIDs: TemplateIDPair(OIDProblemObservation, Version20150801),
		IDs:         []II{identifierII(cond.Identifier, ref)},
		Code: codedPtr(NewCD(Concept{
			Code:           CodeCondition,
			CodeSystem:     OIDSNOMED,
			CodeSystemName: "SNOMED CT",
			DisplayName:    "Condition",
			Translation: []Coded{NewCD(Concept{
				Code:           CodeProblemLOINC,
				CodeSystem:     OIDLOINC,
				CodeSystemName: "LOINC",
				DisplayName:    "Problem",
			})},
		})),
		StatusCode:    codedPtr(NewCS("completed")),
		EffectiveTime: lowBound(low),
		Values:        []Datatype{value},
	}

	act := &Act{
		ClassCode:   "ACT",
		MoodCode:    "EVN",
		TemplateIDs: TemplateIDPair(OIDProblemConcernAct, Version20150801),
		IDs:         []II{{Root: stableID(ref + "#concern")}},
		Code: codedPtr(NewCD(Concept{
			Code:           CodeConcern,
			CodeSystem:     OIDActClass,
			CodeSystemName: "HL7ActClass",
			DisplayName:    "Concern",
		})),
		StatusCode:    codedPtr(NewCS(concernStatus(cond.ClinicalStatus))),
		EffectiveTime: lowBound(low),
		EntryRelationships: []EntryRelationship{{
			TypeCode:    "SUBJ",
			Observation: obs,
		}},
	}

	return EntryWithRow{
		Entry: Entry{Act: act},
		Row:   []string{readableDate(low), cond.ClinicalStatus, cond.Code.DisplayText()},
	}, nil
}

// concernStatus maps a FHIR clinical status onto the concern act status.
func concernStatus(clinical string) string {
	switch clinical {
	case fhirmodels.ConditionActive, fhirmodels.ConditionRecurrence, "":
		return "active"
	default:
		return "completed"
	}
}

// lowBound is an IVL_TS carrying only a low bound; an absent date is
// recorded as UNK.
func lowBound(hl7 string) *IVLTS {
	if hl7 == "" {
		return &IVLTS{Low: &IVXBTS{NullFlavor: NullUnknown}}
	}
	return &IVLTS{Low: &IVXBTS{Value: hl7}}
}
