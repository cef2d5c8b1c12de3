package ccda

import "github.com/xhuma/gateway/pkg/fhirmodels"

// AllergyColumns are the narrative headers of the allergies section.
var AllergyColumns = []string{"Date", "Status", "Allergen"}

// MapAllergy maps an AllergyIntolerance to an allergy concern act. The
// allergen is carried as a consumable participant; a coded reaction
// manifestation becomes a nested reaction observation.
func MapAllergy(allergy *fhirmodels.AllergyIntolerance) (EntryWithRow, error) {
	ref := fhirmodels.Ref(allergy)
	allergen, err := conceptCode(allergy.Code)
	if err != nil {
		return EntryWithRow{}, &EntryError{Resource: ref, Err: err}
	}

	asserted := allergy.AssertedDate
	if asserted == "" {
		asserted = allergy.OnsetDateTime
	}
	low, err := optionalDate(asserted)
	if err != nil {
		return EntryWithRow{}, err
	}
	onset, err := optionalDate(allergy.OnsetDateTime)
	if err != nil {
		return EntryWithRow{}, err
	}
	if onset == "" {
		onset = low
	}

	obs := &Observation{
		ClassCode:     "OBS",
		MoodCode:      "EVN",
		TemplateIDs:   TemplateIDPair(OIDAllergyObservation, Version20140609),
		IDs:           []II{identifierII(allergy.Identifier, ref)},
		Code:          codedPtr(NewCD(Concept{Code: CodeAssertion, CodeSystem: OIDActCode})),
		StatusCode:    codedPtr(NewCS("completed")),
		EffectiveTime: lowBound(onset),
		Values: []Datatype{NewCD(Concept{
			Code:           CodeDrugAllergy,
			CodeSystem:     OIDSNOMED,
			CodeSystemName: "SNOMED CT",
			DisplayName:    "drug allergy",
		})},
		Participants: []Participant{{
			TypeCode: "CSM",
			ParticipantRole: &ParticipantRole{
				ClassCode: "MANU",
				PlayingEntity: &PlayingEntity{
					ClassCode: "MMAT",
					Code:      &allergen,
				},
			},
		}},
	}

	if reaction, ok := firstManifestation(allergy); ok {
		obs.EntryRelationships = []EntryRelationship{{
			TypeCode:     "MFST",
			InversionInd: boolPtr(true),
			Observation: &Observation{
				ClassCode:     "OBS",
				MoodCode:      "EVN",
				TemplateIDs:   TemplateIDPair(OIDReactionObservation, Version20140609),
				IDs:           []II{{Root: stableID(ref + "#reaction")}},
				Code:          codedPtr(NewCD(Concept{Code: CodeAssertion, CodeSystem: OIDActCode})),
				StatusCode:    codedPtr(NewCS("completed")),
				EffectiveTime: lowBound(onset),
				Values:        []Datatype{reaction},
			},
		}}
	}

	act := &Act{
		ClassCode:   "ACT",
		MoodCode:    "EVN",
		TemplateIDs: TemplateIDPair(OIDAllergyConcernAct, Version20150801),
		IDs:         []II{{Root: stableID(ref + "#concern")}},
		Code: codedPtr(NewCD(Concept{
			Code:           CodeConcern,
			CodeSystem:     OIDActClass,
			CodeSystemName: "HL7ActClass",
			DisplayName:    "Concern",
		})),
		StatusCode:    codedPtr(NewCS(concernStatus(allergy.ClinicalStatus))),
		EffectiveTime: lowBound(low),
		EntryRelationships: []EntryRelationship{{
			TypeCode:    "SUBJ",
			Observation: obs,
		}},
	}

	return EntryWithRow{
		Entry: Entry{Act: act},
		Row:   []string{readableDate(low), allergy.ClinicalStatus, allergy.Code.DisplayText()},
	}, nil
}

func firstManifestation(allergy *fhirmodels.AllergyIntolerance) (Coded, bool) {
	for _, r := range allergy.Reaction {
		for _, m := range r.Manifestation {
			if c, err := conceptCode(&m); err == nil {
				return c, true
			}
		}
	}
	return Coded{}, false
}
