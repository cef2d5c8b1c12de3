package ccda

import "github.com/xhuma/gateway/pkg/fhirmodels"

// ImmunizationColumns are the narrative headers of the immunisations section.
var ImmunizationColumns = []string{"Date", "Status", "Vaccine"}

// MapImmunization maps an Immunization to an immunization activity. The
// route is only emitted when the source carries one.
func MapImmunization(imm *fhirmodels.Immunization) (EntryWithRow, error) {
	ref := fhirmodels.Ref(imm)
	vaccine, err := conceptCode(imm.VaccineCode)
	if err != nil {
		return EntryWithRow{}, &EntryError{Resource: ref, Err: err}
	}
	date, err := optionalDate(imm.Date)
	if err != nil {
		return EntryWithRow{}, err
	}

	effective := TS{Value: date}
	if date == "" {
		effective = TS{NullFlavor: NullUnknown}
	}

	sa := &SubstanceAdministration{
		ClassCode:      "SBADM",
		MoodCode:       "EVN",
		TemplateIDs:    TemplateIDPair(OIDImmunizationActivity, Version20150801),
		IDs:            []II{identifierII(imm.Identifier, ref)},
		StatusCode:     codedPtr(NewCS(immunizationStatus(imm.Status))),
		EffectiveTimes: EffectiveTimes{effective},
		Consumable: &Consumable{
			ManufacturedProduct: &ManufacturedProduct{
				ClassCode:   "MANU",
				TemplateIDs: TemplateIDPair(OIDImmunizationMedicationInfo, Version20140609),
				ManufacturedMaterial: &ManufacturedMaterial{
					Code:      &vaccine,
					LotNumber: imm.LotNumber,
				},
			},
		},
	}
	if imm.NotGiven != nil && *imm.NotGiven {
		sa.NegationInd = boolPtr(true)
	}
	if imm.Route != nil {
		if route, err := conceptCode(imm.Route); err == nil {
			sa.RouteCode = &route
		}
	}

	return EntryWithRow{
		Entry: Entry{SubstanceAdministration: sa},
		Row:   []string{readableDate(date), imm.Status, imm.VaccineCode.DisplayText()},
	}, nil
}

func immunizationStatus(status string) string {
	if status == "entered-in-error" {
		return "nullified"
	}
	return "completed"
}
