package ccda

import "encoding/xml"

// CollapseEffectiveTimes folds bare SXCM_TS bounds into a single
// CollapsedTime placed first, keyed by operator (a later bound with the same
// operator replaces an earlier one). Every other variant follows in input
// order. Without any SXCM_TS member there is no collapsed entry.
func CollapseEffectiveTimes(times []TimeValue) []TimeValue {
	var collapsed CollapsedTime
	rest := make([]TimeValue, 0, len(times))
	for _, t := range times {
		bound, ok := t.(SXCMTS)
		if !ok {
			if p, isPtr := t.(*SXCMTS); isPtr && p != nil {
				bound, ok = *p, true
			}
		}
		if !ok {
			rest = append(rest, t)
			continue
		}
		if collapsed == nil {
			collapsed = CollapsedTime{}
		}
		collapsed[bound.Operator] = bound
	}
	if collapsed == nil {
		return rest
	}
	return append([]TimeValue{collapsed}, rest...)
}

// EffectiveTimes is the effectiveTime list of a substance administration.
// It is collapsed when marshalled, one effectiveTime element per result.
type EffectiveTimes []TimeValue

func (t EffectiveTimes) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	for _, v := range CollapseEffectiveTimes(t) {
		if err := e.EncodeElement(v, start); err != nil {
			return err
		}
	}
	return nil
}
