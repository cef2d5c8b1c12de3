package ccda

import (
	"encoding/xml"
	"sort"
	"strconv"
)

// typedStart copies start and appends the xsi:type discriminator and, when
// set, the null flavor.
func typedStart(start xml.StartElement, t TypeTag, nf NullFlavor) xml.StartElement {
	attrs := make([]xml.Attr, 0, len(start.Attr)+6)
	attrs = append(attrs, start.Attr...)
	attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xsi:type"}, Value: string(t)})
	if nf != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "nullFlavor"}, Value: string(nf)})
	}
	start.Attr = attrs
	return start
}

func addAttr(start *xml.StartElement, name, value string) {
	if value == "" {
		return
	}
	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func addFloatAttr(start *xml.StartElement, name string, v *float64) {
	if v == nil {
		return
	}
	addAttr(start, name, formatFloat(*v))
}

func addBoolAttr(start *xml.StartElement, name string, v *bool) {
	if v == nil {
		return
	}
	addAttr(start, name, strconv.FormatBool(*v))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func elem(name string) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}}
}

// elementWriter sequences token writes and keeps the first error.
type elementWriter struct {
	e   *xml.Encoder
	err error
}

func (w *elementWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.e.EncodeToken(t)
	}
}

func (w *elementWriter) child(v interface{}, name string) {
	if w.err == nil {
		w.err = w.e.EncodeElement(v, elem(name))
	}
}

func (w *elementWriter) text(s string) {
	if s != "" {
		w.token(xml.CharData(s))
	}
}

func writeEmpty(e *xml.Encoder, start xml.StartElement) error {
	w := &elementWriter{e: e}
	w.token(start)
	w.token(start.End())
	return w.err
}

func (v BIN) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "representation", v.Representation)
	w := &elementWriter{e: e}
	w.token(start)
	w.text(v.Data)
	w.token(start.End())
	return w.err
}

func (v URL) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	return writeEmpty(e, start)
}

func (v TEL) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	addAttr(&start, "use", v.Use)
	w := &elementWriter{e: e}
	w.token(start)
	for _, p := range v.UsablePeriod {
		w.child(p, "usablePeriod")
	}
	w.token(start.End())
	return w.err
}

func (v ED) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "mediaType", v.MediaType)
	addAttr(&start, "language", v.Language)
	addAttr(&start, "representation", v.Representation)
	w := &elementWriter{e: e}
	w.token(start)
	if v.Reference != nil {
		w.child(*v.Reference, "reference")
	}
	w.text(v.Text)
	w.token(start.End())
	return w.err
}

func (v ST) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	w := &elementWriter{e: e}
	w.token(start)
	w.text(v.Text)
	w.token(start.End())
	return w.err
}

func (v II) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "root", v.Root)
	addAttr(&start, "extension", v.Extension)
	addAttr(&start, "assigningAuthorityName", v.AssigningAuthorityName)
	addBoolAttr(&start, "displayable", v.Displayable)
	return writeEmpty(e, start)
}

func (v Coded) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "code", v.Code)
	addAttr(&start, "codeSystem", v.CodeSystem)
	addAttr(&start, "codeSystemName", v.CodeSystemName)
	addAttr(&start, "codeSystemVersion", v.CodeSystemVersion)
	addAttr(&start, "displayName", v.DisplayName)
	if v.kind == kindPQR {
		addFloatAttr(&start, "value", v.Value)
	}
	w := &elementWriter{e: e}
	w.token(start)
	if v.OriginalText != "" {
		w.child(v.OriginalText, "originalText")
	}
	for _, t := range v.Translation {
		w.child(t, "translation")
	}
	w.token(start.End())
	return w.err
}

func (v PQ) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addFloatAttr(&start, "value", v.Value)
	addAttr(&start, "unit", v.Unit)
	w := &elementWriter{e: e}
	w.token(start)
	for _, t := range v.Translation {
		w.child(t, "translation")
	}
	w.token(start.End())
	return w.err
}

func (v SXCMPQ) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addFloatAttr(&start, "value", v.Value)
	addAttr(&start, "unit", v.Unit)
	addAttr(&start, "operator", v.Operator)
	return writeEmpty(e, start)
}

func (v IVXBPQ) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addFloatAttr(&start, "value", v.Value)
	addAttr(&start, "unit", v.Unit)
	addBoolAttr(&start, "inclusive", v.Inclusive)
	return writeEmpty(e, start)
}

func (v IVLPQ) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	w := &elementWriter{e: e}
	w.token(start)
	if v.Low != nil {
		w.child(*v.Low, "low")
	}
	if v.Center != nil {
		w.child(*v.Center, "center")
	}
	if v.Width != nil {
		w.child(*v.Width, "width")
	}
	if v.High != nil {
		w.child(*v.High, "high")
	}
	w.token(start.End())
	return w.err
}

func (v TS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	return writeEmpty(e, start)
}

func (v SXCMTS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	addAttr(&start, "operator", v.Operator)
	return writeEmpty(e, start)
}

func (v IVXBTS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	addBoolAttr(&start, "inclusive", v.Inclusive)
	return writeEmpty(e, start)
}

func (v IVLTS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "value", v.Value)
	addAttr(&start, "operator", v.Operator)
	w := &elementWriter{e: e}
	w.token(start)
	if v.Low != nil {
		w.child(*v.Low, "low")
	}
	if v.Center != nil {
		w.child(*v.Center, "center")
	}
	if v.Width != nil {
		w.child(*v.Width, "width")
	}
	if v.High != nil {
		w.child(*v.High, "high")
	}
	w.token(start.End())
	return w.err
}

func (v PIVLTS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "operator", v.Operator)
	addAttr(&start, "alignment", v.Alignment)
	if v.InstitutionSpecified {
		addAttr(&start, "institutionSpecified", "true")
	}
	w := &elementWriter{e: e}
	w.token(start)
	if v.Phase != nil {
		w.child(*v.Phase, "phase")
	}
	if v.Period != nil {
		w.child(*v.Period, "period")
	}
	w.token(start.End())
	return w.err
}

func (v EIVLTS) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), v.NullFlavor)
	addAttr(&start, "operator", v.Operator)
	w := &elementWriter{e: e}
	w.token(start)
	if v.Event != nil {
		w.child(*v.Event, "event")
	}
	if v.Offset != nil {
		w.child(*v.Offset, "offset")
	}
	w.token(start.End())
	return w.err
}

// boundOrder is the element order of an IVL_TS; other keys follow sorted.
var boundOrder = map[string]int{"low": 0, "center": 1, "width": 2, "high": 3}

// Keys returns the operators held by the collapsed time in emission order.
func (v CollapsedTime) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := boundOrder[keys[i]]
		oj, jok := boundOrder[keys[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok:
			return true
		case jok:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// MarshalXML emits the bounds as plain children; the operator is implied
// by the child element name.
func (v CollapsedTime) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = typedStart(start, v.XSIType(), "")
	w := &elementWriter{e: e}
	w.token(start)
	for _, k := range v.Keys() {
		bound := v[k]
		child := elem(k)
		addAttr(&child, "nullFlavor", string(bound.NullFlavor))
		addAttr(&child, "value", bound.Value)
		w.token(child)
		w.token(child.End())
	}
	w.token(start.End())
	return w.err
}
