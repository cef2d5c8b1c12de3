package ccda

import "encoding/xml"

// NullFlavor records why a datatype carries no value.
type NullFlavor string

const (
	NullNoInformation NullFlavor = "NI"
	NullNotApplicable NullFlavor = "NA"
	NullUnknown       NullFlavor = "UNK"
	NullAskedUnknown  NullFlavor = "ASKU"
	NullNotAvailable  NullFlavor = "NAV"
	NullMasked        NullFlavor = "MSK"
	NullOther         NullFlavor = "OTH"
)

// TypeTag is the xsi:type discriminator of an HL7 V3 datatype.
type TypeTag string

const (
	TypeANY    TypeTag = "ANY"
	TypeBIN    TypeTag = "BIN"
	TypeURL    TypeTag = "URL"
	TypeTEL    TypeTag = "TEL"
	TypeED     TypeTag = "ED"
	TypeST     TypeTag = "ST"
	TypePQ     TypeTag = "PQ"
	TypeTS     TypeTag = "TS"
	TypeII     TypeTag = "II"
	TypeCD     TypeTag = "CD"
	TypeCE     TypeTag = "CE"
	TypeCV     TypeTag = "CV"
	TypeCS     TypeTag = "CS"
	TypePQR    TypeTag = "PQR"
	TypeSXCMTS TypeTag = "SXCM_TS"
	TypeIVXBTS TypeTag = "IVXB_TS"
	TypeIVLTS  TypeTag = "IVL_TS"
	TypePIVLTS TypeTag = "PIVL_TS"
	TypeEIVLTS TypeTag = "EIVL_TS"
	TypeSXCMPQ TypeTag = "SXCM_PQ"
	TypeIVXBPQ TypeTag = "IVXB_PQ"
	TypeIVLPQ  TypeTag = "IVL_PQ"
)

// Datatype is implemented by every HL7 V3 datatype node. The discriminator
// is a property of the concrete Go type, and marshalling emits it as the
// node's xsi:type attribute.
type Datatype interface {
	XSIType() TypeTag
	xml.Marshaler
}

// ---------------------------------------------------------------------------
// Binary and text family: ANY -> BIN -> URL -> TEL, ANY -> ED -> ST
// ---------------------------------------------------------------------------

type BIN struct {
	NullFlavor     NullFlavor
	Representation string
	Data           string
}

func (BIN) XSIType() TypeTag { return TypeBIN }

type URL struct {
	NullFlavor NullFlavor
	Value      string
}

func (URL) XSIType() TypeTag { return TypeURL }

// TEL is a telecommunication address such as tel: or mailto: URLs.
type TEL struct {
	NullFlavor   NullFlavor
	Value        string
	Use          string
	UsablePeriod []SXCMTS
}

func (TEL) XSIType() TypeTag { return TypeTEL }

// ED is encapsulated data: free text or a reference to it.
type ED struct {
	NullFlavor     NullFlavor
	MediaType      string
	Language       string
	Representation string
	Reference      *TEL
	Text           string
}

func (ED) XSIType() TypeTag { return TypeED }

// ST is a plain character string.
type ST struct {
	NullFlavor NullFlavor
	Text       string
}

func (ST) XSIType() TypeTag { return TypeST }

// ---------------------------------------------------------------------------
// Instance identifier
// ---------------------------------------------------------------------------

type II struct {
	NullFlavor             NullFlavor
	Root                   string
	Extension              string
	AssigningAuthorityName string
	Displayable            *bool
}

func (II) XSIType() TypeTag { return TypeII }

// ---------------------------------------------------------------------------
// Coded family: CD -> CE -> CV -> {CS, PQR}
// ---------------------------------------------------------------------------

type codedKind int

const (
	kindCD codedKind = iota
	kindCE
	kindCV
	kindCS
	kindPQR
)

// Coded is a coded concept. Its kind is fixed by the constructor that built
// it; the zero value is a CD.
type Coded struct {
	kind codedKind

	NullFlavor        NullFlavor
	Code              string
	CodeSystem        string
	CodeSystemName    string
	CodeSystemVersion string
	DisplayName       string
	OriginalText      string
	Translation       []Coded

	// Value is only emitted for PQR.
	Value *float64
}

// Concept is the input to the coded constructors.
type Concept struct {
	Code           string
	CodeSystem     string
	CodeSystemName string
	DisplayName    string
	OriginalText   string
	Translation    []Coded
}

func newCoded(kind codedKind, c Concept) Coded {
	system := c.CodeSystem
	if system == "" && c.CodeSystemName != "" {
		system, _ = ResolveCodeSystem(c.CodeSystemName)
	}
	return Coded{
		kind:           kind,
		Code:           c.Code,
		CodeSystem:     system,
		CodeSystemName: c.CodeSystemName,
		DisplayName:    c.DisplayName,
		OriginalText:   c.OriginalText,
		Translation:    c.Translation,
	}
}

func NewCD(c Concept) Coded { return newCoded(kindCD, c) }
func NewCE(c Concept) Coded { return newCoded(kindCE, c) }
func NewCV(c Concept) Coded { return newCoded(kindCV, c) }

// NewCS builds a simple coded value; CS carries the code only.
func NewCS(code string) Coded {
	return Coded{kind: kindCS, Code: code}
}

// NewPQR builds a physical quantity representation, a coded unit with a value.
func NewPQR(value float64, c Concept) Coded {
	out := newCoded(kindPQR, c)
	out.Value = &value
	return out
}

// NullCD builds a CD that carries only a null flavor.
func NullCD(nf NullFlavor) Coded {
	return Coded{kind: kindCD, NullFlavor: nf}
}

func (c Coded) XSIType() TypeTag {
	switch c.kind {
	case kindCE:
		return TypeCE
	case kindCV:
		return TypeCV
	case kindCS:
		return TypeCS
	case kindPQR:
		return TypePQR
	default:
		return TypeCD
	}
}

// ---------------------------------------------------------------------------
// Quantity family: PQ -> SXCM_PQ -> IVXB_PQ, IVL_PQ
// ---------------------------------------------------------------------------

type PQ struct {
	NullFlavor  NullFlavor
	Value       *float64
	Unit        string
	Translation []Coded
}

func (PQ) XSIType() TypeTag { return TypePQ }

type SXCMPQ struct {
	NullFlavor NullFlavor
	Value      *float64
	Unit       string
	Operator   string
}

func (SXCMPQ) XSIType() TypeTag { return TypeSXCMPQ }

type IVXBPQ struct {
	NullFlavor NullFlavor
	Value      *float64
	Unit       string
	Inclusive  *bool
}

func (IVXBPQ) XSIType() TypeTag { return TypeIVXBPQ }

type IVLPQ struct {
	NullFlavor NullFlavor
	Low        *IVXBPQ
	Center     *PQ
	Width      *PQ
	High       *IVXBPQ
}

func (IVLPQ) XSIType() TypeTag { return TypeIVLPQ }

// Float returns a pointer to v, for the optional numeric fields above.
func Float(v float64) *float64 { return &v }

// ---------------------------------------------------------------------------
// Time family: TS -> SXCM_TS -> {IVXB_TS -> IVL_TS, PIVL_TS, EIVL_TS}
// ---------------------------------------------------------------------------

// TimeValue is the closed set of time datatypes allowed in effectiveTime.
type TimeValue interface {
	Datatype
	timeValue()
}

type TS struct {
	NullFlavor NullFlavor
	Value      string
}

func (TS) XSIType() TypeTag { return TypeTS }
func (TS) timeValue()       {}

// SXCMTS is a time stamp acting as one bound of a set, selected by Operator
// ("low", "high", ...).
type SXCMTS struct {
	NullFlavor NullFlavor
	Value      string
	Operator   string
}

func (SXCMTS) XSIType() TypeTag { return TypeSXCMTS }
func (SXCMTS) timeValue()       {}

type IVXBTS struct {
	NullFlavor NullFlavor
	Value      string
	Inclusive  *bool
}

func (IVXBTS) XSIType() TypeTag { return TypeIVXBTS }
func (IVXBTS) timeValue()       {}

type IVLTS struct {
	NullFlavor NullFlavor
	Value      string
	Operator   string
	Low        *IVXBTS
	Center     *TS
	Width      *PQ
	High       *IVXBTS
}

func (IVLTS) XSIType() TypeTag { return TypeIVLTS }
func (IVLTS) timeValue()       {}

// PIVLTS is a periodic interval, e.g. "every 6 hours".
type PIVLTS struct {
	NullFlavor           NullFlavor
	Operator             string
	Alignment            string
	InstitutionSpecified bool
	Phase                *IVLTS
	Period               *PQ
}

func (PIVLTS) XSIType() TypeTag { return TypePIVLTS }
func (PIVLTS) timeValue()       {}

// EIVLTS is an event-related interval, e.g. "before breakfast".
type EIVLTS struct {
	NullFlavor NullFlavor
	Operator   string
	Event      *Coded
	Offset     *IVLPQ
}

func (EIVLTS) XSIType() TypeTag { return TypeEIVLTS }
func (EIVLTS) timeValue()       {}

// CollapsedTime is the merged form of bare SXCM_TS bounds, keyed by operator.
// It serializes as a single IVL_TS.
type CollapsedTime map[string]SXCMTS

func (CollapsedTime) XSIType() TypeTag { return TypeIVLTS }
func (CollapsedTime) timeValue()       {}
