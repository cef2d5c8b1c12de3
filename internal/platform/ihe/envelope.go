package ihe

import (
	"encoding/xml"
)

// Namespaces and actions used in responses.
const (
	NamespaceSOAP       = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceAddressing = "http://www.w3.org/2005/08/addressing"
	NamespaceWSUtility  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NamespaceHL7        = "urn:hl7-org:v3"
	NamespaceXSI        = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceXSD        = "http://www.w3.org/2001/XMLSchema"
	NamespaceQuery      = "urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0"
	NamespaceRIM        = "urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0"
	NamespaceRS         = "urn:oasis:names:tc:ebxml-regrep:xsd:rs:3.0"
	NamespaceXDS        = "urn:ihe:iti:xds-b:2007"

	ActionITI47 = "urn:hl7-org:v3:PRPA_IN201306UV02"
	ActionITI38 = "urn:ihe:iti:2007:CrossGatewayQueryResponse"
	ActionITI39 = "urn:ihe:iti:2007:CrossGatewayRetrieveResponse"
)

// Fixed identifiers.
const (
	OIDNHSNumber       = "2.16.840.1.113883.2.1.4.1"
	OIDCEID            = "1.2.840.114350.1.13.525.3.7.3.688884.100"
	OIDODSOrganisation = "2.16.840.1.113883.2.1.4.3"
	OIDLOINC           = "2.16.840.1.113883.6.1"
	OIDInteraction     = "2.16.840.1.113883.1.18"
	OIDAssignedDevice  = "1.2.840.114350.1.13.1610.1.7.3.688884.100"

	ClassCodeSummary = "34133-9"
	FormatCodeCCDA   = "urn:hl7-org:sdwg:ccda-structuredBody:1.1"
	MimeTypeXML      = "text/xml"
)

// II is an HL7 instance identifier.
type II struct {
	Root      string `xml:"root,attr,omitempty"`
	Extension string `xml:"extension,attr,omitempty"`
}

// Envelope is an outbound SOAP 1.2 envelope. Content must be a struct
// carrying its own XMLName.
type Envelope struct {
	XMLName xml.Name       `xml:"s:Envelope"`
	XmlnsS  string         `xml:"xmlns:s,attr"`
	XmlnsA  string         `xml:"xmlns:a,attr"`
	XmlnsU  string         `xml:"xmlns:u,attr"`
	Header  EnvelopeHeader `xml:"s:Header"`
	Body    EnvelopeBody   `xml:"s:Body"`
}

// EnvelopeHeader carries the WS-Addressing response headers.
type EnvelopeHeader struct {
	Action    mustUnderstand `xml:"a:Action"`
	RelatesTo string         `xml:"a:RelatesTo,omitempty"`
}

type mustUnderstand struct {
	MustUnderstand string `xml:"s:mustUnderstand,attr"`
	Value          string `xml:",chardata"`
}

// EnvelopeBody wraps the transaction payload.
type EnvelopeBody struct {
	XmlnsXSI string `xml:"xmlns:xsi,attr,omitempty"`
	XmlnsXSD string `xml:"xmlns:xsd,attr,omitempty"`
	Content  interface{}
}

// NewEnvelope wraps content with the given action and RelatesTo header.
func NewEnvelope(action, relatesTo string, content interface{}) *Envelope {
	return &Envelope{
		XmlnsS: NamespaceSOAP,
		XmlnsA: NamespaceAddressing,
		XmlnsU: NamespaceWSUtility,
		Header: EnvelopeHeader{
			Action:    mustUnderstand{MustUnderstand: "1", Value: action},
			RelatesTo: relatesTo,
		},
		Body: EnvelopeBody{Content: content},
	}
}

// Marshal renders the envelope with an XML declaration.
func (e *Envelope) Marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
