package ihe

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhuma/gateway/pkg/fhirmodels"
)

// ITI47Input is everything needed to answer a patient demographics query.
type ITI47Input struct {
	MessageID string
	NHSNumber string
	CEID      string
	Patient   *fhirmodels.Patient
	Query     QueryByParameter

	// ResponseID and CreationTime default to a random UUID and now.
	ResponseID   string
	CreationTime time.Time
}

// PRPAIN201306UV02 is the ITI-47 response message.
type PRPAIN201306UV02 struct {
	XMLName            xml.Name          `xml:"urn:hl7-org:v3 PRPA_IN201306UV02"`
	ITSVersion         string            `xml:"ITSVersion,attr"`
	ID                 II                `xml:"id"`
	CreationTime       valueAttr         `xml:"creationTime"`
	InteractionID      II                `xml:"interactionId"`
	ProcessingCode     codeAttr          `xml:"processingCode"`
	ProcessingModeCode codeAttr          `xml:"processingModeCode"`
	AcceptAckCode      codeAttr          `xml:"acceptAckCode"`
	Receiver           messageParty      `xml:"receiver"`
	Sender             messageParty      `xml:"sender"`
	Acknowledgement    acknowledgement   `xml:"acknowledgement"`
	ControlActProcess  controlActProcess `xml:"controlActProcess"`
}

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type codeAttr struct {
	Code       string `xml:"code,attr"`
	CodeSystem string `xml:"codeSystem,attr,omitempty"`
}

type messageParty struct {
	TypeCode string `xml:"typeCode,attr"`
	Device   struct {
		ClassCode      string `xml:"classCode,attr"`
		DeterminerCode string `xml:"determinerCode,attr"`
	} `xml:"device"`
}

type acknowledgement struct {
	TypeCode      codeAttr `xml:"typeCode"`
	TargetMessage struct {
		ID II `xml:"id"`
	} `xml:"targetMessage"`
}

type controlActProcess struct {
	ClassCode         string            `xml:"classCode,attr"`
	MoodCode          string            `xml:"moodCode,attr"`
	Code              codeAttr          `xml:"code"`
	AuthorOrPerformer authorOrPerformer `xml:"authorOrPerformer"`
	Subject           *pdqSubject       `xml:"subject,omitempty"`
	QueryAck          queryAck          `xml:"queryAck"`
	QueryByParameter  *xmlNode          `xml:"queryByParameter"`
}

type authorOrPerformer struct {
	TypeCode       string `xml:"typeCode,attr"`
	AssignedDevice struct {
		ClassCode string `xml:"classCode,attr"`
		ID        II     `xml:"id"`
	} `xml:"assignedDevice"`
}

type pdqSubject struct {
	TypeCode             string            `xml:"typeCode,attr"`
	ContextConductionInd string            `xml:"contextConductionInd,attr"`
	RegistrationEvent    registrationEvent `xml:"registrationEvent"`
}

type registrationEvent struct {
	ClassCode  string   `xml:"classCode,attr"`
	MoodCode   string   `xml:"moodCode,attr"`
	StatusCode codeAttr `xml:"statusCode"`
	Subject1   struct {
		TypeCode string     `xml:"typeCode,attr"`
		Patient  pdqPatient `xml:"patient"`
	} `xml:"subject1"`
}

type pdqPatient struct {
	ClassCode            string                `xml:"classCode,attr"`
	IDs                  []II                  `xml:"id"`
	StatusCode           codeAttr              `xml:"statusCode"`
	PatientPerson        patientPerson         `xml:"patientPerson"`
	ProviderOrganization *providerOrganization `xml:"providerOrganization,omitempty"`
}

type patientPerson struct {
	ClassCode                string      `xml:"classCode,attr"`
	DeterminerCode           string      `xml:"determinerCode,attr"`
	Name                     *personName `xml:"name,omitempty"`
	AdministrativeGenderCode codeAttr    `xml:"administrativeGenderCode"`
	BirthTime                *valueAttr  `xml:"birthTime,omitempty"`
	Addr                     *personAddr `xml:"addr,omitempty"`
}

type personName struct {
	Given  []string `xml:"given"`
	Family string   `xml:"family,omitempty"`
}

type personAddr struct {
	StreetAddressLine []string `xml:"streetAddressLine"`
	City              string   `xml:"city,omitempty"`
	PostalCode        string   `xml:"postalCode,omitempty"`
}

type providerOrganization struct {
	ClassCode      string `xml:"classCode,attr"`
	DeterminerCode string `xml:"determinerCode,attr"`
	ID             II     `xml:"id"`
}

type queryAck struct {
	QueryID           II       `xml:"queryId"`
	QueryResponseCode codeAttr `xml:"queryResponseCode"`
	StatusCode        codeAttr `xml:"statusCode"`
}

// BuildITI47Response answers a patient demographics query with the
// patient's identity, demographics and registered GP practice.
func BuildITI47Response(in ITI47Input) *Envelope {
	id := in.ResponseID
	if id == "" {
		id = uuid.NewString()
	}
	created := in.CreationTime
	if created.IsZero() {
		created = time.Now()
	}

	msg := &PRPAIN201306UV02{
		ITSVersion:         "XML_1.0",
		ID:                 II{Root: id},
		CreationTime:       valueAttr{Value: created.UTC().Format("20060102150405")},
		InteractionID:      II{Root: OIDInteraction, Extension: "PRPA_IN201306UV02"},
		ProcessingCode:     codeAttr{Code: "T"},
		ProcessingModeCode: codeAttr{Code: "T"},
		AcceptAckCode:      codeAttr{Code: "NE"},
		Receiver:           newMessageParty("RCV"),
		Sender:             newMessageParty("SND"),
	}
	msg.Acknowledgement.TypeCode = codeAttr{Code: "AA"}
	msg.Acknowledgement.TargetMessage.ID = II{Root: in.MessageID}

	act := &msg.ControlActProcess
	act.ClassCode = "CACT"
	act.MoodCode = "EVN"
	act.Code = codeAttr{Code: "PRPA_TE201306UV02", CodeSystem: OIDInteraction}
	act.AuthorOrPerformer.TypeCode = "AUT"
	act.AuthorOrPerformer.AssignedDevice.ClassCode = "ASSIGNED"
	act.AuthorOrPerformer.AssignedDevice.ID = II{Root: OIDAssignedDevice}
	if in.Patient != nil {
		act.Subject = buildPDQSubject(in)
	}
	act.QueryAck = queryAck{
		QueryID:           in.Query.QueryID,
		QueryResponseCode: codeAttr{Code: "OK"},
		StatusCode:        codeAttr{Code: "deliveredResponse"},
	}
	act.QueryByParameter = in.Query.echoed()

	env := NewEnvelope(ActionITI47, in.MessageID, msg)
	env.Body.XmlnsXSI = NamespaceXSI
	env.Body.XmlnsXSD = NamespaceXSD
	return env
}

func newMessageParty(typeCode string) messageParty {
	p := messageParty{TypeCode: typeCode}
	p.Device.ClassCode = "DEV"
	p.Device.DeterminerCode = "INSTANCE"
	return p
}

func buildPDQSubject(in ITI47Input) *pdqSubject {
	p := in.Patient
	subject := &pdqSubject{TypeCode: "SUBJ", ContextConductionInd: "false"}
	event := &subject.RegistrationEvent
	event.ClassCode = "REG"
	event.MoodCode = "EVN"
	event.StatusCode = codeAttr{Code: "active"}
	event.Subject1.TypeCode = "SBJ"

	patient := &event.Subject1.Patient
	patient.ClassCode = "PAT"
	patient.IDs = []II{{Root: OIDNHSNumber, Extension: in.NHSNumber}}
	if in.CEID != "" {
		patient.IDs = append(patient.IDs, II{Root: OIDCEID, Extension: in.CEID})
	}
	patient.StatusCode = codeAttr{Code: "active"}

	person := &patient.PatientPerson
	person.ClassCode = "PSN"
	person.DeterminerCode = "INSTANCE"
	if name, ok := p.OfficialName(); ok {
		person.Name = &personName{Family: name.Family}
		if len(name.Given) > 0 {
			person.Name.Given = name.Given[:1]
		}
	}
	person.AdministrativeGenderCode = codeAttr{Code: genderCode(p.Gender)}
	if p.BirthDate != "" {
		person.BirthTime = &valueAttr{Value: strings.ReplaceAll(p.BirthDate, "-", "")}
	}
	if len(p.Address) > 0 {
		addr := p.Address[0]
		person.Addr = &personAddr{StreetAddressLine: addr.Line, City: addr.City, PostalCode: addr.PostalCode}
	}

	if ods := GPPracticeCode(p); ods != "" {
		patient.ProviderOrganization = &providerOrganization{
			ClassCode:      "ORG",
			DeterminerCode: "INSTANCE",
			ID:             II{Root: OIDODSOrganisation, Extension: ods},
		}
	}
	return subject
}

func genderCode(gender string) string {
	switch gender {
	case "male":
		return "M"
	case "female":
		return "F"
	default:
		return "UNK"
	}
}

// GPPracticeCode returns the ODS code of the patient's registered GP
// practice, if the demographics record carries one.
func GPPracticeCode(p *fhirmodels.Patient) string {
	for _, gp := range p.GeneralPractitioner {
		if gp.Identifier != nil && gp.Identifier.Value != "" {
			return gp.Identifier.Value
		}
	}
	return ""
}
