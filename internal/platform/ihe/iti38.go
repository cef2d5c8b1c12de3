package ihe

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ebXML status and type identifiers.
const (
	StatusSuccess = "urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Success"
	StatusFailure = "urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:Failure"

	severityError        = "urn:oasis:names:tc:ebxml-regrep:ErrorSeverityType:Error"
	statusDeferred       = "urn:ihe:iti:2010:StatusType:DeferredCreation"
	objectTypeOnDemand   = "urn:uuid:34268e47-fdf5-41a6-ba33-82133c465248"
	objectTypeClassifier = "urn:oasis:names:tc:ebxml-regrep:ObjectType:RegistryObject:Classification"
	objectTypeExternalID = "urn:oasis:names:tc:ebxml-regrep:ObjectType:RegistryObject:ExternalIdentifier"
	schemeClassCode      = "urn:uuid:41a5887f-8865-4c09-adf7-e362475b143a"
	schemeFormatCode     = "urn:uuid:a09d5840-386c-46f2-b5ad-9c3699a4309d"
	schemeUniqueID       = "urn:uuid:2e82c1f6-a085-4c72-9da3-8640a32e42ab"
	schemePatientID      = "urn:uuid:58a6f841-87b3-4a3e-92fd-a8ffeff98427"
	errorCodeRegistry    = "XDSRegistryError"
)

// AdhocQueryResponse is the ITI-38 response body.
type AdhocQueryResponse struct {
	XMLName            xml.Name           `xml:"urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0 AdhocQueryResponse"`
	Status             string             `xml:"status,attr"`
	RegistryErrorList  *RegistryErrorList `xml:"RegistryErrorList,omitempty"`
	RegistryObjectList RegistryObjectList `xml:"urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0 RegistryObjectList"`
}

// RegistryErrorList reports why a query failed.
type RegistryErrorList struct {
	HighestSeverity string          `xml:"highestSeverity,attr"`
	Errors          []RegistryError `xml:"RegistryError"`
}

// RegistryError is one registry failure.
type RegistryError struct {
	ErrorCode   string `xml:"errorCode,attr"`
	CodeContext string `xml:"codeContext,attr"`
	Location    string `xml:"location,attr"`
	Severity    string `xml:"severity,attr"`
}

// RegistryObjectList holds the matched document entries.
type RegistryObjectList struct {
	ExtrinsicObjects []ExtrinsicObject `xml:"ExtrinsicObject"`
}

// ExtrinsicObject describes one on-demand document.
type ExtrinsicObject struct {
	ID                  string               `xml:"id,attr"`
	Status              string               `xml:"status,attr"`
	ObjectType          string               `xml:"objectType,attr"`
	MimeType            string               `xml:"mimeType,attr"`
	Slots               []Slot               `xml:"Slot"`
	Classifications     []Classification     `xml:"Classification"`
	ExternalIdentifiers []ExternalIdentifier `xml:"ExternalIdentifier"`
}

// Classification attaches a coded value to a registry object.
type Classification struct {
	ClassificationScheme string        `xml:"classificationScheme,attr"`
	ClassifiedObject     string        `xml:"classifiedObject,attr"`
	ID                   string        `xml:"id,attr"`
	NodeRepresentation   string        `xml:"nodeRepresentation,attr"`
	ObjectType           string        `xml:"objectType,attr"`
	Slot                 Slot          `xml:"Slot"`
	Name                 LocalizedName `xml:"Name"`
}

// ExternalIdentifier attaches an identifier to a registry object.
type ExternalIdentifier struct {
	IdentificationScheme string        `xml:"identificationScheme,attr"`
	Value                string        `xml:"value,attr"`
	ID                   string        `xml:"id,attr"`
	RegistryObject       string        `xml:"registryObject,attr"`
	ObjectType           string        `xml:"objectType,attr"`
	Name                 LocalizedName `xml:"Name"`
}

// LocalizedName is an ebRIM Name with a single localized string.
type LocalizedName struct {
	LocalizedString struct {
		Value string `xml:"value,attr"`
	} `xml:"LocalizedString"`
}

func localizedName(v string) LocalizedName {
	var n LocalizedName
	n.LocalizedString.Value = v
	return n
}

func slot(name, value string) Slot {
	return Slot{Name: name, Values: []string{value}}
}

// ITI38Result is the outcome of a registry stored query. A generation
// failure is reported in the envelope body and kept in Failure for
// auditing; it is not a transport error.
type ITI38Result struct {
	Envelope   *Envelope
	DocumentID string
	Failure    error
}

// Responder answers registry stored queries, generating documents on
// demand when none is cached.
type Responder struct {
	builder      *DocumentBuilder
	repositoryID string
	logger       zerolog.Logger
	newID        func() string
}

// NewResponder creates a Responder.
func NewResponder(builder *DocumentBuilder, repositoryID string, logger zerolog.Logger) *Responder {
	return &Responder{
		builder:      builder,
		repositoryID: repositoryID,
		logger:       logger,
		newID:        uuid.NewString,
	}
}

// RegistryStoredQuery returns a pointer to the patient's summary document,
// generating it first on a cache miss. relatesTo becomes the RelatesTo
// header of the response.
func (r *Responder) RegistryStoredQuery(ctx context.Context, nhsNumber, ceid, relatesTo string) *ITI38Result {
	resp := &AdhocQueryResponse{Status: StatusSuccess}
	result := &ITI38Result{}

	docID, err := r.builder.DocumentID(ctx, nhsNumber)
	if err != nil {
		r.logger.Error().Err(err).Msg("document generation failed")
		resp.Status = StatusFailure
		resp.RegistryErrorList = &RegistryErrorList{
			HighestSeverity: severityError,
			Errors: []RegistryError{{
				ErrorCode:   errorCodeRegistry,
				CodeContext: fmt.Sprintf("Unable to locate SCR with NHS number %s", nhsNumber),
				Severity:    severityError,
			}},
		}
		result.Failure = err
	} else {
		resp.RegistryObjectList.ExtrinsicObjects = []ExtrinsicObject{r.extrinsicObject(docID, nhsNumber, ceid)}
		result.DocumentID = docID
	}

	result.Envelope = NewEnvelope(ActionITI38, relatesTo, resp)
	return result
}

func (r *Responder) extrinsicObject(docID, nhsNumber, ceid string) ExtrinsicObject {
	nhsCX := fmt.Sprintf("%s^^^&%s&ISO", nhsNumber, OIDNHSNumber)
	info := "PID-3|" + nhsCX
	if ceid != "" {
		info += fmt.Sprintf(";%s^^^&%s&ISO", ceid, OIDCEID)
	}

	return ExtrinsicObject{
		ID:         docID,
		Status:     statusDeferred,
		ObjectType: objectTypeOnDemand,
		MimeType:   MimeTypeXML,
		Slots: []Slot{
			slot("sourcePatientId", nhsCX),
			slot("sourcePatientInfo", info),
			slot("languageCode", "en-GB"),
			slot("size", "1"),
			slot("repositoryUniqueId", r.repositoryID),
		},
		Classifications: []Classification{
			r.classification(docID, schemeClassCode, ClassCodeSummary, OIDLOINC, "XDSDocumentEntry.classCode"),
			r.classification(docID, schemeFormatCode, "", FormatCodeCCDA, "XDSDocumentEntry.formatCode"),
		},
		ExternalIdentifiers: []ExternalIdentifier{
			{
				IdentificationScheme: schemeUniqueID,
				Value:                docID,
				ID:                   docID,
				RegistryObject:       docID,
				ObjectType:           objectTypeExternalID,
				Name:                 localizedName("XDSDocumentEntry.uniqueId"),
			},
			{
				IdentificationScheme: schemePatientID,
				Value:                nhsCX,
				ID:                   "PID-" + nhsNumber,
				RegistryObject:       docID,
				ObjectType:           objectTypeExternalID,
				Name:                 localizedName("XDSDocumentEntry.patientId"),
			},
		},
	}
}

func (r *Responder) classification(docID, scheme, node, codingScheme, name string) Classification {
	return Classification{
		ClassificationScheme: scheme,
		ClassifiedObject:     docID,
		ID:                   "urn:uuid:" + r.newID(),
		NodeRepresentation:   node,
		ObjectType:           objectTypeClassifier,
		Slot:                 slot("codingScheme", codingScheme),
		Name:                 localizedName(name),
	}
}
