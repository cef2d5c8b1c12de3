package ihe

import (
	"encoding/base64"
	"encoding/xml"

	"github.com/google/uuid"
)

// ITI39Input is everything needed to answer a document retrieve.
type ITI39Input struct {
	MessageID    string
	CommunityID  string
	RepositoryID string
	DocumentID   string
	Document     []byte

	// ResponseID defaults to a random UUID.
	ResponseID string
}

// RetrieveDocumentSetResponse is the ITI-39 response body.
type RetrieveDocumentSetResponse struct {
	XMLName          xml.Name         `xml:"urn:ihe:iti:xds-b:2007 RetrieveDocumentSetResponse"`
	RegistryResponse registryResponse `xml:"urn:oasis:names:tc:ebxml-regrep:xsd:rs:3.0 RegistryResponse"`
	DocumentResponse DocumentResponse `xml:"DocumentResponse"`
}

type registryResponse struct {
	ID     string `xml:"id,attr"`
	Status string `xml:"status,attr"`
}

// DocumentResponse carries one retrieved document, base64 encoded.
type DocumentResponse struct {
	HomeCommunityID    string `xml:"HomeCommunityId"`
	RepositoryUniqueID string `xml:"RepositoryUniqueId"`
	DocumentUniqueID   string `xml:"DocumentUniqueId"`
	MimeType           string `xml:"mimeType"`
	Document           string `xml:"Document"`
}

// BuildITI39Response wraps a cached document in a retrieve response.
func BuildITI39Response(in ITI39Input) *Envelope {
	id := in.ResponseID
	if id == "" {
		id = uuid.NewString()
	}
	resp := &RetrieveDocumentSetResponse{
		RegistryResponse: registryResponse{ID: id, Status: StatusSuccess},
		DocumentResponse: DocumentResponse{
			HomeCommunityID:    "urn:oid:" + in.CommunityID,
			RepositoryUniqueID: in.RepositoryID,
			DocumentUniqueID:   in.DocumentID,
			MimeType:           MimeTypeXML,
			Document:           base64.StdEncoding.EncodeToString(in.Document),
		},
	}
	return NewEnvelope(ActionITI39, in.MessageID, resp)
}
