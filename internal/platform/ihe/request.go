package ihe

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

const (
	contentTypeSOAP = "application/soap+xml"
	mediaMultipart  = "multipart/related"
)

// RequestEnvelope is an inbound SOAP 1.2 envelope. Element names are
// matched without regard to namespace prefix.
type RequestEnvelope struct {
	XMLName xml.Name      `xml:"Envelope"`
	Header  RequestHeader `xml:"Header"`
	Body    RequestBody   `xml:"Body"`
}

// RequestHeader carries the WS-Addressing fields used for correlation.
type RequestHeader struct {
	MessageID string `xml:"MessageID"`
	Action    string `xml:"Action"`
}

// RequestBody holds whichever transaction payload the envelope carries.
type RequestBody struct {
	PatientQuery *PatientQuery               `xml:"PRPA_IN201305UV02"`
	AdhocQuery   *AdhocQueryRequest          `xml:"AdhocQueryRequest"`
	Retrieve     *RetrieveDocumentSetRequest `xml:"RetrieveDocumentSetRequest"`
}

// PatientQuery is an ITI-47 PRPA_IN201305UV02 message.
type PatientQuery struct {
	ID                II `xml:"id"`
	ControlActProcess struct {
		QueryByParameter QueryByParameter `xml:"queryByParameter"`
	} `xml:"controlActProcess"`
}

// QueryByParameter is the ITI-47 query. The parsed element tree is kept
// so the response can echo the query with its namespaces resolved.
type QueryByParameter struct {
	QueryID          II
	LivingSubjectIDs []II

	tree xmlNode
}

// UnmarshalXML decodes the query tree and lifts out the fields used for
// patient lookup.
func (q *QueryByParameter) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var n xmlNode
	if err := d.DecodeElement(&n, &start); err != nil {
		return err
	}
	n.compact()
	q.tree = n

	if id := n.child("queryId"); id != nil {
		q.QueryID = id.ii()
	}
	if params := n.child("parameterList"); params != nil {
		for _, subject := range params.children("livingSubjectId") {
			if v := subject.child("value"); v != nil {
				q.LivingSubjectIDs = append(q.LivingSubjectIDs, v.ii())
			}
		}
	}
	return nil
}

// LivingSubjectID returns the extension of the first livingSubjectId
// whose root matches.
func (q *QueryByParameter) LivingSubjectID(root string) string {
	for _, id := range q.LivingSubjectIDs {
		if id.Root == root {
			return strings.TrimSpace(id.Extension)
		}
	}
	return ""
}

// echoed returns the query for embedding in an HL7 v3 response. Elements
// in the HL7 namespace are left unqualified so they inherit the
// response's default namespace; others keep their own.
func (q *QueryByParameter) echoed() *xmlNode {
	if q.tree.XMLName.Local == "" {
		return &xmlNode{XMLName: xml.Name{Local: "queryByParameter"}}
	}
	n := q.tree.unqualify(NamespaceHL7)
	return &n
}

// xmlNode is a generic element. Names carry resolved namespace URIs, so
// encoding it back out declares whatever namespaces it needs.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

// compact drops namespace declarations, which the encoder regenerates
// from the resolved names, and whitespace-only text.
func (n *xmlNode) compact() {
	attrs := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attrs = attrs
	if strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for i := range n.Nodes {
		n.Nodes[i].compact()
	}
}

func (n xmlNode) unqualify(ns string) xmlNode {
	switch n.XMLName.Space {
	case ns:
		n.XMLName.Space = ""
	case "":
	default:
		return n
	}
	nodes := make([]xmlNode, len(n.Nodes))
	for i, c := range n.Nodes {
		nodes[i] = c.unqualify(ns)
	}
	n.Nodes = nodes
	return n
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) children(local string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) ii() II {
	return II{Root: n.attr("root"), Extension: n.attr("extension")}
}

// AdhocQueryRequest is an ITI-38 registry stored query.
type AdhocQueryRequest struct {
	AdhocQuery struct {
		ID    string `xml:"id,attr"`
		Slots []Slot `xml:"Slot"`
	} `xml:"AdhocQuery"`
}

// Slot is an ebRIM name/values pair.
type Slot struct {
	Name   string   `xml:"name,attr"`
	Values []string `xml:"ValueList>Value"`
}

// SlotValue returns the first value of the named slot.
func (r *AdhocQueryRequest) SlotValue(name string) (string, bool) {
	for _, s := range r.AdhocQuery.Slots {
		if s.Name == name && len(s.Values) > 0 {
			return strings.TrimSpace(s.Values[0]), true
		}
	}
	return "", false
}

// RetrieveDocumentSetRequest is an ITI-39 retrieve.
type RetrieveDocumentSetRequest struct {
	DocumentRequests []DocumentRequest `xml:"DocumentRequest"`
}

// DocumentRequest names one document to retrieve.
type DocumentRequest struct {
	HomeCommunityID    string `xml:"HomeCommunityId"`
	RepositoryUniqueID string `xml:"RepositoryUniqueId"`
	DocumentUniqueID   string `xml:"DocumentUniqueId"`
}

// DocumentUniqueID returns the first non-empty requested document id.
func (r *RetrieveDocumentSetRequest) DocumentUniqueID() string {
	for _, d := range r.DocumentRequests {
		if id := strings.TrimSpace(d.DocumentUniqueID); id != "" {
			return id
		}
	}
	return ""
}

// ParseRequest checks the content type and decodes the SOAP envelope.
// Multipart/related (MTOM) bodies are unwrapped to their root part.
func ParseRequest(contentType string, body []byte) (*RequestEnvelope, error) {
	if !strings.Contains(contentType, contentTypeSOAP) {
		return nil, malformedf("content type %q not supported", contentType)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, malformedf("content type: %v", err)
	}
	if mediaType == mediaMultipart {
		body, err = rootPart(body, params)
		if err != nil {
			return nil, err
		}
	}

	var env RequestEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, malformedf("envelope: %v", err)
	}
	if env.XMLName.Local != "Envelope" {
		return nil, malformedf("expected Envelope, got %s", env.XMLName.Local)
	}
	return &env, nil
}

// rootPart returns the MIME part named by the start parameter, or the
// first part when start is absent.
func rootPart(body []byte, params map[string]string) ([]byte, error) {
	boundary := params["boundary"]
	if boundary == "" {
		return nil, malformedf("multipart body without boundary")
	}
	start := strings.Trim(params["start"], "<>")

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformedf("multipart: %v", err)
		}
		id := strings.Trim(part.Header.Get("Content-ID"), "<>")
		if start == "" || id == start {
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, malformedf("multipart: %v", err)
			}
			return data, nil
		}
	}
	return nil, malformedf("multipart root part %q not found", start)
}
