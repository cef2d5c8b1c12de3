package gpconnect

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	systemODSCode     = "https://fhir.nhs.uk/Id/ods-organization-code"
	systemSDSUserID   = "https://fhir.nhs.uk/Id/sds-user-id"
	systemSDSRoleID   = "https://fhir.nhs.uk/Id/sds-role-profile-id"
	systemDeviceID    = "https://fhir.nhs.uk/Id/local-system-instance-id"
	reasonDirectCare  = "directcare"
	scopePatientRead  = "patient/*.read"
	deviceModel       = "Xhuma XCA Gateway"
	deviceVersion     = "1.0.0"
	accessTokenExpiry = 5 * time.Minute
)

// Requester identifies the consumer system in GP Connect access tokens.
type Requester struct {
	ODSCode          string
	OrganisationName string
	DeviceID         string
	UserID           string
	RoleProfileID    string
	PractitionerName string
}

type identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// accessToken builds the unsigned bearer token GP Connect expects from a
// spine-secured consumer.
func accessToken(issuer, audience string, r Requester, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":                issuer,
		"sub":                r.UserID,
		"aud":                audience,
		"iat":                now.Unix(),
		"exp":                now.Add(accessTokenExpiry).Unix(),
		"reason_for_request": reasonDirectCare,
		"requested_scope":    scopePatientRead,
		"requesting_device": map[string]interface{}{
			"resourceType": "Device",
			"identifier":   []identifier{{System: systemDeviceID, Value: r.DeviceID}},
			"model":        deviceModel,
			"version":      deviceVersion,
		},
		"requesting_organization": map[string]interface{}{
			"resourceType": "Organization",
			"identifier":   []identifier{{System: systemODSCode, Value: r.ODSCode}},
			"name":         r.OrganisationName,
		},
		"requesting_practitioner": map[string]interface{}{
			"resourceType": "Practitioner",
			"id":           r.UserID,
			"identifier": []identifier{
				{System: systemSDSUserID, Value: r.UserID},
				{System: systemSDSRoleID, Value: r.RoleProfileID},
			},
			"name": []map[string]interface{}{{"family": r.PractitionerName}},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return "", fmt.Errorf("encode access token: %w", err)
	}
	return signed, nil
}
