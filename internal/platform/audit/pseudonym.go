package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const pseudonymVersion = "v1"

// Pseudonymizer derives stable, non-reversible patient references.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer returns a Pseudonymizer keyed with secret. An empty
// secret disables pseudonyms.
func NewPseudonymizer(secret string) *Pseudonymizer {
	return &Pseudonymizer{key: []byte(secret)}
}

// Pseudonym returns "v1:" followed by the unpadded base64url encoding of
// the first 144 bits of HMAC-SHA256(secret, nhsNumber).
func (p *Pseudonymizer) Pseudonym(nhsNumber string) string {
	if len(p.key) == 0 || nhsNumber == "" {
		return ""
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(nhsNumber))
	sum := mac.Sum(nil)
	return pseudonymVersion + ":" + base64.RawURLEncoding.EncodeToString(sum[:18])
}
