package identity

import (
	"bytes"
	"encoding/json"
)

var DidDocContext = []string{
	"https://w3id.org/did/v1",
	"https://w3id.org/security/suites/jws-2020/v1",
}

type DidDoc struct {
	Context              []string                   `json:"@context"`
	Id                   string                     `json:"id"`
	AlsoKnownAs          []string                   `json:"alsoKnownAs,omitempty"`
	Controller           string                     `json:"controller"`
	VerificationMethod   []DidDocVerificationMethod `json:"verificationMethod"`
	Authentication       []DidDocRelationship       `json:"authentication"`
	AssertionMethod      []DidDocRelationship       `json:"assertionMethod"`
	KeyAgreement         []DidDocRelationship       `json:"keyAgreement"`
	CapabilityInvocation []DidDocRelationship       `json:"capabilityInvocation"`
	CapabilityDelegation []DidDocRelationship       `json:"capabilityDelegation"`
	Service              []DidDocService            `json:"service,omitempty"`
}

// DidDocVerificationMethod carries exactly one public key representation.
type DidDocVerificationMethod struct {
	Id                  string         `json:"id"`
	Type                string         `json:"type"`
	Controller          string         `json:"controller"`
	PublicKeyHex        string         `json:"publicKeyHex,omitempty"`
	PublicKeyBase64     string         `json:"publicKeyBase64,omitempty"`
	PublicKeyBase58     string         `json:"publicKeyBase58,omitempty"`
	PublicKeyPem        string         `json:"publicKeyPem,omitempty"`
	PublicKeyJwk        map[string]any `json:"publicKeyJwk,omitempty"`
	BlockchainAccountId string         `json:"blockchainAccountId,omitempty"`
}

type DidDocService struct {
	Id              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// DidDocRelationship is an entry of a verification relationship array. It is
// rendered as the bare method id, or as the embedded method when Method is set.
type DidDocRelationship struct {
	Id     string
	Method *DidDocVerificationMethod
}

func (r DidDocRelationship) MarshalJSON() ([]byte, error) {
	if r.Method != nil {
		return json.Marshal(r.Method)
	}
	return json.Marshal(r.Id)
}

func (r *DidDocRelationship) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		r.Method = nil
		return json.Unmarshal(b, &r.Id)
	}

	var vm DidDocVerificationMethod
	if err := json.Unmarshal(b, &vm); err != nil {
		return err
	}
	r.Id = vm.Id
	r.Method = &vm
	return nil
}

// Ids returns the method ids of a relationship array.
func Ids(rels []DidDocRelationship) []string {
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.Id)
	}
	return out
}
