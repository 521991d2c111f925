package identity

import (
	"fmt"
	"strings"
)

// Mode picks how verification relationships are rendered.
type Mode string

const (
	// ModeReference embeds the full method object in each relationship.
	ModeReference Mode = "reference"
	// ModeExplicit lists relationship entries as method ids.
	ModeExplicit Mode = "explicit"
)

const DefaultMode = ModeReference

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultMode, nil
	case ModeReference:
		return ModeReference, nil
	case ModeExplicit:
		return ModeExplicit, nil
	}
	return "", fmt.Errorf("unknown document mode %q", s)
}

// FormatDocument renders a replayed state as a DID document. The default
// controller method always leads verificationMethod, authentication and
// assertionMethod.
func FormatDocument(st *DocumentState, mode Mode) *DidDoc {
	methods := append([]DidDocVerificationMethod{st.DefaultMethod}, st.Methods.Values()...)

	byId := make(map[string]*DidDocVerificationMethod, len(methods))
	for i := range methods {
		// first one wins when two keys produced the same id
		if _, ok := byId[methods[i].Id]; !ok {
			byId[methods[i].Id] = &methods[i]
		}
	}

	relationship := func(rel Relationship, withDefault bool) []DidDocRelationship {
		ids := st.Relationships[rel].Values()
		if withDefault {
			ids = append([]string{st.DefaultMethod.Id}, ids...)
		}

		out := make([]DidDocRelationship, 0, len(ids))
		for _, id := range ids {
			vm, ok := byId[id]
			if !ok {
				continue
			}
			if mode == ModeExplicit {
				out = append(out, DidDocRelationship{Id: id})
			} else {
				m := *vm
				out = append(out, DidDocRelationship{Id: id, Method: &m})
			}
		}
		return out
	}

	doc := &DidDoc{
		Context:              DidDocContext,
		Id:                   st.Did,
		Controller:           st.ControllerDid,
		VerificationMethod:   methods,
		Authentication:       relationship(RelAuthentication, true),
		AssertionMethod:      relationship(RelAssertionMethod, true),
		KeyAgreement:         relationship(RelKeyAgreement, false),
		CapabilityInvocation: relationship(RelCapabilityInvocation, false),
		CapabilityDelegation: relationship(RelCapabilityDelegation, false),
	}

	if len(st.AlsoKnownAs) > 0 {
		doc.AlsoKnownAs = append([]string(nil), st.AlsoKnownAs...)
	}

	if st.Services.Len() > 0 {
		doc.Service = st.Services.Values()
	}

	return doc
}
