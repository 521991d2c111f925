package identity

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Relationship is the leading segment of an attribute name.
type Relationship int

const (
	RelVerificationMethod Relationship = iota + 1
	RelAuthentication
	RelAssertionMethod
	RelKeyAgreement
	RelCapabilityDelegation
	RelCapabilityInvocation
	RelService
)

var relationshipTags = map[string]Relationship{
	"vm":   RelVerificationMethod,
	"auth": RelAuthentication,
	"asse": RelAssertionMethod,
	"keya": RelKeyAgreement,
	"dele": RelCapabilityDelegation,
	"invo": RelCapabilityInvocation,
	"svc":  RelService,
}

// verificationRelationships are the five sets a method id can be bound into.
var verificationRelationships = []Relationship{
	RelAuthentication,
	RelAssertionMethod,
	RelKeyAgreement,
	RelCapabilityDelegation,
	RelCapabilityInvocation,
}

func (r Relationship) String() string {
	for tag, rel := range relationshipTags {
		if rel == r {
			return tag
		}
	}
	return "unknown"
}

const (
	EncodingHex        = "hex"
	EncodingBase64     = "base64"
	EncodingBase58     = "base58"
	EncodingPem        = "pem"
	EncodingJson       = "json"
	EncodingBlockchain = "blockchain"
)

const (
	AlgorithmRecoveryMethod = "esecp256k1rm"

	RecoveryMethodType = "EcdsaSecp256k1RecoveryMethod2020"
)

var keyAlgorithms = map[string]string{
	"jwk":                   "JsonWebKey2020",
	"esecp256k1vk":          "EcdsaSecp256k1VerificationKey2019",
	AlgorithmRecoveryMethod: RecoveryMethodType,
	"edd25519vk":            "Ed25519VerificationKey2018",
	"gpgvk":                 "GpgVerificationKey2020",
	"rsavk":                 "RsaVerificationKey2018",
	"x25519ka":              "X25519KeyAgreementKey2019",
	"ssecp256k1vk":          "SchnorrSecp256k1VerificationKey2019",
}

// KeyType maps an attribute algorithm to its verification method type.
func KeyType(algorithm string) (string, bool) {
	t, ok := keyAlgorithms[algorithm]
	return t, ok
}

// {type}/{controller}/{algorithm}/{encoding}; the controller may itself
// contain slashes and colons.
var attributeNameRegex = regexp.MustCompile(`(vm|auth|asse|keya|dele|invo|svc)/(.+)?/(\w+)?/(\w+)?$`)

type AttributeKey struct {
	Relationship Relationship
	Controller   string
	Algorithm    string
	Encoding     string
}

// IsReference reports whether the attribute binds an existing method id
// rather than carrying key material.
func (k AttributeKey) IsReference() bool {
	return k.Algorithm == "" && k.Encoding == ""
}

func ParseAttributeName(name string) (AttributeKey, bool) {
	m := attributeNameRegex.FindStringSubmatch(name)
	if m == nil {
		return AttributeKey{}, false
	}

	return AttributeKey{
		Relationship: relationshipTags[m[1]],
		Controller:   m[2],
		Algorithm:    m[3],
		Encoding:     m[4],
	}, true
}

// MethodID derives the fragment of a verification method or service from the
// context it was declared in and its raw value.
func MethodID(context string, value []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(context))
	h.Write(value)
	return base58.Encode(h.Sum(nil))
}

// CAIP10 renders an EVM account as eip155:<chainId>:<address>.
func CAIP10(chainID *big.Int, addr common.Address) string {
	return fmt.Sprintf("eip155:%s:%s", chainID.String(), addr.Hex())
}

type methodArgs struct {
	did        string
	id         string
	algorithm  string
	encoding   string
	value      []byte
	controller string
	chainID    *big.Int
}

func buildVerificationMethod(args methodArgs) (DidDocVerificationMethod, error) {
	typ, ok := KeyType(args.algorithm)
	if !ok {
		return DidDocVerificationMethod{}, fmt.Errorf("unknown key algorithm %q", args.algorithm)
	}

	vm := DidDocVerificationMethod{
		Id:         args.did + "#" + args.id,
		Type:       typ,
		Controller: args.controller,
	}

	switch args.encoding {
	case "", EncodingHex:
		vm.PublicKeyHex = hex.EncodeToString(args.value)
	case EncodingBase64:
		vm.PublicKeyBase64 = base64.StdEncoding.EncodeToString(args.value)
	case EncodingBase58:
		vm.PublicKeyBase58 = base58.Encode(args.value)
	case EncodingPem:
		vm.PublicKeyPem = string(args.value)
	case EncodingJson:
		m, err := parseJwk(args.value)
		if err != nil {
			return DidDocVerificationMethod{}, err
		}
		vm.PublicKeyJwk = m
	case EncodingBlockchain:
		if len(args.value) != common.AddressLength {
			return DidDocVerificationMethod{}, fmt.Errorf("blockchain account must be %d bytes, got %d", common.AddressLength, len(args.value))
		}
		vm.BlockchainAccountId = CAIP10(args.chainID, common.BytesToAddress(args.value))
	default:
		return DidDocVerificationMethod{}, fmt.Errorf("unknown key encoding %q", args.encoding)
	}

	return vm, nil
}

// parseJwk keeps the key exactly as published. jwx is built without
// secp256k1 support, so EC keys on that curve are only checked for shape.
func parseJwk(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid jwk: %w", err)
	}

	kty, _ := m["kty"].(string)
	if kty == "" {
		return nil, errors.New("invalid jwk: missing kty")
	}

	if crv, _ := m["crv"].(string); kty == "EC" && crv == "secp256k1" {
		if _, ok := m["x"].(string); !ok {
			return nil, errors.New("invalid jwk: missing x")
		}
		return m, nil
	}

	if _, err := jwk.ParseKey(raw); err != nil {
		return nil, fmt.Errorf("invalid jwk: %w", err)
	}

	return m, nil
}
