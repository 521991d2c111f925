package lac1

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const (
	MethodName = "lac1"
	Prefix     = "did:" + MethodName + ":"

	// TypeCode is the only identifier layout this resolver understands.
	TypeCode uint16 = 0x0001

	checksumLen = 4
	addressLen  = common.AddressLength
	headerLen   = 2 + 2 + addressLen + addressLen
)

var (
	ErrInvalidDID         = errors.New("invalid did")
	ErrUnsupportedDIDType = errors.New("unsupported did type")
	ErrInvalidChainID     = errors.New("invalid chain id")
)

// Identifier is the decoded form of a did:lac1 method-specific id.
type Identifier struct {
	Version  uint16         `json:"version"`
	Type     uint16         `json:"didType"`
	Address  common.Address `json:"address"`
	Registry common.Address `json:"didRegistryAddress"`
	// ChainID is the 0x-prefixed hex chain selector exactly as carried on the
	// wire, after the leading-nibble normalization.
	ChainID string `json:"chainId"`
}

func (id Identifier) String() string {
	s, err := Encode(id.Type, id.ChainID, id.Address, id.Registry, id.Version)
	if err != nil {
		return ""
	}
	return s
}

// ChainIDInt parses the hex chain selector.
func (id Identifier) ChainIDInt() (*big.Int, error) {
	s := strings.TrimPrefix(id.ChainID, "0x")
	if s == "" {
		return nil, ErrInvalidChainID
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChainID, id.ChainID)
	}
	return n, nil
}

// WithAddress returns a copy of id pointing at another account on the same
// registry and chain.
func (id Identifier) WithAddress(addr common.Address) Identifier {
	id.Address = addr
	return id
}

// ChainIDHex formats a chain id the way Encode expects it.
func ChainIDHex(n *big.Int) string {
	return "0x" + n.Text(16)
}

// Checksum is the first four bytes of keccak256 over the concatenated payload.
func Checksum(payload ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range payload {
		h.Write(p)
	}
	return h.Sum(nil)[:checksumLen]
}

// Encode builds the full did:lac1 string.
func Encode(typeCode uint16, chainID string, address, registry common.Address, version uint16) (string, error) {
	chain, err := chainIDBytes(chainID)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, headerLen+len(chain)+checksumLen)
	buf = binary.BigEndian.AppendUint16(buf, version)
	buf = binary.BigEndian.AppendUint16(buf, typeCode)
	buf = append(buf, address.Bytes()...)
	buf = append(buf, registry.Bytes()...)
	buf = append(buf, chain...)
	buf = append(buf, Checksum(buf)...)

	return Prefix + base58.Encode(buf), nil
}

// Decode parses a did:lac1 string, verifying its checksum and type code.
func Decode(did string) (Identifier, error) {
	if !strings.HasPrefix(did, Prefix) {
		return Identifier{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidDID, Prefix)
	}

	data, err := base58.Decode(strings.TrimPrefix(did, Prefix))
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	if len(data) < headerLen+checksumLen {
		return Identifier{}, fmt.Errorf("%w: identifier too short (%d bytes)", ErrInvalidDID, len(data))
	}

	payload := data[:len(data)-checksumLen]
	if !bytes.Equal(Checksum(payload), data[len(data)-checksumLen:]) {
		return Identifier{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidDID)
	}

	typeCode := binary.BigEndian.Uint16(payload[2:4])
	if typeCode != TypeCode {
		return Identifier{}, fmt.Errorf("%w: %04x", ErrUnsupportedDIDType, typeCode)
	}

	c := hex.EncodeToString(payload[headerLen:])
	if strings.HasPrefix(c, "0") {
		c = c[1:]
	}

	return Identifier{
		Version:  binary.BigEndian.Uint16(payload[0:2]),
		Type:     typeCode,
		Address:  common.BytesToAddress(payload[4 : 4+addressLen]),
		Registry: common.BytesToAddress(payload[4+addressLen : headerLen]),
		ChainID:  "0x" + c,
	}, nil
}

// chainIDBytes reads a hex chain id as a base-16 number. Every leading '0'
// digit becomes one zero byte, matching the base-x codec used by existing
// identifiers.
func chainIDBytes(chainID string) ([]byte, error) {
	s := strings.ToLower(strings.TrimPrefix(chainID, "0x"))
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidChainID)
	}

	zeros := 0
	for zeros < len(s) && s[zeros] == '0' {
		zeros++
	}

	out := make([]byte, zeros)
	if rest := s[zeros:]; rest != "" {
		if strings.ContainsAny(rest, "+-") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChainID, chainID)
		}
		n, ok := new(big.Int).SetString(rest, 16)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChainID, chainID)
		}
		out = append(out, n.Bytes()...)
	}

	return out, nil
}
