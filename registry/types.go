package registry

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind int

const (
	KindAttributeChanged EventKind = iota + 1
	KindDelegateChanged
	KindAKAChanged
	KindControllerChanged
)

// Event names as emitted by the registry contract.
const (
	AttributeChangedEvent  = "DIDAttributeChanged"
	DelegateChangedEvent   = "DIDDelegateChanged"
	AKAChangedEvent        = "AKAChanged"
	ControllerChangedEvent = "DIDControllerChanged"
)

func (k EventKind) String() string {
	switch k {
	case KindAttributeChanged:
		return AttributeChangedEvent
	case KindDelegateChanged:
		return DelegateChangedEvent
	case KindAKAChanged:
		return AKAChangedEvent
	case KindControllerChanged:
		return ControllerChangedEvent
	}
	return "unknown"
}

func kindForEvent(name string) (EventKind, bool) {
	switch name {
	case AttributeChangedEvent:
		return KindAttributeChanged, true
	case DelegateChangedEvent:
		return KindDelegateChanged, true
	case AKAChangedEvent:
		return KindAKAChanged, true
	case ControllerChangedEvent:
		return KindControllerChanged, true
	}
	return 0, false
}

// On-chain delegate types the resolver recognizes.
var (
	SigAuthDelegateType = DelegateType("sigAuth")
	VeriKeyDelegateType = DelegateType("veriKey")
)

// DelegateType right-pads name into a bytes32 the way the contract stores it.
func DelegateType(name string) [32]byte {
	var out [32]byte
	copy(out[:], name)
	return out
}

// ChangeEvent is one decoded registry log. Only the fields of its Kind are set.
type ChangeEvent struct {
	Kind     EventKind
	Identity common.Address

	// DIDAttributeChanged
	Name  []byte
	Value []byte

	// DIDDelegateChanged
	DelegateType [32]byte
	Delegate     common.Address

	// AKAChanged
	AKAID string

	// DIDControllerChanged
	Controller common.Address

	// ValidTo is nil for kinds that carry no validity.
	ValidTo        *big.Int
	ChangeTime     *big.Int
	PreviousChange uint64
	Compromised    bool

	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// NameString is the attribute name with the bytes32 NUL padding removed.
func (ev *ChangeEvent) NameString() string {
	return string(bytes.TrimRight(ev.Name, "\x00"))
}

func (ev *ChangeEvent) DelegateTypeString() string {
	return string(bytes.TrimRight(ev.DelegateType[:], "\x00"))
}

// ChangeLog is the full history of one identity, oldest first.
type ChangeLog struct {
	Controller common.Address
	History    []ChangeEvent
}
