package identity

import (
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lacchain/lac1resolver/registry"
)

type ReplayInput struct {
	Did           string
	ChainID       *big.Int
	Controller    common.Address
	ControllerDid string
	History       []registry.ChangeEvent
	Logger        *slog.Logger
}

// DocumentState is the materialized result of replaying a history. It is
// owned by the resolve call that produced it.
type DocumentState struct {
	Did           string
	ControllerDid string
	DefaultMethod DidDocVerificationMethod
	Methods       *orderedMap[DidDocVerificationMethod]
	Services      *orderedMap[DidDocService]
	Relationships map[Relationship]*orderedMap[string]
	AlsoKnownAs   []string

	// ValidUntil is the first instant at which an entry of the state lapses.
	// Zero when no entry has a representable validTo.
	ValidUntil time.Time
}

// DefaultMethodFragment names the method derived from the current controller.
const DefaultMethodFragment = "controller"

// Replay folds history, oldest first, into the document state as of now.
// An entry is in effect while its validTo is at or after now.
func Replay(in ReplayInput, now time.Time) *DocumentState {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := &DocumentState{
		Did:           in.Did,
		ControllerDid: in.ControllerDid,
		DefaultMethod: DidDocVerificationMethod{
			Id:                  in.Did + "#" + DefaultMethodFragment,
			Type:                RecoveryMethodType,
			Controller:          in.Did,
			BlockchainAccountId: CAIP10(in.ChainID, in.Controller),
		},
		Methods:       newOrderedMap[DidDocVerificationMethod](),
		Services:      newOrderedMap[DidDocService](),
		Relationships: map[Relationship]*orderedMap[string]{},
		AlsoKnownAs:   []string{},
	}
	for _, rel := range verificationRelationships {
		st.Relationships[rel] = newOrderedMap[string]()
	}

	r := &replayer{
		st:      st,
		chainID: in.ChainID,
		now:     big.NewInt(now.Unix()),
		lapses:  map[string]*big.Int{},
		logger:  logger.With("did", in.Did),
	}
	for i := range in.History {
		r.step(&in.History[i])
	}

	st.ValidUntil = r.validUntil()

	return st
}

type replayer struct {
	st      *DocumentState
	chainID *big.Int
	now     *big.Int
	// validTo of every entry currently in the state, by derived key
	lapses map[string]*big.Int
	logger *slog.Logger
}

func (r *replayer) track(key string, validTo *big.Int) {
	r.lapses[key] = validTo
}

// validUntil is one second past the earliest validTo in effect, the first
// moment an entry is no longer at or after now.
func (r *replayer) validUntil() time.Time {
	var earliest *big.Int
	for _, v := range r.lapses {
		if earliest == nil || v.Cmp(earliest) < 0 {
			earliest = v
		}
	}

	if earliest == nil || !earliest.IsInt64() || earliest.Int64() >= maxUnixSeconds {
		return time.Time{}
	}

	return time.Unix(earliest.Int64()+1, 0)
}

// year 9999, past which validTo values mean "forever"
const maxUnixSeconds = 253402300799

// DerivedKey is the slot all changes to the same attribute occurrence land
// in. Delegates are keyed by type and delegate address the same way
// attributes are keyed by name and value.
func DerivedKey(ev *registry.ChangeEvent) (string, bool) {
	switch ev.Kind {
	case registry.KindAttributeChanged:
		return fmt.Sprintf("%s-0x%x-0x%x", ev.Kind, ev.Name, ev.Value), true
	case registry.KindDelegateChanged:
		return fmt.Sprintf("%s-0x%x-%s", ev.Kind, ev.DelegateType, ev.Delegate.Hex()), true
	case registry.KindAKAChanged, registry.KindControllerChanged:
		return "", false
	}
	return "", false
}

func (r *replayer) inEffect(ev *registry.ChangeEvent) bool {
	return ev.ValidTo != nil && ev.ValidTo.Cmp(r.now) >= 0
}

func (r *replayer) step(ev *registry.ChangeEvent) {
	switch ev.Kind {
	case registry.KindAttributeChanged:
		key, _ := DerivedKey(ev)
		if r.inEffect(ev) {
			r.applyAttribute(key, ev)
		} else {
			r.revoke(key)
		}
	case registry.KindDelegateChanged:
		key, _ := DerivedKey(ev)
		if r.inEffect(ev) {
			r.applyDelegate(key, ev)
		} else {
			r.revoke(key)
		}
	case registry.KindAKAChanged:
		key := "aka-" + ev.AKAID
		if r.inEffect(ev) {
			if !slices.Contains(r.st.AlsoKnownAs, ev.AKAID) {
				r.st.AlsoKnownAs = append(r.st.AlsoKnownAs, ev.AKAID)
			}
			r.track(key, ev.ValidTo)
		} else {
			if i := slices.Index(r.st.AlsoKnownAs, ev.AKAID); i >= 0 {
				r.st.AlsoKnownAs = slices.Delete(r.st.AlsoKnownAs, i, i+1)
			}
			delete(r.lapses, key)
		}
	case registry.KindControllerChanged:
		// the current controller is read from the registry, not replayed
	}
}

func (r *replayer) revoke(key string) {
	for _, rel := range verificationRelationships {
		r.st.Relationships[rel].Delete(key)
	}
	r.st.Methods.Delete(key)
	r.st.Services.Delete(key)
	delete(r.lapses, key)
}

func (r *replayer) applyAttribute(key string, ev *registry.ChangeEvent) {
	name := ev.NameString()
	attr, ok := ParseAttributeName(name)
	if !ok {
		r.logger.Debug("ignoring attribute with malformed name", "name", name, "tx", ev.TxHash.Hex())
		return
	}

	// blockchain accounts are only published through delegates
	if attr.Encoding == EncodingBlockchain {
		return
	}

	switch attr.Relationship {
	case RelVerificationMethod:
		vm, err := r.attributeMethod(attr, ev.Value)
		if err != nil {
			r.logger.Debug("ignoring verification method", "name", name, "error", err)
			return
		}
		r.st.Methods.Set(key, vm)
		r.track(key, ev.ValidTo)
	case RelAuthentication, RelAssertionMethod, RelKeyAgreement, RelCapabilityDelegation, RelCapabilityInvocation:
		if attr.IsReference() {
			r.st.Relationships[attr.Relationship].Set(key, string(ev.Value))
			r.track(key, ev.ValidTo)
			return
		}
		vm, err := r.attributeMethod(attr, ev.Value)
		if err != nil {
			r.logger.Debug("ignoring verification method", "name", name, "error", err)
			return
		}
		r.st.Methods.Set(key, vm)
		r.st.Relationships[attr.Relationship].Set(key, vm.Id)
		r.track(key, ev.ValidTo)
	case RelService:
		r.st.Services.Set(key, DidDocService{
			Id:              r.st.Did + "#" + MethodID("svc", ev.Value),
			Type:            attr.Algorithm,
			ServiceEndpoint: string(ev.Value),
		})
		r.track(key, ev.ValidTo)
	}
}

func (r *replayer) attributeMethod(attr AttributeKey, value []byte) (DidDocVerificationMethod, error) {
	return buildVerificationMethod(methodArgs{
		did:        r.st.Did,
		id:         MethodID(attr.Controller, value),
		algorithm:  attr.Algorithm,
		encoding:   attr.Encoding,
		value:      value,
		controller: attr.Controller,
		chainID:    r.chainID,
	})
}

func (r *replayer) applyDelegate(key string, ev *registry.ChangeEvent) {
	var rel Relationship
	switch ev.DelegateType {
	case registry.SigAuthDelegateType:
		rel = RelAuthentication
	case registry.VeriKeyDelegateType:
		rel = RelAssertionMethod
	default:
		r.logger.Debug("ignoring delegate type", "type", ev.DelegateTypeString(), "tx", ev.TxHash.Hex())
		return
	}

	vm, err := buildVerificationMethod(methodArgs{
		did:        r.st.Did,
		id:         MethodID(r.st.Did, ev.Delegate.Bytes()),
		algorithm:  AlgorithmRecoveryMethod,
		encoding:   EncodingBlockchain,
		value:      ev.Delegate.Bytes(),
		controller: r.st.Did,
		chainID:    r.chainID,
	})
	if err != nil {
		r.logger.Debug("ignoring delegate", "delegate", ev.Delegate.Hex(), "error", err)
		return
	}

	r.st.Methods.Set(key, vm)
	r.st.Relationships[rel].Set(key, vm.Id)
	r.track(key, ev.ValidTo)
}

// orderedMap keeps first-insertion order; overwriting a key keeps its place
// and deleting it forgets it.
type orderedMap[V any] struct {
	keys []string
	vals map[string]V
}

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{vals: map[string]V{}}
}

func (m *orderedMap[V]) Set(key string, v V) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

func (m *orderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *orderedMap[V]) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	if i := slices.Index(m.keys, key); i >= 0 {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
}

func (m *orderedMap[V]) Len() int {
	return len(m.keys)
}

func (m *orderedMap[V]) Values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.vals[k])
	}
	return out
}
