// Package registrytest provides an in-memory registry contract that speaks
// the same ABI as the deployed one, for tests.
package registrytest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lacchain/lac1resolver/registry"
)

type Backend struct {
	Registry common.Address
	Version  uint64
	ChainID  *big.Int

	// FailFilter, when set, is returned by every FilterLogs call.
	FailFilter error

	// Hold, when set, blocks contract calls until it is closed or the call's
	// context ends.
	Hold chan struct{}

	mu          sync.Mutex
	changed     map[common.Address]uint64
	controllers map[common.Address]common.Address
	logs        []types.Log
	filterCalls int
	held        atomic.Int32
}

func NewBackend(registryAddr common.Address) *Backend {
	return &Backend{
		Registry:    registryAddr,
		Version:     1,
		ChainID:     big.NewInt(0x9e55c),
		changed:     map[common.Address]uint64{},
		controllers: map[common.Address]common.Address{},
	}
}

func (b *Backend) FilterCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filterCalls
}

// SetChanged overrides the latest change pointer of identity without emitting
// anything, to build inconsistent chains.
func (b *Backend) SetChanged(identity common.Address, block uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changed[identity] = block
}

func (b *Backend) SetAttribute(block uint64, identity common.Address, name string, value []byte, validTo int64) {
	b.emit(block, identity, registry.AttributeChangedEvent,
		[]byte(name), value, big.NewInt(validTo), big.NewInt(0), b.prev(identity), false)
}

func (b *Backend) SetDelegate(block uint64, identity common.Address, delegateType [32]byte, delegate common.Address, validTo int64) {
	b.emit(block, identity, registry.DelegateChangedEvent,
		delegateType, delegate, big.NewInt(validTo), big.NewInt(0), b.prev(identity), false)
}

func (b *Backend) SetAKA(block uint64, identity common.Address, akaID string, validTo int64) {
	b.emit(block, identity, registry.AKAChangedEvent,
		akaID, big.NewInt(validTo), b.prev(identity))
}

func (b *Backend) ChangeController(block uint64, identity, controller common.Address) {
	b.emit(block, identity, registry.ControllerChangedEvent, controller, b.prev(identity))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.controllers[identity] = controller
}

func (b *Backend) prev(identity common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).SetUint64(b.changed[identity])
}

func (b *Backend) emit(block uint64, identity common.Address, event string, args ...any) {
	ev := registry.ABI.Events[event]

	data, err := ev.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("packing %s: %v", event, err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var index uint
	for _, l := range b.logs {
		if l.BlockNumber == block {
			index++
		}
	}

	b.logs = append(b.logs, types.Log{
		Address:     b.Registry,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(identity.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block<<16 | uint64(index))),
	})
	b.changed[identity] = block
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.ChainID, nil
}

// Held reports how many calls are currently blocked on Hold.
func (b *Backend) Held() int {
	return int(b.held.Load())
}

func (b *Backend) wait(ctx context.Context) error {
	if b.Hold == nil {
		return nil
	}

	b.held.Add(1)
	defer b.held.Add(-1)

	select {
	case <-b.Hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	if msg.To == nil || *msg.To != b.Registry {
		return nil, nil
	}

	method, err := registry.ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch method.Name {
	case "changed":
		return method.Outputs.Pack(new(big.Int).SetUint64(b.changed[args[0].(common.Address)]))
	case "identityController":
		identity := args[0].(common.Address)
		controller, ok := b.controllers[identity]
		if !ok {
			controller = identity
		}
		return method.Outputs.Pack(controller)
	case "version":
		return method.Outputs.Pack(new(big.Int).SetUint64(b.Version))
	}

	return nil, fmt.Errorf("unsupported method %s", method.Name)
}

func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filterCalls++
	if b.FailFilter != nil {
		return nil, b.FailFilter
	}

	var out []types.Log
	for _, l := range b.logs {
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}

	return out, nil
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, want := range filter {
		if len(want) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range want {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
