package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lacchain/lac1resolver/registry"
	"github.com/lacchain/lac1resolver/registry/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registryAddr = common.HexToAddress("0x43Ab9C1c4B1A5cC0d4b4dE12fA4De12F5aE5C3b9")
	identity     = common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	other        = common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")
)

func newClient(t *testing.T, b *registrytest.Backend) *registry.Client {
	t.Helper()
	c, err := registry.NewClient(&registry.ClientArgs{Backend: b, Address: registryAddr})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresArgs(t *testing.T) {
	_, err := registry.NewClient(&registry.ClientArgs{Address: registryAddr})
	assert.Error(t, err)

	_, err = registry.NewClient(&registry.ClientArgs{Backend: registrytest.NewBackend(registryAddr)})
	assert.Error(t, err)
}

func TestChangeLogNoHistory(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	c := newClient(t, b)

	log, err := c.ChangeLog(context.Background(), identity)
	require.NoError(t, err)

	assert.Equal(t, identity, log.Controller)
	assert.Empty(t, log.History)
	assert.Zero(t, b.FilterCalls())
}

func TestChangeLogOldestFirst(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetAttribute(10, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x01}, 100)
	b.SetAKA(20, identity, "did:web:example.com", 100)
	// two changes in the same block: the second points at block 30 itself
	b.SetAttribute(30, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x02}, 100)
	b.SetDelegate(30, identity, registry.SigAuthDelegateType, other, 100)
	b.ChangeController(40, identity, other)

	c := newClient(t, b)
	log, err := c.ChangeLog(context.Background(), identity)
	require.NoError(t, err)

	assert.Equal(t, other, log.Controller)
	require.Len(t, log.History, 5)

	kinds := []registry.EventKind{}
	for _, ev := range log.History {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []registry.EventKind{
		registry.KindAttributeChanged,
		registry.KindAKAChanged,
		registry.KindAttributeChanged,
		registry.KindDelegateChanged,
		registry.KindControllerChanged,
	}, kinds)

	assert.Equal(t, []byte{0x01}, log.History[0].Value)
	assert.Equal(t, "vm/ctrl/esecp256k1rm/hex", log.History[0].NameString())
	assert.Equal(t, uint64(0), log.History[0].PreviousChange)
	assert.Equal(t, "did:web:example.com", log.History[1].AKAID)
	assert.Equal(t, []byte{0x02}, log.History[2].Value)
	assert.Equal(t, other, log.History[3].Delegate)
	assert.Equal(t, "sigAuth", log.History[3].DelegateTypeString())
	assert.Equal(t, uint64(30), log.History[3].PreviousChange)
	assert.Equal(t, other, log.History[4].Controller)
	assert.Equal(t, identity, log.History[4].Identity)

	// one query per distinct block
	assert.Equal(t, 4, b.FilterCalls())
}

func TestChangeLogIgnoresOtherIdentities(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetAttribute(5, other, "vm/ctrl/esecp256k1rm/hex", []byte{0xaa}, 100)
	b.SetAttribute(6, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0xbb}, 100)

	log, err := newClient(t, b).ChangeLog(context.Background(), identity)
	require.NoError(t, err)
	require.Len(t, log.History, 1)
	assert.Equal(t, []byte{0xbb}, log.History[0].Value)
}

func TestChangeLogStopsOnNonDecreasingPointer(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetAttribute(10, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x01}, 100)
	// the next change claims to follow block 50, which is newer than itself
	b.SetChanged(identity, 50)
	b.SetAttribute(20, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x02}, 100)

	log, err := newClient(t, b).ChangeLog(context.Background(), identity)
	require.NoError(t, err)
	require.Len(t, log.History, 1)
	assert.Equal(t, []byte{0x02}, log.History[0].Value)
}

func TestChangeLogStopsOnEmptyBlock(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetChanged(identity, 99)

	log, err := newClient(t, b).ChangeLog(context.Background(), identity)
	require.NoError(t, err)
	assert.Empty(t, log.History)
	assert.Equal(t, 1, b.FilterCalls())
}

func TestChangeLogTransportFailure(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetAttribute(10, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x01}, 100)
	b.FailFilter = errors.New("connection refused")

	_, err := newClient(t, b).ChangeLog(context.Background(), identity)
	assert.ErrorIs(t, err, registry.ErrTransport)
}

func TestChangeLogCancelled(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.SetAttribute(10, identity, "vm/ctrl/esecp256k1rm/hex", []byte{0x01}, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(t, b).ChangeLog(ctx, identity)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVersion(t *testing.T) {
	b := registrytest.NewBackend(registryAddr)
	b.Version = 258

	v, err := newClient(t, b).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(258), v)

	b.Version = 0xffff
	_, err = newClient(t, b).Version(context.Background())
	assert.Error(t, err)
}

func TestWrongRegistryAddressIsTransportFailure(t *testing.T) {
	b := registrytest.NewBackend(other)

	_, err := newClient(t, b).Changed(context.Background(), identity)
	assert.ErrorIs(t, err, registry.ErrTransport)
}
