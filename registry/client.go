package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/bluesky-social/indigo/util"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrTransport    = errors.New("registry transport failure")
	ErrMalformedLog = errors.New("malformed registry log")
)

// Backend is the slice of an Ethereum node the resolver needs. An
// *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Client struct {
	backend Backend
	address common.Address
	logger  *slog.Logger
}

type ClientArgs struct {
	Backend Backend
	Address common.Address
	Logger  *slog.Logger
}

func NewClient(args *ClientArgs) (*Client, error) {
	if args.Backend == nil {
		return nil, fmt.Errorf("registry backend must be set")
	}

	if args.Address == (common.Address{}) {
		return nil, fmt.Errorf("registry address must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Client{
		backend: args.Backend,
		address: args.Address,
		logger:  args.Logger.With("registry", args.Address.Hex()),
	}, nil
}

// Dial opens a JSON-RPC connection to an Ethereum node.
func Dial(ctx context.Context, rpcURL string, h *http.Client) (*ethclient.Client, error) {
	if h == nil {
		h = util.RobustHTTPClient()
	}

	rc, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(h))
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrTransport, rpcURL, err)
	}

	return ethclient.NewClient(rc), nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s: %w", ErrTransport, method, err)
	}

	res, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %w", ErrTransport, method, err)
	}

	return res, nil
}

// Changed returns the block of the latest change for identity, 0 if none.
func (c *Client) Changed(ctx context.Context, identity common.Address) (uint64, error) {
	res, err := c.call(ctx, "changed", identity)
	if err != nil {
		return 0, err
	}

	n := abi.ConvertType(res[0], new(big.Int)).(*big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: change pointer %s out of range", ErrMalformedLog, n)
	}

	return n.Uint64(), nil
}

func (c *Client) IdentityController(ctx context.Context, identity common.Address) (common.Address, error) {
	res, err := c.call(ctx, "identityController", identity)
	if err != nil {
		return common.Address{}, err
	}

	return *abi.ConvertType(res[0], new(common.Address)).(*common.Address), nil
}

// Version is the registry contract version, which becomes the two version
// bytes of the identifiers it anchors.
func (c *Client) Version(ctx context.Context) (uint16, error) {
	res, err := c.call(ctx, "version")
	if err != nil {
		return 0, err
	}

	n := abi.ConvertType(res[0], new(big.Int)).(*big.Int)
	if n.Sign() < 0 || n.Cmp(big.NewInt(0xffff)) >= 0 {
		return 0, fmt.Errorf("invalid registry version %s", n)
	}

	return uint16(n.Uint64()), nil
}

// ChangesAt returns the decoded events for identity mined in block, in log
// order. Logs of events this resolver does not know are skipped.
func (c *Client) ChangesAt(ctx context.Context, identity common.Address, block uint64) ([]ChangeEvent, error) {
	b := new(big.Int).SetUint64(block)

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: b,
		ToBlock:   b,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{nil, {common.BytesToHash(identity.Bytes())}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: filtering logs at block %d: %w", ErrTransport, block, err)
	}

	var events []ChangeEvent
	for _, l := range logs {
		if l.Removed {
			continue
		}

		ev, ok, err := decodeLog(l)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if !ok {
			c.logger.Debug("skipping unknown registry log", "block", l.BlockNumber, "tx", l.TxHash.Hex())
			continue
		}

		events = append(events, *ev)
	}

	return events, nil
}

func decodeLog(l types.Log) (*ChangeEvent, bool, error) {
	if len(l.Topics) == 0 {
		return nil, false, nil
	}

	abiEv, err := ABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, false, nil
	}

	kind, ok := kindForEvent(abiEv.Name)
	if !ok {
		return nil, false, nil
	}

	fields := map[string]any{}
	if err := ABI.UnpackIntoMap(fields, abiEv.Name, l.Data); err != nil {
		return nil, false, fmt.Errorf("%w: %s in tx %s: %w", ErrMalformedLog, abiEv.Name, l.TxHash.Hex(), err)
	}

	var indexed abi.Arguments
	for _, arg := range abiEv.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, false, fmt.Errorf("%w: %s topics in tx %s: %w", ErrMalformedLog, abiEv.Name, l.TxHash.Hex(), err)
	}

	ev := &ChangeEvent{
		Kind:        kind,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
	}
	ev.Identity, _ = fields["identity"].(common.Address)

	prev, _ := fields["previousChange"].(*big.Int)
	if prev == nil || !prev.IsUint64() {
		return nil, false, fmt.Errorf("%w: %s in tx %s has no usable previousChange", ErrMalformedLog, abiEv.Name, l.TxHash.Hex())
	}
	ev.PreviousChange = prev.Uint64()

	ev.ValidTo, _ = fields["validTo"].(*big.Int)
	ev.ChangeTime, _ = fields["changeTime"].(*big.Int)
	ev.Compromised, _ = fields["compromised"].(bool)

	switch kind {
	case KindAttributeChanged:
		ev.Name, _ = fields["name"].([]byte)
		ev.Value, _ = fields["value"].([]byte)
	case KindDelegateChanged:
		ev.DelegateType, _ = fields["delegateType"].([32]byte)
		ev.Delegate, _ = fields["delegate"].(common.Address)
	case KindAKAChanged:
		ev.AKAID, _ = fields["akaId"].(string)
	case KindControllerChanged:
		ev.Controller, _ = fields["controller"].(common.Address)
	}

	return ev, true, nil
}
