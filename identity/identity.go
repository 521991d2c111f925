package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lacchain/lac1resolver/lac1"
	"github.com/lacchain/lac1resolver/registry"
)

var ErrNetworkNotConfigured = errors.New("no network configured for did")

// DefaultResolveTimeout bounds resolutions shared between callers when the
// resolver has no timeout of its own.
const DefaultResolveTimeout = 30 * time.Second

// DialFunc opens the backend of a network. It is called at most once per
// network for the lifetime of a Resolver.
type DialFunc func(ctx context.Context, n Network) (registry.Backend, error)

type Resolver struct {
	networks Networks
	mode     Mode
	timeout  time.Duration
	now      func() time.Time
	dial     DialFunc
	logger   *slog.Logger

	lk       sync.Mutex
	backends map[string]registry.Backend
}

type ResolverArgs struct {
	Networks Networks
	Mode     Mode
	// Timeout bounds a single resolution. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration
	Now     func() time.Time
	Dial    DialFunc
	Logger  *slog.Logger

	// HTTPClient is used by the default DialFunc.
	HTTPClient *http.Client
}

func NewResolver(args *ResolverArgs) (*Resolver, error) {
	if len(args.Networks) == 0 {
		return nil, fmt.Errorf("at least one network must be configured")
	}

	if err := args.Networks.Validate(); err != nil {
		return nil, err
	}

	if args.Mode == "" {
		args.Mode = DefaultMode
	}

	if _, err := ParseMode(string(args.Mode)); err != nil {
		return nil, err
	}

	if args.Now == nil {
		args.Now = time.Now
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Dial == nil {
		h := args.HTTPClient
		if h == nil {
			h = util.RobustHTTPClient()
		}
		args.Dial = func(ctx context.Context, n Network) (registry.Backend, error) {
			return registry.Dial(ctx, n.RPCURL, h)
		}
	}

	return &Resolver{
		networks: args.Networks,
		mode:     args.Mode,
		timeout:  args.Timeout,
		now:      args.Now,
		dial:     args.Dial,
		logger:   args.Logger,
		backends: map[string]registry.Backend{},
	}, nil
}

func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns the current document of did in the resolver's default mode.
func (r *Resolver) Resolve(ctx context.Context, did string) (*DidDoc, error) {
	return r.ResolveMode(ctx, did, r.mode)
}

func (r *Resolver) ResolveMode(ctx context.Context, did string, mode Mode) (*DidDoc, error) {
	st, err := r.ResolveState(ctx, did)
	if err != nil {
		return nil, err
	}

	return FormatDocument(st, mode), nil
}

// ResolveState walks the registry history of did and replays it as of now.
func (r *Resolver) ResolveState(ctx context.Context, did string) (*DocumentState, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	id, err := ParseDID(did)
	if err != nil {
		return nil, err
	}

	chainID, err := id.ChainIDInt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", lac1.ErrInvalidDID, err)
	}

	reg, err := r.registryFor(ctx, chainID, id.Registry)
	if err != nil {
		return nil, err
	}

	log, err := reg.ChangeLog(ctx, id.Address)
	if err != nil {
		return nil, err
	}

	// the controller is assumed to live on the same registry, chain and
	// version as the identity itself
	controllerDid, err := lac1.Encode(id.Type, id.ChainID, log.Controller, id.Registry, id.Version)
	if err != nil {
		return nil, fmt.Errorf("encoding controller did: %w", err)
	}

	r.logger.Debug("replaying history", "did", did, "events", len(log.History), "controller", log.Controller.Hex())

	return Replay(ReplayInput{
		Did:           did,
		ChainID:       chainID,
		Controller:    log.Controller,
		ControllerDid: controllerDid,
		History:       log.History,
		Logger:        r.logger,
	}, r.now()), nil
}

// Generic DID syntax. Method names may contain digits, which the atproto
// syntax package does not allow.
var didRegex = regexp.MustCompile(`^did:[a-z0-9]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)

// ParseDID checks the generic DID syntax and decodes a did:lac1 identifier.
// Every failure matches lac1.ErrInvalidDID.
func ParseDID(did string) (lac1.Identifier, error) {
	if len(did) > 2048 || !didRegex.MatchString(did) {
		return lac1.Identifier{}, fmt.Errorf("%w: malformed did %q", lac1.ErrInvalidDID, did)
	}

	if !strings.HasPrefix(did, lac1.Prefix) {
		return lac1.Identifier{}, fmt.Errorf("%w: not a %s did", lac1.ErrInvalidDID, lac1.MethodName)
	}

	id, err := lac1.Decode(did)
	if errors.Is(err, lac1.ErrUnsupportedDIDType) {
		return lac1.Identifier{}, fmt.Errorf("%w: %w", lac1.ErrInvalidDID, err)
	}
	if err != nil {
		return lac1.Identifier{}, err
	}

	return id, nil
}

func (r *Resolver) registryFor(ctx context.Context, chainID *big.Int, addr common.Address) (*registry.Client, error) {
	n, ok := r.networks.Find(chainID, addr)
	if !ok {
		return nil, fmt.Errorf("%w: chain %s registry %s", ErrNetworkNotConfigured, chainID, addr.Hex())
	}

	b, err := r.backend(ctx, n)
	if err != nil {
		return nil, err
	}

	return registry.NewClient(&registry.ClientArgs{
		Backend: b,
		Address: addr,
		Logger:  r.logger.With("network", n.Name),
	})
}

func (r *Resolver) backend(ctx context.Context, n Network) (registry.Backend, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if b, ok := r.backends[n.Key()]; ok {
		return b, nil
	}

	b, err := r.dial(ctx, n)
	if err != nil {
		return nil, err
	}

	r.backends[n.Key()] = b

	return b, nil
}

// ChainBackend is a registry backend that can also report its chain id.
type ChainBackend interface {
	registry.Backend
	ChainID(ctx context.Context) (*big.Int, error)
}

// NewIdentifier builds the identifier of address on the registry reachable
// through b. The chain id comes from the node and the version from the
// registry contract, so the result matches what the chain actually serves.
func NewIdentifier(ctx context.Context, b ChainBackend, registryAddr, address common.Address) (lac1.Identifier, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return lac1.Identifier{}, fmt.Errorf("%w: fetching chain id: %w", registry.ErrTransport, err)
	}

	reg, err := registry.NewClient(&registry.ClientArgs{Backend: b, Address: registryAddr})
	if err != nil {
		return lac1.Identifier{}, err
	}

	version, err := reg.Version(ctx)
	if err != nil {
		return lac1.Identifier{}, err
	}

	return lac1.Identifier{
		Version:  version,
		Type:     lac1.TypeCode,
		Address:  address,
		Registry: registryAddr,
		ChainID:  lac1.ChainIDHex(chainID),
	}, nil
}
