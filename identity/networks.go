package identity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Network is one chain the resolver can read registries from. Registry is
// optional; when set, only identifiers anchored at that registry are served
// by this entry.
type Network struct {
	Name     string `toml:"name"`
	ChainID  string `toml:"chainId"`
	RPCURL   string `toml:"rpcUrl"`
	Registry string `toml:"registry"`
}

type Networks []Network

func (n Network) chainID() (*big.Int, error) {
	s := strings.TrimSpace(n.ChainID)
	if s == "" {
		return nil, fmt.Errorf("network %q has no chain id", n.Name)
	}

	// 0x-prefixed ids are hex, anything else decimal
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("network %q has invalid chain id %q", n.Name, n.ChainID)
	}

	return v, nil
}

// Key identifies the backend connection of the network.
func (n Network) Key() string {
	return n.ChainID + "|" + n.RPCURL
}

func (n Network) Validate() error {
	if _, err := n.chainID(); err != nil {
		return err
	}

	if n.RPCURL == "" {
		return fmt.Errorf("network %q has no rpc url", n.Name)
	}

	if n.Registry != "" && !common.IsHexAddress(n.Registry) {
		return fmt.Errorf("network %q has invalid registry address %q", n.Name, n.Registry)
	}

	return nil
}

// Find returns the first network on chainID that accepts registry.
func (ns Networks) Find(chainID *big.Int, registry common.Address) (Network, bool) {
	for _, n := range ns {
		id, err := n.chainID()
		if err != nil || id.Cmp(chainID) != 0 {
			continue
		}

		if n.Registry != "" && common.HexToAddress(n.Registry) != registry {
			continue
		}

		return n, true
	}

	return Network{}, false
}

func (ns Networks) Validate() error {
	for _, n := range ns {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseNetworkFlag reads "chainId,rpcUrl[,registry]".
func ParseNetworkFlag(s string) (Network, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Network{}, fmt.Errorf("network must be chainId,rpcUrl[,registry], got %q", s)
	}

	n := Network{
		ChainID: strings.TrimSpace(parts[0]),
		RPCURL:  strings.TrimSpace(parts[1]),
	}
	n.Name = n.ChainID
	if len(parts) == 3 {
		n.Registry = strings.TrimSpace(parts[2])
	}

	if err := n.Validate(); err != nil {
		return Network{}, err
	}

	return n, nil
}

type networksFile struct {
	Network []Network `toml:"network"`
}

// LoadNetworksFile reads a TOML file of [[network]] tables.
func LoadNetworksFile(path string) (Networks, error) {
	var f networksFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading networks file: %w", err)
	}

	ns := Networks(f.Network)
	for i := range ns {
		if ns[i].Name == "" {
			ns[i].Name = ns[i].ChainID
		}
	}

	if err := ns.Validate(); err != nil {
		return nil, err
	}

	return ns, nil
}
