package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/lac1"
	"github.com/lacchain/lac1resolver/registry"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	app := cli.App{
		Name:  "lac1-admin",
		Usage: "did:lac1 identifier and cache tools",
		Commands: cli.Commands{
			runEncode,
			runNewDid,
			runDecode,
			runResolve,
			runPurgeCache,
		},
		ErrWriter:                 os.Stdout,
		DisableSliceFlagSeparator: true,
	}

	app.Run(os.Args)
}

var runEncode = &cli.Command{
	Name:  "encode",
	Usage: "encodes a did:lac1 identifier offline",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "registry",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "chain-id",
			Required: true,
			Usage:    "hex chain id, e.g. 0x9e55c",
		},
		&cli.UintFlag{
			Name:  "version",
			Value: 1,
		},
	},
	Action: func(cmd *cli.Context) error {
		address, err := parseAddress(cmd.String("address"))
		if err != nil {
			return err
		}

		reg, err := parseAddress(cmd.String("registry"))
		if err != nil {
			return err
		}

		version := cmd.Uint("version")
		if version > 0xffff {
			return fmt.Errorf("version must fit in two bytes")
		}

		did, err := lac1.Encode(lac1.TypeCode, cmd.String("chain-id"), address, reg, uint16(version))
		if err != nil {
			return err
		}

		fmt.Println(did)

		return nil
	},
}

var runNewDid = &cli.Command{
	Name:  "new-did",
	Usage: "encodes a did:lac1 identifier using the chain id and registry version reported by a node",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "registry",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "rpc-url",
			Required: true,
			EnvVars:  []string{"LAC1_RPC_URL"},
		},
	},
	Action: func(cmd *cli.Context) error {
		address, err := parseAddress(cmd.String("address"))
		if err != nil {
			return err
		}

		reg, err := parseAddress(cmd.String("registry"))
		if err != nil {
			return err
		}

		client, err := registry.Dial(cmd.Context, cmd.String("rpc-url"), nil)
		if err != nil {
			return err
		}
		defer client.Close()

		id, err := identity.NewIdentifier(cmd.Context, client, reg, address)
		if err != nil {
			return err
		}

		fmt.Println(id.String())

		return nil
	},
}

var runDecode = &cli.Command{
	Name:      "decode",
	Usage:     "decodes a did:lac1 identifier",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		id, err := identity.ParseDID(cmd.Args().First())
		if err != nil {
			return err
		}

		return printJSON(id)
	},
}

var runResolve = &cli.Command{
	Name:      "resolve",
	Usage:     "resolves a did:lac1 identifier against a node, bypassing any cache",
	ArgsUsage: "<did>",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "network",
			Usage:   "chainId,rpcUrl[,registry]; may be repeated",
			EnvVars: []string{"LAC1_NETWORKS"},
		},
		&cli.StringFlag{
			Name:    "networks-file",
			EnvVars: []string{"LAC1_NETWORKS_FILE"},
		},
		&cli.StringFlag{
			Name:  "mode",
			Value: string(identity.DefaultMode),
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "log each step of the registry walk",
		},
	},
	Action: func(cmd *cli.Context) error {
		var networks identity.Networks
		if path := cmd.String("networks-file"); path != "" {
			ns, err := identity.LoadNetworksFile(path)
			if err != nil {
				return err
			}
			networks = append(networks, ns...)
		}

		for _, flag := range cmd.StringSlice("network") {
			n, err := identity.ParseNetworkFlag(flag)
			if err != nil {
				return err
			}
			networks = append(networks, n)
		}

		mode, err := identity.ParseMode(cmd.String("mode"))
		if err != nil {
			return err
		}

		level := slog.LevelWarn
		if cmd.Bool("verbose") {
			level = slog.LevelDebug
		}

		r, err := identity.NewResolver(&identity.ResolverArgs{
			Networks: networks,
			Mode:     mode,
			Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		})
		if err != nil {
			return err
		}

		doc, err := r.Resolve(cmd.Context, cmd.Args().First())
		if err != nil {
			return err
		}

		return printJSON(doc)
	},
}

var runPurgeCache = &cli.Command{
	Name:  "purge-cache",
	Usage: "removes cached documents from the resolver database",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "db-name",
			Value:   "lac1.db",
			EnvVars: []string{"LAC1_DB_NAME"},
		},
		&cli.StringFlag{
			Name:  "did",
			Usage: "only purge this did",
		},
		&cli.BoolFlag{
			Name:  "expired",
			Usage: "only purge expired documents",
		},
	},
	Action: func(cmd *cli.Context) error {
		db, err := newDb(cmd.String("db-name"))
		if err != nil {
			return err
		}

		dc, err := identity.NewDbCache(db, 0)
		if err != nil {
			return err
		}

		if did := cmd.String("did"); did != "" {
			if err := dc.BustDoc(did); err != nil {
				return err
			}
			fmt.Printf("Purged cached documents for %s\n", did)
			return nil
		}

		var n int64
		if cmd.Bool("expired") {
			n, err = dc.PurgeExpired()
		} else {
			n, err = dc.Purge()
		}
		if err != nil {
			return err
		}

		fmt.Printf("Purged %d cached documents\n", n)

		return nil
	},
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))

	return nil
}

func newDb(name string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(name), &gorm.Config{})
}
