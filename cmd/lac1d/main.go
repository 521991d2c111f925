package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/server"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "lac1d",
		Usage: "A did:lac1 resolver",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				EnvVars: []string{"LAC1_ADDR"},
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "lac1.db",
				EnvVars: []string{"LAC1_DB_NAME"},
			},
			&cli.StringSliceFlag{
				Name:    "network",
				Usage:   "chainId,rpcUrl[,registry]; may be repeated",
				EnvVars: []string{"LAC1_NETWORKS"},
			},
			&cli.StringFlag{
				Name:    "networks-file",
				Usage:   "toml file of [[network]] tables",
				EnvVars: []string{"LAC1_NETWORKS_FILE"},
			},
			&cli.StringFlag{
				Name:    "mode",
				Value:   string(identity.DefaultMode),
				Usage:   "default document mode, reference or explicit",
				EnvVars: []string{"LAC1_MODE"},
			},
			&cli.StringFlag{
				Name:    "cache",
				Value:   server.CacheMemory,
				Usage:   "memory, sqlite or none",
				EnvVars: []string{"LAC1_CACHE"},
			},
			&cli.IntFlag{
				Name:    "cache-size",
				Value:   10_000,
				EnvVars: []string{"LAC1_CACHE_SIZE"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Value:   identity.DefaultCacheTTL,
				EnvVars: []string{"LAC1_CACHE_TTL"},
			},
			&cli.DurationFlag{
				Name:    "resolve-timeout",
				Value:   identity.DefaultResolveTimeout,
				EnvVars: []string{"LAC1_RESOLVE_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:     "admin-password",
				Required: false,
				EnvVars:  []string{"LAC1_ADMIN_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LAC1_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			run,
		},
		ErrWriter: os.Stdout,
		Version:   Version,

		// network values carry commas of their own
		DisableSliceFlagSeparator: true,
	}

	app.Run(os.Args)
}

var run = &cli.Command{
	Name:  "run",
	Usage: "Start the lac1 resolver",
	Flags: []cli.Flag{},
	Action: func(cmd *cli.Context) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

		networks, err := loadNetworks(cmd)
		if err != nil {
			fmt.Printf("error loading networks: %v", err)
			return err
		}

		s, err := server.New(&server.Args{
			Addr:           cmd.String("addr"),
			DbName:         cmd.String("db-name"),
			Logger:         logger,
			Version:        Version,
			Networks:       networks,
			Mode:           cmd.String("mode"),
			Cache:          cmd.String("cache"),
			CacheSize:      cmd.Int("cache-size"),
			CacheTTL:       cmd.Duration("cache-ttl"),
			ResolveTimeout: cmd.Duration("resolve-timeout"),
			AdminPassword:  cmd.String("admin-password"),
		})
		if err != nil {
			fmt.Printf("error creating lac1d: %v", err)
			return err
		}

		if err := s.Serve(cmd.Context); err != nil {
			fmt.Printf("error starting lac1d: %v", err)
			return err
		}

		return nil
	},
}

func loadNetworks(cmd *cli.Context) (identity.Networks, error) {
	var networks identity.Networks

	if path := cmd.String("networks-file"); path != "" {
		ns, err := identity.LoadNetworksFile(path)
		if err != nil {
			return nil, err
		}
		networks = append(networks, ns...)
	}

	for _, flag := range cmd.StringSlice("network") {
		n, err := identity.ParseNetworkFlag(flag)
		if err != nil {
			return nil, err
		}
		networks = append(networks, n)
	}

	if len(networks) == 0 {
		return nil, fmt.Errorf("no networks configured, use --network or --networks-file")
	}

	return networks, nil
}
