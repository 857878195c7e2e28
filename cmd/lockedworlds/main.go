// Command lockedworlds runs the LockedWorlds development node, deploys the
// contract and drives it from the command line.
//
// Usage:
//
//	lockedworlds [--config file] [--network name] <command>
//
// Commands:
//
//	node              Run the dev chain, relayer and page
//	deploy            Deploy LockedWorlds to the selected network
//	accounts          List the configured accounts
//	task:address      Print the deployed LockedWorlds address
//	task:claim        Claim the three encrypted keys
//	task:use-key      Use one key and decrypt the reward and balance
//	task:key          Decrypt the attribute and reward of one key
//	task:balance      Decrypt the coin balance
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/lockedworlds/lockedworlds/config"
	"github.com/lockedworlds/lockedworlds/deploy"
	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/tasks"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{loader: config.NewLoader(), out: stdout}
	defer a.close()

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

// app carries the state shared by every command.
type app struct {
	loader     *config.Loader
	configFile string
	network    string
	verbosity  int
	out        io.Writer
	dial       func(ctx context.Context, url string) (*ethclient.Client, error)

	cfg    *config.Config
	closer io.Closer
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lockedworlds",
		Short:         "LockedWorlds confidential key vault",
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := ""
			if cmd.Flag("verbosity").Changed {
				if a.verbosity < 0 || a.verbosity > 5 {
					return fmt.Errorf("%w: --verbosity must be between 0 and 5", errUsage)
				}
				level = log.VerbosityToLevel(a.verbosity)
			}
			return a.setup(level)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})
	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	flags.StringVar(&a.network, "network", "", "network to use (default from config)")
	flags.String("deployments", "", "deployment records directory")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.IntVar(&a.verbosity, "verbosity", 3, "log verbosity 0-5, overrides --log-level")
	flags.String("private-key", "", "hex private key added to the network accounts")
	for key, name := range map[string]string{
		"deployments": "deployments",
		"log.level":   "log-level",
		"private_key": "private-key",
	} {
		if err := a.loader.BindFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		a.nodeCommand(),
		a.deployCommand(),
		a.accountsCommand(),
	)
	root.AddCommand(a.taskCommands()...)
	return root
}

// setup loads the configuration and installs the logger. A non-empty
// level replaces the configured one.
func (a *app) setup(level string) error {
	cfg, err := a.loader.Load(a.configFile)
	if err != nil {
		return err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	logger, closer, err := log.Setup(cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefault(logger)
	a.cfg = cfg
	a.closer = closer
	if file := a.loader.File(); file != "" {
		log.Debug("Loaded configuration", "file", file)
	}
	return nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer.Close()
	}
}

// env connects to the selected network and builds the task environment.
// The returned func closes the connection.
func (a *app) env(ctx context.Context) (*tasks.Env, *config.Network, func(), error) {
	network, err := a.cfg.Select(a.network)
	if err != nil {
		return nil, nil, nil, err
	}
	ring, err := network.Keyring()
	if err != nil {
		return nil, nil, nil, err
	}
	dial := a.dial
	if dial == nil {
		dial = ethclient.DialContext
	}
	client, err := dial(ctx, network.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial %s: %w", network.RPCURL, err)
	}
	env := &tasks.Env{
		Out:     a.out,
		Backend: client,
		Keyring: ring,
		Store:   deploy.NewStore(a.cfg.Deployments, network.Name),
	}
	if network.RelayerURL != "" {
		env.Relayer = relayer.NewClient(network.RelayerURL, nil)
	}
	return env, network, client.Close, nil
}

func (a *app) deployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy LockedWorlds to the selected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, network, closeEnv, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer closeEnv()
			signer, err := env.Keyring.Default()
			if err != nil {
				return err
			}
			res, err := deploy.Run(ctx, env.Store, env.Backend, signer)
			if err != nil {
				return err
			}
			if res.Reused {
				fmt.Fprintf(a.out, "reusing \"%s\" at %s\n", deploy.Tag, res.Record.Address.Hex())
				return nil
			}
			fmt.Fprintf(a.out, "deployed \"%s\" on %s at %s (tx %s)\n",
				deploy.Tag, network.Name, res.Record.Address.Hex(), res.Record.TransactionHash.Hex())
			return nil
		},
	}
}

func (a *app) accountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the configured accounts and their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, _, closeEnv, err := a.env(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEnv()
			return env.Accounts(cmd.Context())
		},
	}
}
