package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lockedworlds/lockedworlds/config"
	"github.com/lockedworlds/lockedworlds/deploy"
	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/node"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/wallet"
	"github.com/lockedworlds/lockedworlds/web"
)

const defaultPagePort = 3000

func (a *app) nodeCommand() *cobra.Command {
	var (
		pagePort int
		noPage   bool
	)
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run the development chain, relayer and page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if noPage {
				pagePort = -1
			}
			return a.runNode(ctx, pagePort)
		},
	}
	flags := cmd.Flags()
	flags.String("datadir", "", "data directory for a persistent chain")
	flags.String("db", "", "database engine: memory, leveldb")
	flags.String("fhe", "", "FHE backend: mock, bgv")
	flags.Int("rpc-port", 0, "JSON-RPC port")
	flags.Int("relayer-port", 0, "relayer port")
	flags.Bool("metrics", false, "serve /metrics and /health")
	flags.IntVar(&pagePort, "page-port", defaultPagePort, "page port")
	flags.BoolVar(&noPage, "no-page", false, "do not serve the page")
	for key, name := range map[string]string{
		"node.data_dir":     "datadir",
		"node.db_engine":    "db",
		"node.fhe_backend":  "fhe",
		"node.rpc_port":     "rpc-port",
		"node.relayer_port": "relayer-port",
		"node.metrics":      "metrics",
	} {
		if err := a.loader.BindFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

// runNode starts a node, deploys LockedWorlds on it and serves the page
// on pagePort unless it is negative. It returns when ctx is done.
func (a *app) runNode(ctx context.Context, pagePort int) error {
	cfg := a.cfg.Node
	logger := log.Module("cmd")
	if pagePort >= 0 && cfg.RelayerPort == 0 {
		return errors.New("the page needs a fixed relayer port")
	}

	n, err := node.New(&cfg)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer n.Stop()

	store := deploy.NewStore(a.cfg.Deployments, config.LocalNetwork)
	res, err := deploy.Run(ctx, store, n.Client(), n.Accounts()[0])
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	if pagePort >= 0 {
		ring := wallet.NewKeyring()
		for _, s := range n.Accounts() {
			ring.Add(s)
		}
		page := web.NewPage(web.Config{
			Contract: res.Record.Address,
			Backend:  n.Client(),
			Relayer:  relayer.NewClient("http://"+cfg.RelayerAddr(), nil),
			Keyring:  ring,
		})
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(pagePort))
		if _, err := n.Mount("page", addr, page.Handler()); err != nil {
			return err
		}
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	fmt.Fprintf(a.out, "LockedWorlds %s\n", version)
	fmt.Fprintf(a.out, "  rpc:      %s\n", n.RPCURL())
	fmt.Fprintf(a.out, "  relayer:  %s\n", n.RelayerURL())
	fmt.Fprintf(a.out, "  contract: %s\n", res.Record.Address.Hex())
	if pagePort >= 0 {
		fmt.Fprintf(a.out, "  page:     http://%s\n", net.JoinHostPort(cfg.Host, strconv.Itoa(pagePort)))
	}
	for i, s := range n.Accounts() {
		fmt.Fprintf(a.out, "  account %d: %s\n", i, s.Address().Hex())
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return n.Stop()
}
