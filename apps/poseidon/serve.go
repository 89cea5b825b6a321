package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ldsec/poseidon/node"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command, which runs a node until it
// receives SIGINT or SIGTERM.
func NewServeCommand(_ *RootOptions) *cobra.Command {
	var configFile, httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := node.LoadConfigFromFile(configFile)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				nc.HTTPAddress = node.Address(httpAddr)
			}

			n, err := node.New(nc)
			if err != nil {
				return err
			}
			defer n.Close()
			log.Printf("Node %s | program %s, cluster x25519 key %s\n", n.ID(), n.Program(), n.MXEPublicKey())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := n.Run(ctx); err != nil {
				return err
			}
			log.Printf("Node %s | exiting.", n.ID())
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "/poseidon/config/node.yaml", "the node config file for this node")
	cmd.Flags().StringVar(&httpAddr, "address", "", "the address on which the node serves its API, overrides the config")

	return cmd
}
