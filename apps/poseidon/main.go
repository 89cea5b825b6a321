// Command poseidon runs a poseidon node and provides the tooling around it:
// key generation, address derivation and the listing of the embedded
// circuits.
//
// Instructions to run: poseidon serve --config [nodeconfigfile].
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags of all commands.
type RootOptions struct {
	Format string // "json" | "text"
}

// NewRootCommand creates the root command of the poseidon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "poseidon",
		Short: "poseidon - confidential computation orchestration",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewCircuitsCommand(opts))

	return cmd
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
