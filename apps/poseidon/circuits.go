package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/circuits"
	"github.com/spf13/cobra"
)

// CircuitInfo describes an embedded circuit.
type CircuitInfo struct {
	Name    circuit.Name `json:"name"`
	ID      circuit.ID   `json:"id"`
	Inputs  []string     `json:"inputs"`
	Outputs []string     `json:"outputs"`
	Event   string       `json:"event"`
}

// NewCircuitsCommand creates the circuits command, which lists the embedded circuits.
func NewCircuitsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "circuits",
		Short: "List the embedded circuits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := make([]CircuitInfo, 0, len(circuits.Library))
			for name, entry := range circuits.Library {
				infos = append(infos, CircuitInfo{Name: name, ID: name.ID(), Inputs: entry.Inputs, Outputs: entry.Outputs, Event: entry.Event})
			}
			sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

			var sb strings.Builder
			for _, info := range infos {
				fmt.Fprintf(&sb, "%s\t%s\n\tinputs:  %s\n\toutputs: %s\n\tevent:   %s\n",
					info.Name, info.ID, strings.Join(info.Inputs, ", "), strings.Join(info.Outputs, ", "), info.Event)
			}
			return output(cmd.OutOrStdout(), opts, infos, sb.String())
		},
	}
}
