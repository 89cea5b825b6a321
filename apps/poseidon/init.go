package main

import (
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/node"
	"github.com/ldsec/poseidon/objectstore"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/spf13/cobra"
)

const defaultGenesisFunds = 1 << 40

// NewInitCommand creates the init command, which writes the configuration of
// a node running a local cluster with fresh keys.
func NewInitCommand(_ *RootOptions) *cobra.Command {
	var id, httpAddr, backend, dbPath string

	cmd := &cobra.Command{
		Use:   "init <config-file>",
		Short: "Write the configuration of a local node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, _, err := crypto.GenerateSigningKey()
			if err != nil {
				return err
			}
			authority, _, err := crypto.GenerateSigningKey()
			if err != nil {
				return err
			}
			_, clusterSk, err := crypto.GenerateSigningKey()
			if err != nil {
				return err
			}
			_, mxeSk, err := crypto.GenerateX25519()
			if err != nil {
				return err
			}

			config := node.Config{
				ID:          poseidon.NodeID(id),
				HTTPAddress: node.Address(httpAddr),
				ClusterConfig: node.ClusterConfig{
					Mode:       node.LocalCluster,
					SigningKey: clusterSk.String(),
					MXEKey:     mxeSk.String(),
					Local:      cluster.LocalConfig{Parties: cluster.DefaultParties, Workers: cluster.DefaultWorkers},
				},
				ComputeConfig:     compute.ServiceConfig{Program: program, RegisterOnStart: true},
				ObjectStoreConfig: objectstore.Config{BackendName: backend, DBPath: dbPath},
				Rebalance:         node.RebalanceConfig{PerOwner: true, PerPosition: true},
				Authority:         authority,
				Genesis:           []node.Allocation{{ID: authority, Amount: defaultGenesisFunds}},
			}
			if err := node.ValidateConfig(config); err != nil {
				return err
			}
			if err := node.WriteConfigToFile(config, args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote config of node %s with program %s to %s\n", id, program, args[0])
			return err
		},
	}

	cmd.Flags().StringVar(&id, "id", "node-0", "the node ID")
	cmd.Flags().StringVar(&httpAddr, "address", ":8080", "the address on which the node serves its API")
	cmd.Flags().StringVar(&backend, "backend", "mem", "the object store backend (mem|badgerdb|hybrid|sqlite|postgres)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "the database path of the object store")

	return cmd
}
