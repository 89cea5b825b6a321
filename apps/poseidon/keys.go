package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/spf13/cobra"
)

// KeyPair is the output of the keygen command.
type KeyPair struct {
	Kind    string `json:"kind"`
	Public  string `json:"public"`
	Private string `json:"private"`
}

// NewKeygenCommand creates the keygen command, which generates an Ed25519
// signing identity or an x25519 encryption key.
func NewKeygenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "keygen <signing|x25519>",
		Short:     "Generate a key pair",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"signing", "x25519"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kp := KeyPair{Kind: args[0]}
			switch args[0] {
			case "signing":
				pk, sk, err := crypto.GenerateSigningKey()
				if err != nil {
					return err
				}
				kp.Public, kp.Private = pk.String(), sk.String()
			case "x25519":
				pk, sk, err := crypto.GenerateX25519()
				if err != nil {
					return err
				}
				kp.Public, kp.Private = pk.String(), sk.String()
			default:
				return fmt.Errorf("invalid key kind %q", args[0])
			}
			return output(cmd.OutOrStdout(), opts, kp, fmt.Sprintf("public:  %s\nprivate: %s\n", kp.Public, kp.Private))
		},
	}
}

// NewDeriveCommand creates the derive command, which prints the storage
// addresses derived for a program.
func NewDeriveCommand(opts *RootOptions) *cobra.Command {
	var programHex string
	var program poseidon.Pubkey

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the storage addresses of a program",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			program, err = poseidon.PubkeyFromString(programHex)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&programHex, "program", "", "the hex-encoded program identity")
	_ = cmd.MarkPersistentFlagRequired("program")

	var offset uint64
	computation := &cobra.Command{
		Use:   "computation <circuit>",
		Short: "Derive the accounts of a queue request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accs := compute.ExpectedAccounts(program, circuit.Name(args[0]).ID(), offset)
			text := fmt.Sprintf("definition:  %s\ncluster:     %s\nmempool:     %s\nexecpool:    %s\ncomputation: %s\n",
				accs.Definition, accs.Cluster, accs.Mempool, accs.Execpool, accs.Computation)
			return output(cmd.OutOrStdout(), opts, accs, text)
		},
	}
	computation.Flags().Uint64Var(&offset, "offset", 0, "the computation offset")

	var ownerHex, positionHex string
	authorization := &cobra.Command{
		Use:   "rebalance <per-owner|per-position>",
		Short: "Derive the address of a rebalance configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arity rebalance.Arity
			switch args[0] {
			case rebalance.PerOwner.String():
				arity = rebalance.PerOwner
			case rebalance.PerPosition.String():
				arity = rebalance.PerPosition
			default:
				return fmt.Errorf("invalid arity %q", args[0])
			}
			owner, err := poseidon.PubkeyFromString(ownerHex)
			if err != nil {
				return fmt.Errorf("invalid owner: %w", err)
			}
			var position poseidon.Pubkey
			if positionHex != "" {
				if position, err = poseidon.PubkeyFromString(positionHex); err != nil {
					return fmt.Errorf("invalid position: %w", err)
				}
			}
			store, err := rebalance.NewStore("", nil, program, arity, nil)
			if err != nil {
				return err
			}
			addr := store.Address(owner, position)
			return output(cmd.OutOrStdout(), opts, map[string]poseidon.Address{"address": addr}, addr.String()+"\n")
		},
	}
	authorization.Flags().StringVar(&ownerHex, "owner", "", "the hex-encoded owner identity")
	authorization.Flags().StringVar(&positionHex, "position", "", "the hex-encoded position identity")
	_ = authorization.MarkFlagRequired("owner")

	cmd.AddCommand(computation, authorization)
	return cmd
}

func output(w io.Writer, opts *RootOptions, v any, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "\t")
		return enc.Encode(v)
	}
	_, err := io.WriteString(w, text)
	return err
}
