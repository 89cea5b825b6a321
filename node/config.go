package node

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/ledger"
	"github.com/ldsec/poseidon/objectstore"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/ldsec/poseidon/utils"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a node.
// The struct is meant to be encoded and decoded to JSON with the
// standard library's encoding/json package, or to YAML.
type Config struct {
	ID                poseidon.NodeID       `json:"id" yaml:"id"`
	HTTPAddress       Address               `json:"http_address" yaml:"http_address"`
	GRPCAddress       Address               `json:"grpc_address" yaml:"grpc_address"`
	ClusterConfig     ClusterConfig         `json:"cluster" yaml:"cluster"`
	ComputeConfig     compute.ServiceConfig `json:"compute" yaml:"compute"`
	LedgerConfig      ledger.Config         `json:"ledger" yaml:"ledger"`
	ObjectStoreConfig objectstore.Config    `json:"objectstore" yaml:"objectstore"`
	Rebalance         RebalanceConfig       `json:"rebalance" yaml:"rebalance"`
	// Authority pays for the definitions registered at start-up.
	Authority poseidon.Pubkey `json:"authority" yaml:"authority"`
	// Genesis funds identities whose balance is zero at start-up.
	Genesis []Allocation `json:"genesis,omitempty" yaml:"genesis,omitempty"`
}

// ClusterMode is the way a node reaches the secure-computation cluster.
type ClusterMode string

const (
	// LocalCluster runs a cluster simulator in the node.
	LocalCluster ClusterMode = "local"
	// RemoteCluster submits to a cluster over gRPC and serves its callbacks.
	RemoteCluster ClusterMode = "remote"
)

// ClusterConfig is the configuration of the cluster a node submits to.
type ClusterConfig struct {
	Mode ClusterMode `json:"mode" yaml:"mode"`
	// Address is the intake address of a remote cluster.
	Address Address `json:"address,omitempty" yaml:"address,omitempty"`
	// ClusterKey is the signing identity of a remote cluster.
	ClusterKey poseidon.Pubkey `json:"cluster_key" yaml:"cluster_key"`
	// MXEPublicKey is the x25519 key users of a remote cluster encrypt to.
	MXEPublicKey poseidon.Pubkey `json:"mxe_public_key" yaml:"mxe_public_key"`
	// SigningKey and MXEKey are the hex-encoded keys of a local cluster. They
	// are generated if empty.
	SigningKey string              `json:"signing_key,omitempty" yaml:"signing_key,omitempty"`
	MXEKey     string              `json:"mxe_key,omitempty" yaml:"mxe_key,omitempty"`
	Local      cluster.LocalConfig `json:"local" yaml:"local"`
}

// RebalanceConfig selects the authorization stores a node serves.
type RebalanceConfig struct {
	PerOwner    bool `json:"per_owner" yaml:"per_owner"`
	PerPosition bool `json:"per_position" yaml:"per_position"`
}

// Allocation is an initial balance.
type Allocation struct {
	ID     poseidon.Pubkey `json:"id" yaml:"id"`
	Amount uint64          `json:"amount" yaml:"amount"`
}

// Address is the network address of a node.
type Address string

// String returns a string representation of the node address.
func (na Address) String() string {
	return string(na)
}

// LoadConfigFromFile loads a node configuration from a JSON file, or from a
// YAML file if its extension is .yaml or .yml.
func LoadConfigFromFile(filename string) (config Config, err error) {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		var file *os.File
		if file, err = os.Open(filename); err != nil {
			return Config{}, err
		}
		defer file.Close()
		err = yaml.NewDecoder(file).Decode(&config)
	default:
		err = utils.UnmarshalJSONFromFile(filename, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("could not load config %s: %w", filename, err)
	}
	return config, nil
}

// WriteConfigToFile writes config to a JSON file, or to a YAML file if its
// extension is .yaml or .yml.
func WriteConfigToFile(config Config, filename string) error {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		b, err := yaml.Marshal(config)
		if err != nil {
			return err
		}
		return os.WriteFile(filename, b, 0o600)
	default:
		return utils.MarshalJSONToFile(config, filename)
	}
}

// ValidateConfig checks that the configuration is valid.
func ValidateConfig(config Config) error {
	if len(config.ID) == 0 {
		return fmt.Errorf("config must specify a node ID")
	}
	if config.ComputeConfig.Program.IsZero() {
		return fmt.Errorf("config must specify a program identity")
	}
	if config.ComputeConfig.RegisterOnStart && config.Authority.IsZero() {
		return fmt.Errorf("config must specify an authority to register definitions on start")
	}
	switch config.ClusterConfig.Mode {
	case LocalCluster:
	case RemoteCluster:
		if len(config.ClusterConfig.Address) == 0 {
			return fmt.Errorf("remote cluster requires an address")
		}
		if config.ClusterConfig.ClusterKey.IsZero() {
			return fmt.Errorf("remote cluster requires a cluster key")
		}
		if len(config.GRPCAddress) == 0 {
			return fmt.Errorf("remote cluster requires a gRPC address for callbacks")
		}
	default:
		return fmt.Errorf("invalid cluster mode %q", config.ClusterConfig.Mode)
	}
	return nil
}
