// Package node provides the main entry point for running the poseidon
// services. It defines the Node type, which wires the storage, the
// computation service, the authorization stores and the transports to the
// secure-computation cluster and to the users.
//
// A node either runs a local cluster simulator, or submits to a remote
// cluster over gRPC and serves the cluster's callbacks.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/api"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/ledger"
	"github.com/ldsec/poseidon/objectstore"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/ldsec/poseidon/transport/centralized"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// DefaultBackend is the object store backend of configs that specify none.
const DefaultBackend = "mem"

// Node represents a poseidon node.
type Node struct {
	id     poseidon.NodeID
	config Config

	objstore  objectstore.ObjectStore
	ledger    *ledger.Ledger
	publisher *events.Publisher

	// cluster, in local mode
	cluster *cluster.LocalCluster
	mxe     poseidon.Pubkey

	// transport, in remote mode
	intake  *centralized.Client
	grpcSrv *centralized.Server

	// services
	compute *compute.Service
	stores  []*rebalance.Store
	api     *api.Server
}

// New creates a new node from the provided config.
// The method returns an error if the config is invalid.
func New(config Config) (node *Node, err error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	node = new(Node)
	node.id = config.ID
	node.config = config

	// storage
	if len(config.ObjectStoreConfig.BackendName) == 0 {
		config.ObjectStoreConfig.BackendName = DefaultBackend
	}
	node.objstore, err = objectstore.NewObjectStoreFromConfig(config.ObjectStoreConfig)
	if err != nil {
		return nil, err
	}
	node.ledger = ledger.New(node.id, config.LedgerConfig, node.objstore)
	if err := node.fundGenesis(); err != nil {
		return nil, err
	}
	node.publisher = events.NewPublisher(events.DefaultBufferSize)

	// cluster
	var intake cluster.Intake
	var material cluster.Material
	switch config.ClusterConfig.Mode {
	case LocalCluster:
		sk, mxeSk, err := localClusterKeys(config.ClusterConfig)
		if err != nil {
			return nil, err
		}
		node.cluster = cluster.NewLocalCluster(config.ClusterConfig.Local, sk, mxeSk, circuits.Library)
		node.mxe = node.cluster.MXEPublicKey()
		intake, material = node.cluster, node.cluster.Material()
	case RemoteCluster:
		node.intake = centralized.NewClient(node.id, config.ClusterConfig.Address.String())
		node.mxe = config.ClusterConfig.MXEPublicKey
		intake, material = node.intake, cluster.Material{ClusterKey: config.ClusterConfig.ClusterKey}
	}

	// services
	node.compute, err = compute.NewComputeService(node.id, config.ComputeConfig, node.ledger, intake, cluster.Ed25519Verifier{}, material, node.publisher)
	if err != nil {
		return nil, fmt.Errorf("failed to load the compute service: %w", err)
	}
	if err := node.compute.RegisterCircuits(circuits.Library); err != nil {
		return nil, err
	}
	if config.ComputeConfig.RegisterOnStart {
		if err := node.compute.RegisterAll(context.Background(), config.Authority); err != nil {
			return nil, fmt.Errorf("failed to register the computation definitions: %w", err)
		}
	}

	if node.cluster != nil {
		node.cluster.SetHandler(node.compute)
	} else {
		node.grpcSrv = centralized.NewServer(node.id, nil, node.compute)
	}

	for _, st := range []struct {
		enabled bool
		arity   rebalance.Arity
	}{
		{config.Rebalance.PerOwner, rebalance.PerOwner},
		{config.Rebalance.PerPosition, rebalance.PerPosition},
	} {
		if !st.enabled {
			continue
		}
		store, err := rebalance.NewStore(node.id, node.ledger, config.ComputeConfig.Program, st.arity, nil)
		if err != nil {
			return nil, err
		}
		node.stores = append(node.stores, store)
	}
	node.api = api.NewServer(node.id, node.compute, node.ledger, node.publisher, node.stores...)

	return node, nil
}

func localClusterKeys(conf ClusterConfig) (sk crypto.SigningKey, mxeSk crypto.X25519PrivateKey, err error) {
	if len(conf.SigningKey) != 0 {
		sk, err = crypto.SigningKeyFromString(conf.SigningKey)
	} else {
		_, sk, err = crypto.GenerateSigningKey()
	}
	if err != nil {
		return nil, mxeSk, fmt.Errorf("invalid cluster signing key: %w", err)
	}
	if len(conf.MXEKey) != 0 {
		mxeSk, err = crypto.X25519PrivateKeyFromString(conf.MXEKey)
	} else {
		_, mxeSk, err = crypto.GenerateX25519()
	}
	if err != nil {
		return nil, mxeSk, fmt.Errorf("invalid cluster x25519 key: %w", err)
	}
	return sk, mxeSk, nil
}

func (node *Node) fundGenesis() error {
	for _, alloc := range node.config.Genesis {
		bal, err := node.ledger.Balance(alloc.ID)
		if err != nil {
			return err
		}
		if bal != 0 {
			continue
		}
		if err := node.ledger.Fund(alloc.ID, alloc.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the node until ctx is done: the local cluster or the connection
// to the remote cluster, and the HTTP and gRPC servers for the configured
// addresses.
func (node *Node) Run(ctx context.Context) error {
	g, runctx := errgroup.WithContext(ctx)

	if node.cluster != nil {
		g.Go(func() error {
			return node.cluster.Run(runctx)
		})
	}

	if node.intake != nil {
		node.Logf("connecting to cluster at %s", node.config.ClusterConfig.Address)
		if err := node.intake.Connect(); err != nil {
			return err
		}
		defer node.intake.Disconnect()

		lis, err := net.Listen("tcp", node.config.GRPCAddress.String())
		if err != nil {
			return err
		}
		node.Logf("serving callbacks at %s", lis.Addr())
		g.Go(func() error {
			return node.grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-runctx.Done()
			node.grpcSrv.GracefulStop()
			return nil
		})
	}

	if len(node.config.HTTPAddress) != 0 {
		srv := &http.Server{Addr: node.config.HTTPAddress.String(), Handler: node.Handler(), ReadHeaderTimeout: 10 * time.Second}
		node.Logf("serving HTTP API at %s", srv.Addr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	node.Logf("stopped")
	return err
}

// Close releases the resources of the node.
func (node *Node) Close() error {
	if node.cluster != nil {
		node.cluster.Close()
	}
	node.publisher.Close()
	return node.ledger.Close()
}

// ID returns the node's ID.
func (node *Node) ID() poseidon.NodeID {
	return node.id
}

// Program returns the identity owning the node's records.
func (node *Node) Program() poseidon.Pubkey {
	return node.config.ComputeConfig.Program
}

// MXEPublicKey returns the x25519 key users encrypt their arguments to.
func (node *Node) MXEPublicKey() poseidon.Pubkey {
	return node.mxe
}

// Compute returns the node's computation service.
func (node *Node) Compute() *compute.Service {
	return node.compute
}

// Publisher returns the node's result publisher.
func (node *Node) Publisher() *events.Publisher {
	return node.publisher
}

// Ledger returns the node's ledger.
func (node *Node) Ledger() *ledger.Ledger {
	return node.ledger
}

// Store returns the node's authorization store of the given arity.
func (node *Node) Store(arity rebalance.Arity) (*rebalance.Store, bool) {
	for _, st := range node.stores {
		if st.Arity() == arity {
			return st, true
		}
	}
	return nil, false
}

// Handler returns the HTTP handler of the node's API.
func (node *Node) Handler() http.Handler {
	return node.api.Handler()
}

// Logf writes a log line with the provided message.
func (node *Node) Logf(msg string, v ...any) {
	log.Printf("%s | [node] %s\n", node.id, fmt.Sprintf(msg, v...))
}
