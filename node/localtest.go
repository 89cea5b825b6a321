package node

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/client"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/objectstore"
	"github.com/ldsec/poseidon/services/compute"
)

// DefaultTestFunds is the initial balance of the identities of a LocalTest.
const DefaultTestFunds = 1 << 40

// LocalTestConfig is a configuration structure for LocalTest types.
type LocalTestConfig struct {
	Users             int                 // number of funded users
	Funds             uint64              // initial balance of the authority and the users
	ObjectStoreConfig *objectstore.Config // node's object store configuration for this test
}

// User is a funded identity of a LocalTest, with its encryption key and
// its client of the node's API.
type User struct {
	SigningKey crypto.SigningKey
	*client.Client
	API *client.APIClient
}

// LocalTest represents a local test setting with a single node running a local
// cluster, with its definitions registered and its users funded. The API of
// the node is served by an in-process HTTP server.
type LocalTest struct {
	*Node
	Config    Config
	Authority crypto.SigningKey
	Users     []*User

	server *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

// NewLocalTest creates a new LocalTest from the configuration and returns it.
func NewLocalTest(config LocalTestConfig) (test *LocalTest, err error) {
	test = new(LocalTest)
	if config.Funds == 0 {
		config.Funds = DefaultTestFunds
	}

	authPk, authSk, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	test.Authority = authSk

	sks := make([]crypto.SigningKey, config.Users)
	genesis := []Allocation{{ID: authPk, Amount: config.Funds}}
	for i := range sks {
		var pk poseidon.Pubkey
		if pk, sks[i], err = crypto.GenerateSigningKey(); err != nil {
			return nil, err
		}
		genesis = append(genesis, Allocation{ID: pk, Amount: config.Funds})
	}

	var program poseidon.Pubkey
	copy(program[:], "poseidon-test-program")

	test.Config = Config{
		ID:            "test-node",
		ClusterConfig: ClusterConfig{Mode: LocalCluster},
		ComputeConfig: compute.ServiceConfig{Program: program, RegisterOnStart: true},
		Rebalance:     RebalanceConfig{PerOwner: true, PerPosition: true},
		Authority:     authPk,
		Genesis:       genesis,
	}
	if config.ObjectStoreConfig != nil {
		test.Config.ObjectStoreConfig = *config.ObjectStoreConfig
	}

	if test.Node, err = New(test.Config); err != nil {
		return nil, err
	}
	test.server = httptest.NewServer(test.Node.Handler())

	for i, sk := range sks {
		cl, err := client.NewRandom(test.Node.MXEPublicKey())
		if err != nil {
			return nil, fmt.Errorf("could not create client for user %d: %w", i, err)
		}
		test.Users = append(test.Users, &User{
			SigningKey: sk,
			Client:     cl,
			API:        client.NewAPIClient(test.server.URL, sk, test.server.Client()),
		})
	}

	return test, nil
}

// Start runs the node in the background until Close is called.
func (lt *LocalTest) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	lt.cancel = cancel
	lt.done = make(chan error, 1)
	go func() {
		lt.done <- lt.Node.Run(ctx)
	}()
}

// URL returns the base URL of the node's API.
func (lt *LocalTest) URL() string {
	return lt.server.URL
}

// Close stops the node and its API server and releases their resources.
func (lt *LocalTest) Close() error {
	lt.server.CloseClientConnections()
	lt.server.Close()
	var err error
	if lt.cancel != nil {
		lt.cancel()
		err = <-lt.done
	}
	if cerr := lt.Node.Close(); err == nil {
		err = cerr
	}
	return err
}
