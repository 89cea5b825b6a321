package cluster

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/crypto"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when submitting to a closed cluster.
var ErrClosed = errors.New("cluster intake closed")

// LocalConfig is the configuration of a LocalCluster.
type LocalConfig struct {
	// Parties is the number of simulated computing parties.
	Parties int `json:"parties" yaml:"parties"`
	// QueueSize is the size of the request queue. Passed this size, Submit blocks.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// Workers is the number of requests processed concurrently.
	Workers int `json:"workers" yaml:"workers"`
}

const (
	// DefaultParties is the default number of simulated parties.
	DefaultParties = 3
	// DefaultQueueSize is the default size of the request queue.
	DefaultQueueSize = 128
	// DefaultWorkers is the default number of request processing routines.
	DefaultWorkers = 4
)

// LocalCluster simulates the secure-computation cluster in process. It
// decrypts the arguments of each request with its x25519 key, evaluates the
// circuit over secret shares, encrypts the outputs back to the requester under
// a fresh nonce, signs them with its cluster key and delivers them to its
// callback handler. A failed evaluation is delivered unsigned.
type LocalCluster struct {
	config     LocalConfig
	signingKey crypto.SigningKey
	mxeKey     crypto.X25519PrivateKey
	library    map[circuit.Name]circuits.Entry

	handlerMu sync.RWMutex
	handler   CallbackHandler

	closeOnce sync.Once
	closedMu  sync.RWMutex
	closed    bool
	queue     chan *Request
}

// NewLocalCluster creates a new local cluster with the given keys, evaluating the
// circuits of library.
func NewLocalCluster(conf LocalConfig, sk crypto.SigningKey, mxeKey crypto.X25519PrivateKey, library map[circuit.Name]circuits.Entry) *LocalCluster {
	if conf.Parties == 0 {
		conf.Parties = DefaultParties
	}
	if conf.QueueSize == 0 {
		conf.QueueSize = DefaultQueueSize
	}
	if conf.Workers == 0 {
		conf.Workers = DefaultWorkers
	}
	return &LocalCluster{
		config:     conf,
		signingKey: sk,
		mxeKey:     mxeKey,
		library:    library,
		queue:      make(chan *Request, conf.QueueSize),
	}
}

// Material returns the key material the cluster signs with.
func (c *LocalCluster) Material() Material {
	return Material{ClusterKey: c.signingKey.Public()}
}

// MXEPublicKey returns the x25519 key clients encrypt their arguments to.
func (c *LocalCluster) MXEPublicKey() poseidon.Pubkey {
	return c.mxeKey.Public()
}

// SetHandler sets the receiver of the computation outputs.
func (c *LocalCluster) SetHandler(h CallbackHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

// Submit queues a request for evaluation.
func (c *LocalCluster) Submit(ctx context.Context, req *Request) error {
	if _, has := c.library[req.Circuit]; !has {
		return fmt.Errorf("cluster has no circuit %q", req.Circuit)
	}
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the intake. Run returns once the queued requests are processed.
func (c *LocalCluster) Close() {
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		close(c.queue)
		c.closedMu.Unlock()
	})
}

// Run processes the queued requests until the intake is closed or ctx is done.
func (c *LocalCluster) Run(ctx context.Context) error {
	c.Logf("starting with %d parties and %d workers", c.config.Parties, c.config.Workers)
	workers, wctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Workers; i++ {
		workers.Go(func() error {
			for {
				select {
				case req, more := <-c.queue:
					if !more {
						return nil
					}
					if err := c.process(wctx, req); err != nil {
						c.Logf("could not deliver output for %s: %v", req.Ref, err)
					}
				case <-wctx.Done():
					return nil
				}
			}
		})
	}
	return workers.Wait()
}

func (c *LocalCluster) process(ctx context.Context, req *Request) error {
	out := &SignedOutput{Ref: req.Ref}
	cts, nonce, err := c.evaluate(req)
	if err != nil {
		c.Logf("computation %s failed: %v", req.Ref, err)
	} else {
		out.Ciphertexts, out.Nonce = cts, nonce
		if err := out.Sign(c.signingKey); err != nil {
			return err
		}
	}

	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h == nil {
		return fmt.Errorf("no callback handler")
	}
	return h.Deliver(ctx, &Callback{
		Circuit:     req.Circuit,
		Offset:      req.Ref.Offset,
		Computation: req.Ref.Address,
		Output:      out,
	})
}

func (c *LocalCluster) evaluate(req *Request) ([]poseidon.Ciphertext, poseidon.Nonce, error) {
	var nonce poseidon.Nonce
	entry := c.library[req.Circuit]
	bundle, err := args.Parse(req.Payload, len(entry.Inputs))
	if err != nil {
		return nil, nonce, err
	}
	pk, _ := bundle.Pubkey()
	inNonce, _ := bundle.Nonce()

	key, err := crypto.DeriveSharedSecret(c.mxeKey, pk)
	if err != nil {
		return nil, nonce, err
	}
	inputs, err := crypto.DecryptValues(key, inNonce, bundle.Ciphertexts())
	if err != nil {
		return nil, nonce, err
	}

	seed := sha256.Sum256(append(append([]byte(nil), req.Payload...), req.Ref.Address[:]...))
	outputs, err := circuits.Evaluate(entry.Circuit, c.config.Parties, seed[:], inputs...)
	if err != nil {
		return nil, nonce, err
	}
	if len(outputs) != len(entry.Outputs) {
		return nil, nonce, fmt.Errorf("circuit %s returned %d outputs, expected %d", req.Circuit, len(outputs), len(entry.Outputs))
	}

	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, err
	}
	return crypto.EncryptValues(key, nonce, outputs...), nonce, nil
}

// Logf writes a log line with the cluster identity prefix.
func (c *LocalCluster) Logf(msg string, v ...any) {
	log.Printf("%s | [cluster] %s\n", c.signingKey.Public().String()[:8], fmt.Sprintf(msg, v...))
}
