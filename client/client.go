// Package client provides the user side of confidential computations:
// encrypting position values to the cluster, building argument bundles, and
// decrypting the results published for them.
package client

import (
	"crypto/rand"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/events"
)

// Position is the plaintext view of a position.
type Position struct {
	AmountA, AmountB uint64
	Lower, Upper     int32
	Liquidity        uint64
}

// Client encrypts the arguments of a user and decrypts the results
// encrypted back to it.
type Client struct {
	pk  poseidon.Pubkey
	key crypto.SharedKey
}

// New creates a client for the x25519 key sk and the cluster key mxe.
func New(sk crypto.X25519PrivateKey, mxe poseidon.Pubkey) (*Client, error) {
	key, err := crypto.DeriveSharedSecret(sk, mxe)
	if err != nil {
		return nil, fmt.Errorf("could not derive shared secret with the cluster: %w", err)
	}
	return &Client{pk: sk.Public(), key: key}, nil
}

// NewRandom creates a client with a fresh x25519 key.
func NewRandom(mxe poseidon.Pubkey) (*Client, error) {
	_, sk, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	return New(sk, mxe)
}

// PublicKey returns the x25519 key of the client.
func (c *Client) PublicKey() poseidon.Pubkey {
	return c.pk
}

// RandomNonce returns a uniformly random nonce.
func RandomNonce() (n poseidon.Nonce, err error) {
	_, err = rand.Read(n[:])
	return n, err
}

// Encrypt returns the argument bundle of circuit name for values, encrypted
// under a fresh nonce.
func (c *Client) Encrypt(name circuit.Name, values ...uint64) (*args.Bundle, error) {
	entry, has := circuits.Library[name]
	if !has {
		return nil, fmt.Errorf("unknown circuit %q", name)
	}
	if len(values) != len(entry.Inputs) {
		return nil, fmt.Errorf("circuit %s takes %d inputs, got %d", name, len(entry.Inputs), len(values))
	}
	nonce, err := RandomNonce()
	if err != nil {
		return nil, err
	}
	return args.Build(c.pk, nonce, crypto.EncryptValues(c.key, nonce, values...)...), nil
}

// Deposit returns the arguments of a deposit of p. Its liquidity is ignored.
func (c *Client) Deposit(p Position) (*args.Bundle, error) {
	return c.Encrypt(circuits.DepositName, p.AmountA, p.AmountB, circuits.PackTicks(p.Lower, p.Upper))
}

// Rebalance returns the arguments of rebalancing the amounts of p to the tick
// range of p at price, scaled by circuits.PriceScale.
func (c *Client) Rebalance(p Position, price uint64) (*args.Bundle, error) {
	return c.Encrypt(circuits.RebalanceName, p.AmountA, p.AmountB, circuits.PackTicks(p.Lower, p.Upper), price)
}

// View returns the arguments of re-encrypting p.
func (c *Client) View(p Position) (*args.Bundle, error) {
	return c.Encrypt(circuits.ViewName, p.AmountA, p.AmountB, circuits.PackTicks(p.Lower, p.Upper))
}

// Decrypt returns the plaintext values of an event.
func (c *Client) Decrypt(ev events.Event) ([]uint64, error) {
	return crypto.DecryptValues(c.key, ev.Nonce, ev.Ciphertexts)
}

// DecryptPosition returns the position an event of the library circuits describes.
// View events carry no liquidity.
func (c *Client) DecryptPosition(ev events.Event) (*Position, error) {
	vs, err := c.Decrypt(ev)
	if err != nil {
		return nil, err
	}
	entry, has := circuits.Library[ev.Circuit]
	if !has || len(vs) != len(entry.Outputs) {
		return nil, fmt.Errorf("event %s does not describe a position", ev)
	}
	p := &Position{AmountA: vs[0], AmountB: vs[1]}
	switch ev.Circuit {
	case circuits.DepositName:
		p.Liquidity = vs[2]
	case circuits.RebalanceName:
		p.Lower, p.Upper = circuits.UnpackTicks(vs[2])
		p.Liquidity = vs[3]
	case circuits.ViewName:
		p.Lower, p.Upper = circuits.UnpackTicks(vs[2])
	}
	return p, nil
}
