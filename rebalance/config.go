package rebalance

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ldsec/poseidon"
)

// Discriminator prefixes the stored configurations.
var Discriminator = func() (d [8]byte) {
	h := sha256.Sum256([]byte("account:RebalanceConfig"))
	copy(d[:], h[:8])
	return d
}()

const (
	// OwnerConfigSize is the stored size of a per-owner configuration.
	OwnerConfigSize = 8 + poseidon.PubkeySize + 1 + 2 + 2 + 8 + 8
	// PositionConfigSize is the stored size of a per-position configuration.
	PositionConfigSize = OwnerConfigSize + poseidon.PubkeySize
)

// Config is the rebalance policy of an owner, or of one of its positions.
// Owner and Position never change after creation.
type Config struct {
	Owner poseidon.Pubkey `json:"owner"`
	// Position is nil for per-owner configurations.
	Position       *poseidon.Pubkey `json:"position,omitempty"`
	Enabled        bool             `json:"enabled"`
	MaxSlippageBps uint16           `json:"max_slippage_bps"`
	MinYieldBps    uint16           `json:"min_yield_bps"`
	CreatedAt      int64            `json:"created_at"`
	UpdatedAt      int64            `json:"updated_at"`
}

// Size returns the stored size of the configuration.
func (c *Config) Size() int {
	if c.Position != nil {
		return PositionConfigSize
	}
	return OwnerConfigSize
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c *Config) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, c.Size())
	b = append(b, Discriminator[:]...)
	b = append(b, c.Owner[:]...)
	if c.Position != nil {
		b = append(b, c.Position[:]...)
	}
	if c.Enabled {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.LittleEndian.AppendUint16(b, c.MaxSlippageBps)
	b = binary.LittleEndian.AppendUint16(b, c.MinYieldBps)
	b = binary.LittleEndian.AppendUint64(b, uint64(c.CreatedAt))
	b = binary.LittleEndian.AppendUint64(b, uint64(c.UpdatedAt))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The variant is
// determined by the size of b.
func (c *Config) UnmarshalBinary(b []byte) error {
	if len(b) != OwnerConfigSize && len(b) != PositionConfigSize {
		return fmt.Errorf("invalid rebalance config size %d", len(b))
	}
	if [8]byte(b[:8]) != Discriminator {
		return fmt.Errorf("not a rebalance config")
	}
	b = b[8:]
	copy(c.Owner[:], b)
	b = b[poseidon.PubkeySize:]
	c.Position = nil
	if len(b) > OwnerConfigSize-8-poseidon.PubkeySize {
		var pos poseidon.Pubkey
		copy(pos[:], b)
		c.Position = &pos
		b = b[poseidon.PubkeySize:]
	}
	switch b[0] {
	case 0:
		c.Enabled = false
	case 1:
		c.Enabled = true
	default:
		return fmt.Errorf("invalid enabled flag %d", b[0])
	}
	c.MaxSlippageBps = binary.LittleEndian.Uint16(b[1:])
	c.MinYieldBps = binary.LittleEndian.Uint16(b[3:])
	c.CreatedAt = int64(binary.LittleEndian.Uint64(b[5:]))
	c.UpdatedAt = int64(binary.LittleEndian.Uint64(b[13:]))
	return nil
}
