package metadata

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// SpecVersion is the only fungible-token metadata spec accepted.
const SpecVersion = "ft-1.0.0"

var (
	// ErrMetadataUnset is returned by Get when no metadata was ever stored
	// for an asset. Callers treat it as an operator-visible misconfiguration.
	ErrMetadataUnset = errors.New("metadata is not set")
	// ErrAlreadySet is returned when metadata for an asset is stored twice.
	ErrAlreadySet = errors.New("metadata is already set")
)

// Metadata is the descriptive information of a fungible asset.
type Metadata struct {
	Spec          string `codec:"spec" json:"spec"`
	Name          string `codec:"name" json:"name"`
	Symbol        string `codec:"symbol" json:"symbol"`
	Icon          string `codec:"icon,omitempty" json:"icon,omitempty"`
	Reference     string `codec:"reference,omitempty" json:"reference,omitempty"`
	ReferenceHash []byte `codec:"reference_hash,omitempty" json:"reference_hash,omitempty"`
	Decimals      uint8  `codec:"decimals" json:"decimals"`
}

// Validate applies the fungible-token metadata rules.
func (m Metadata) Validate() error {
	if m.Spec != SpecVersion {
		return fmt.Errorf("unsupported metadata spec %q, expected %q", m.Spec, SpecVersion)
	}
	if m.Name == "" {
		return errors.New("metadata name is empty")
	}
	if m.Symbol == "" {
		return errors.New("metadata symbol is empty")
	}
	if (m.Reference == "") != (len(m.ReferenceHash) == 0) {
		return errors.New("metadata reference and reference hash must be set together")
	}
	if len(m.ReferenceHash) != 0 && len(m.ReferenceHash) != 32 {
		return fmt.Errorf("metadata reference hash must be 32 bytes, got %d", len(m.ReferenceHash))
	}
	return nil
}

// FormatAmount renders a raw integer amount in whole units, e.g. 12345 with
// 2 decimals becomes "123.45".
func (m Metadata) FormatAmount(amount *uint256.Int) string {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(m.Decimals)).String()
}

// Cache holds the metadata of the pool's assets. Each entry is written at
// most once; failed fetches are remembered so they can be reported.
type Cache struct {
	mu       sync.RWMutex
	entries  map[common.Address]Metadata
	failures map[common.Address]error
}

func NewCache() *Cache {
	return &Cache{
		entries:  make(map[common.Address]Metadata),
		failures: make(map[common.Address]error),
	}
}

// Set stores validated metadata for asset.
func (c *Cache) Set(asset common.Address, m Metadata) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[asset]; ok {
		return fmt.Errorf("asset %s: %w", asset.Hex(), ErrAlreadySet)
	}
	c.entries[asset] = m
	delete(c.failures, asset)
	return nil
}

// MarkFailed records why the metadata of asset could not be fetched.
func (c *Cache) MarkFailed(asset common.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[asset]; ok {
		return
	}
	c.failures[asset] = err
}

// Get returns the metadata of asset or an error wrapping ErrMetadataUnset.
func (c *Cache) Get(asset common.Address) (Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[asset]
	if !ok {
		if cause, failed := c.failures[asset]; failed {
			return Metadata{}, fmt.Errorf("asset %s: %w (fetch failed: %v)", asset.Hex(), ErrMetadataUnset, cause)
		}
		return Metadata{}, fmt.Errorf("asset %s: %w", asset.Hex(), ErrMetadataUnset)
	}
	return m, nil
}

// FetchError returns the recorded fetch failure for asset, or nil.
func (c *Cache) FetchError(asset common.Address) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failures[asset]
}

// Entries returns a copy of all stored metadata.
func (c *Cache) Entries() map[common.Address]Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[common.Address]Metadata, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
