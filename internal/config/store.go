// internal/config/store.go
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store maps fixed-width keys to parameter values. Numeric parameters are
// 18-decimal fixed point; opaque parameters (oracle addresses, component ids)
// are raw 32-byte words. The venue core reads it; only governance writes.
type Store struct {
	decimals map[Key]decimal.Decimal
	words    map[Key][32]byte
}

func NewStore() *Store {
	return &Store{
		decimals: make(map[Key]decimal.Decimal),
		words:    make(map[Key][32]byte),
	}
}

// SetDecimal installs a numeric parameter.
func (s *Store) SetDecimal(k Key, v decimal.Decimal) {
	s.decimals[k] = v
}

// Decimal returns the numeric parameter, zero when unset.
func (s *Store) Decimal(k Key) decimal.Decimal {
	if v, ok := s.decimals[k]; ok {
		return v
	}
	return decimal.Zero
}

// DecimalOr returns the numeric parameter or def when unset.
func (s *Store) DecimalOr(k Key, def decimal.Decimal) decimal.Decimal {
	if v, ok := s.decimals[k]; ok {
		return v
	}
	return def
}

// Seconds reads a duration parameter stored as a whole number of seconds.
func (s *Store) Seconds(k Key) int64 {
	return s.Decimal(k).IntPart()
}

// SetWord installs an opaque parameter.
func (s *Store) SetWord(k Key, v [32]byte) {
	s.words[k] = v
}

// Word returns the opaque parameter and whether it was set.
func (s *Store) Word(k Key) ([32]byte, bool) {
	v, ok := s.words[k]
	return v, ok
}

// Export returns every parameter in hex-key string form for serialization.
// Decimal values serialize as decimal strings, words as hex.
func (s *Store) Export() (decimals map[string]string, words map[string]string) {
	decimals = make(map[string]string, len(s.decimals))
	for k, v := range s.decimals {
		decimals[hex.EncodeToString(k[:])] = v.String()
	}
	words = make(map[string]string, len(s.words))
	for k, v := range s.words {
		words[hex.EncodeToString(k[:])] = hex.EncodeToString(v[:])
	}
	return decimals, words
}

// Import replaces the store contents from Export's form.
func (s *Store) Import(decimals map[string]string, words map[string]string) error {
	s.decimals = make(map[Key]decimal.Decimal, len(decimals))
	s.words = make(map[Key][32]byte, len(words))
	for ks, vs := range decimals {
		k, err := keyFromHex(ks)
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(vs)
		if err != nil {
			return fmt.Errorf("config value for %s: %w", ks, err)
		}
		s.decimals[k] = v
	}
	for ks, vs := range words {
		k, err := keyFromHex(ks)
		if err != nil {
			return err
		}
		raw, err := hex.DecodeString(vs)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("config word for %s: bad hex", ks)
		}
		var w [32]byte
		copy(w[:], raw)
		s.words[k] = w
	}
	return nil
}

func keyFromHex(s string) (Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(Key{}) {
		return Key{}, fmt.Errorf("config key %q: bad hex", s)
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// Clone returns an independent copy, used by snapshot/restore.
func (s *Store) Clone() *Store {
	c := NewStore()
	for k, v := range s.decimals {
		c.decimals[k] = v
	}
	for k, v := range s.words {
		c.words[k] = v
	}
	return c
}
