// internal/state/subaccount.go
package state

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SubAccountID identifies a trader's isolated margin position: one position
// per (owner, collateral asset, underlying asset, direction) tuple. The id is
// derived, never stored independently.
type SubAccountID struct {
	Owner        uuid.UUID `json:"owner"`
	CollateralID uint8     `json:"collateral_id"`
	AssetID      uint8     `json:"asset_id"`
	IsLong       bool      `json:"is_long"`
}

// Encode packs the id into 32 bytes: 16 owner bytes, collateral id, asset id,
// direction byte, 13 zero bytes of padding.
func (s SubAccountID) Encode() [32]byte {
	var out [32]byte
	copy(out[:16], s.Owner[:])
	out[16] = s.CollateralID
	out[17] = s.AssetID
	if s.IsLong {
		out[18] = 1
	}
	return out
}

// DecodeSubAccountID unpacks a 32-byte id, rejecting nonzero padding and
// malformed direction bytes.
func DecodeSubAccountID(raw [32]byte) (SubAccountID, error) {
	if raw[18] > 1 {
		return SubAccountID{}, fmt.Errorf("subaccount: bad direction byte %d", raw[18])
	}
	for i := 19; i < 32; i++ {
		if raw[i] != 0 {
			return SubAccountID{}, fmt.Errorf("subaccount: nonzero padding at byte %d", i)
		}
	}
	var owner uuid.UUID
	copy(owner[:], raw[:16])
	return SubAccountID{
		Owner:        owner,
		CollateralID: raw[16],
		AssetID:      raw[17],
		IsLong:       raw[18] == 1,
	}, nil
}

func (s SubAccountID) String() string {
	raw := s.Encode()
	return hex.EncodeToString(raw[:])
}
