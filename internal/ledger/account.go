// internal/ledger/account.go
package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AccountScope is the top-level account namespace.
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType is the account purpose within a scope.
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeOrderEscrow
	SubTypePositionCollateral

	// System sub-types
	SubTypePoolLiquidity
	SubTypePoolShares
	SubTypeProtocolLiquidity
	SubTypeRewardAccrual
	SubTypeFeeIncome

	// External sub-types
	SubTypeExternalCustody
)

// AccountKey identifies one balance bucket: scope, owning entity, purpose,
// asset. Asset ids are the registry's uint8 ids; pool shares use ShareAssetID.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // owner UUID for users, zero for system/external
	SubType  AccountSubType
	AssetID  uint8
}

// ShareAssetID is the pseudo-asset id for pool shares. The registry never
// assigns it to a real asset.
const ShareAssetID uint8 = 0xff

// UserAccount builds a key into a trader's balance buckets.
func UserAccount(owner uuid.UUID, subType AccountSubType, assetID uint8) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// SystemAccount builds a key into the venue's own buckets.
func SystemAccount(subType AccountSubType, assetID uint8) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// ExternalAccount is the custody boundary: every unit inside the venue is
// balanced by a credit here.
func ExternalAccount(assetID uint8) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalCustody,
		AssetID: assetID,
	}
}

// Path returns the string form used in storage and logs.
func (k AccountKey) Path() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%d", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%d", k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

// ParseAccountPath inverts Path. Snapshot and projection rows store keys in
// path form, so restore goes through here.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		sub, err := subTypeFromName(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		asset, err := strconv.ParseUint(parts[3], 10, 8)
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return UserAccount(uid, sub, uint8(asset)), nil
	case len(parts) == 3 && (parts[0] == "system" || parts[0] == "external"):
		sub, err := subTypeFromName(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		asset, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		if parts[0] == "external" {
			return ExternalAccount(uint8(asset)), nil
		}
		return SystemAccount(sub, uint8(asset)), nil
	}
	return AccountKey{}, fmt.Errorf("account path %q: unrecognized form", path)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeOrderEscrow:
		return "order_escrow"
	case SubTypePositionCollateral:
		return "position_collateral"
	case SubTypePoolLiquidity:
		return "pool_liquidity"
	case SubTypePoolShares:
		return "pool_shares"
	case SubTypeProtocolLiquidity:
		return "protocol_liquidity"
	case SubTypeRewardAccrual:
		return "reward_accrual"
	case SubTypeFeeIncome:
		return "fee_income"
	case SubTypeExternalCustody:
		return "custody"
	default:
		return "unknown"
	}
}

func subTypeFromName(name string) (AccountSubType, error) {
	switch name {
	case "wallet":
		return SubTypeWallet, nil
	case "order_escrow":
		return SubTypeOrderEscrow, nil
	case "position_collateral":
		return SubTypePositionCollateral, nil
	case "pool_liquidity":
		return SubTypePoolLiquidity, nil
	case "pool_shares":
		return SubTypePoolShares, nil
	case "protocol_liquidity":
		return SubTypeProtocolLiquidity, nil
	case "reward_accrual":
		return SubTypeRewardAccrual, nil
	case "fee_income":
		return SubTypeFeeIncome, nil
	case "custody":
		return SubTypeExternalCustody, nil
	}
	return 0, fmt.Errorf("unknown account sub-type %q", name)
}
