package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"DegenVenue/internal/event"
)

// ParseRawCommand converts a RawCommand into a typed event.Command. The shell
// validates identity fields here; amount and price validation belongs to the
// engine so the rules live in exactly one place.
func ParseRawCommand(raw RawCommand) (event.Command, error) {
	switch raw.CommandType {
	case "PlacePositionOrder":
		return parseInto(raw.Data, &event.PlacePositionOrder{}, func(c *event.PlacePositionOrder) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "PlaceLiquidityOrder":
		return parseInto(raw.Data, &event.PlaceLiquidityOrder{}, func(c *event.PlaceLiquidityOrder) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "PlaceWithdrawalOrder":
		return parseInto(raw.Data, &event.PlaceWithdrawalOrder{}, func(c *event.PlaceWithdrawalOrder) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "CancelOrder":
		return parseInto(raw.Data, &event.CancelOrder{}, func(c *event.CancelOrder) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "FillOrder":
		return parseInto(raw.Data, &event.FillOrder{}, func(c *event.FillOrder) error {
			if err := requireIDs(c.CommandID, c.Broker); err != nil {
				return err
			}
			return c.Prices.Validate()
		})
	case "Liquidate":
		return parseInto(raw.Data, &event.Liquidate{}, func(c *event.Liquidate) error {
			if err := requireIDs(c.CommandID, c.Broker); err != nil {
				return err
			}
			return c.Prices.Validate()
		})
	case "ForceAdl":
		return parseInto(raw.Data, &event.ForceAdl{}, func(c *event.ForceAdl) error {
			if err := requireIDs(c.CommandID, c.Broker); err != nil {
				return err
			}
			return c.Prices.Validate()
		})
	case "UpdateFunding":
		return parseInto(raw.Data, &event.UpdateFunding{}, func(c *event.UpdateFunding) error {
			return requireIDs(c.CommandID)
		})
	case "Deposit":
		return parseInto(raw.Data, &event.Deposit{}, func(c *event.Deposit) error {
			if err := requireIDs(c.TransferID, c.Owner); err != nil {
				return err
			}
			if !c.Amount.IsPositive() {
				return fmt.Errorf("amount must be positive, got %s", c.Amount)
			}
			return nil
		})
	case "Withdraw":
		return parseInto(raw.Data, &event.Withdraw{}, func(c *event.Withdraw) error {
			if err := requireIDs(c.TransferID, c.Owner); err != nil {
				return err
			}
			if !c.Amount.IsPositive() {
				return fmt.Errorf("amount must be positive, got %s", c.Amount)
			}
			return nil
		})
	case "DepositCollateral":
		return parseInto(raw.Data, &event.DepositCollateral{}, func(c *event.DepositCollateral) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "WithdrawAllCollateral":
		return parseInto(raw.Data, &event.WithdrawAllCollateral{}, func(c *event.WithdrawAllCollateral) error {
			return requireIDs(c.CommandID, c.Caller)
		})
	case "SetConfig":
		return parseInto(raw.Data, &event.SetConfig{}, func(c *event.SetConfig) error {
			if err := requireIDs(c.CommandID); err != nil {
				return err
			}
			if c.Name == "" {
				return fmt.Errorf("config name is empty")
			}
			return nil
		})
	case "SetAsset":
		return parseInto(raw.Data, &event.SetAsset{}, func(c *event.SetAsset) error {
			if err := requireIDs(c.CommandID); err != nil {
				return err
			}
			if c.Params.Symbol == "" {
				return fmt.Errorf("asset symbol is empty")
			}
			return nil
		})
	case "SetBroker":
		return parseInto(raw.Data, &event.SetBroker{}, func(c *event.SetBroker) error {
			return requireIDs(c.CommandID, c.Broker)
		})
	default:
		return nil, fmt.Errorf("unknown command type: %s", raw.CommandType)
	}
}

// parseInto unmarshals data into cmd and runs the type's validation hook.
func parseInto[T event.Command](data []byte, cmd T, validate func(T) error) (event.Command, error) {
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cmd.CommandType(), err)
	}
	if err := validate(cmd); err != nil {
		return nil, fmt.Errorf("validate %s: %w", cmd.CommandType(), err)
	}
	return cmd, nil
}

// requireIDs rejects zero UUIDs in identity fields. A zero command id breaks
// idempotency; a zero caller breaks authorization.
func requireIDs(ids ...uuid.UUID) error {
	for i, id := range ids {
		if id == uuid.Nil {
			return fmt.Errorf("identity field %d is the zero uuid", i)
		}
	}
	return nil
}
