package event

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypePlacePositionOrder
	CommandTypePlaceLiquidityOrder
	CommandTypePlaceWithdrawalOrder
	CommandTypeCancelOrder
	CommandTypeFillOrder
	CommandTypeLiquidate
	CommandTypeForceAdl
	CommandTypeUpdateFunding
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeDepositCollateral
	CommandTypeWithdrawAllCollateral
	CommandTypeSetConfig
	CommandTypeSetAsset
	CommandTypeSetBroker
)

// Partition names for sequence validation. Each upstream stream carries its
// own contiguous source sequence.
const (
	PartitionOrders    = "orders"
	PartitionTransfers = "transfers"
	PartitionAdmin     = "admin"
)

// CommandEnvelope wraps every applied command in the log
type CommandEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Versioned input timestamp in unix seconds (NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command payload
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all inbound payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Partition returns the upstream ordering partition
	Partition() string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// EventTime returns the versioned timestamp, unix seconds
	EventTime() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypePlacePositionOrder:
		return "PlacePositionOrder"
	case CommandTypePlaceLiquidityOrder:
		return "PlaceLiquidityOrder"
	case CommandTypePlaceWithdrawalOrder:
		return "PlaceWithdrawalOrder"
	case CommandTypeCancelOrder:
		return "CancelOrder"
	case CommandTypeFillOrder:
		return "FillOrder"
	case CommandTypeLiquidate:
		return "Liquidate"
	case CommandTypeForceAdl:
		return "ForceAdl"
	case CommandTypeUpdateFunding:
		return "UpdateFunding"
	case CommandTypeDeposit:
		return "Deposit"
	case CommandTypeWithdraw:
		return "Withdraw"
	case CommandTypeDepositCollateral:
		return "DepositCollateral"
	case CommandTypeWithdrawAllCollateral:
		return "WithdrawAllCollateral"
	case CommandTypeSetConfig:
		return "SetConfig"
	case CommandTypeSetAsset:
		return "SetAsset"
	case CommandTypeSetBroker:
		return "SetBroker"
	default:
		return "Unknown"
	}
}
