package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"DegenVenue/internal/event"
	"DegenVenue/internal/ingestion"
)

func rawFromJSON(t *testing.T, commandType string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:     "test",
		CommandType: commandType,
		Data:        data,
		Received:    time.Now(),
		AckFunc:     func() {},
		NakFunc:     func() {},
	}
}

func TestParsePlacePositionOrder(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"caller":     "660e8400-e29b-41d4-a716-446655440001",
		"payload": map[string]interface{}{
			"sub_account": map[string]interface{}{
				"owner":         "660e8400-e29b-41d4-a716-446655440001",
				"collateral_id": 0,
				"asset_id":      3,
				"is_long":       true,
			},
			"collateral_delta": "1000",
			"size_delta":       "1",
			"flags":            192, // open | market
		},
		"sequence":  int64(7),
		"timestamp": int64(1700000000),
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "PlacePositionOrder", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	place, ok := cmd.(*event.PlacePositionOrder)
	if !ok {
		t.Fatalf("expected *event.PlacePositionOrder, got %T", cmd)
	}
	if place.Payload.SubAccount.AssetID != 3 {
		t.Errorf("asset id: got %d, want 3", place.Payload.SubAccount.AssetID)
	}
	if !place.Payload.SubAccount.IsLong {
		t.Error("expected long position")
	}
	if place.Payload.SizeDelta.String() != "1" {
		t.Errorf("size delta: got %s, want 1", place.Payload.SizeDelta)
	}
	if place.SourceSequence() != 7 {
		t.Errorf("sequence: got %d, want 7", place.SourceSequence())
	}
	if place.Partition() != event.PartitionOrders {
		t.Errorf("partition: got %s", place.Partition())
	}
}

func TestParseFillOrder(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"broker":     "660e8400-e29b-41d4-a716-446655440001",
		"order_id":   int64(12),
		"price":      "2001",
		"prices": map[string]interface{}{
			"collateral": "1",
			"asset":      "2000",
			"profit":     "1",
		},
		"sequence":  int64(3),
		"timestamp": int64(1700000000),
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "FillOrder", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fill, ok := cmd.(*event.FillOrder)
	if !ok {
		t.Fatalf("expected *event.FillOrder, got %T", cmd)
	}
	if fill.OrderID != 12 {
		t.Errorf("order id: got %d, want 12", fill.OrderID)
	}
	if fill.Price.String() != "2001" {
		t.Errorf("trading price: got %s, want 2001", fill.Price)
	}
	if fill.Prices.Asset.String() != "2000" {
		t.Errorf("asset price: got %s, want 2000", fill.Prices.Asset)
	}
}

func TestParseFillOrder_RejectsBadPrices(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"broker":     "660e8400-e29b-41d4-a716-446655440001",
		"order_id":   int64(12),
		"prices": map[string]interface{}{
			"collateral": "1",
			"asset":      "0",
			"profit":     "1",
		},
		"sequence":  int64(3),
		"timestamp": int64(1700000000),
	}

	if _, err := ingestion.ParseRawCommand(rawFromJSON(t, "FillOrder", payload)); err == nil {
		t.Fatal("expected rejection for zero asset price")
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id": "550e8400-e29b-41d4-a716-446655440000",
		"owner":       "660e8400-e29b-41d4-a716-446655440001",
		"asset_id":    0,
		"amount":      "1000.5",
		"sequence":    int64(1),
		"timestamp":   int64(1700000000),
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "Deposit", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", cmd)
	}
	if dep.Amount.String() != "1000.5" {
		t.Errorf("amount: got %s, want 1000.5", dep.Amount)
	}
	if dep.Partition() != event.PartitionTransfers {
		t.Errorf("partition: got %s", dep.Partition())
	}
	if dep.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", dep.IdempotencyKey())
	}
}

func TestParseDeposit_RejectsNonPositiveAmount(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id": "550e8400-e29b-41d4-a716-446655440000",
		"owner":       "660e8400-e29b-41d4-a716-446655440001",
		"asset_id":    0,
		"amount":      "-5",
		"sequence":    int64(1),
		"timestamp":   int64(1700000000),
	}

	if _, err := ingestion.ParseRawCommand(rawFromJSON(t, "Deposit", payload)); err == nil {
		t.Fatal("expected rejection for negative amount")
	}
}

func TestParseUpdateFunding_Partition(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"asset_id":   3,
		"sequence":   int64(9),
		"timestamp":  int64(1700003600),
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "UpdateFunding", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Partition() != "funding:3" {
		t.Errorf("partition: got %s, want funding:3", cmd.Partition())
	}
}

func TestParse_RejectsZeroIdentity(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "00000000-0000-0000-0000-000000000000",
		"caller":     "660e8400-e29b-41d4-a716-446655440001",
		"order_id":   int64(1),
		"sequence":   int64(0),
		"timestamp":  int64(1700000000),
	}

	if _, err := ingestion.ParseRawCommand(rawFromJSON(t, "CancelOrder", payload)); err == nil {
		t.Fatal("expected rejection for zero command id")
	}
}

func TestParse_UnknownTypeRejected(t *testing.T) {
	raw := rawFromJSON(t, "Nonsense", map[string]interface{}{})
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected unknown command type error")
	}
}

func TestParse_MalformedJSONRejected(t *testing.T) {
	raw := ingestion.RawCommand{
		Subject:     "test",
		CommandType: "Deposit",
		Data:        []byte("{not json"),
		Received:    time.Now(),
	}
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseSetBroker(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"broker":     "770e8400-e29b-41d4-a716-446655440002",
		"enable":     true,
		"sequence":   int64(0),
		"timestamp":  int64(1700000000),
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "SetBroker", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	sb, ok := cmd.(*event.SetBroker)
	if !ok {
		t.Fatalf("expected *event.SetBroker, got %T", cmd)
	}
	if !sb.Enable {
		t.Error("expected enable=true")
	}
	if cmd.Partition() != event.PartitionAdmin {
		t.Errorf("partition: got %s", cmd.Partition())
	}
}
