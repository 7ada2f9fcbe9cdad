// internal/persistence/snapshot.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/book"
	"DegenVenue/internal/config"
	"DegenVenue/internal/core"
	"DegenVenue/internal/ledger"
	"DegenVenue/internal/state"
)

// SnapshotManager creates and loads engine state snapshots. On warm restart
// the caller loads the latest verified snapshot, restores the engine, then
// replays the command log from snapshot.Sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of the engine's full in-memory state.
// Balances are keyed by account path; decimals travel as strings.
type SnapshotData struct {
	Sequence      int64  `json:"sequence"`
	StateHash     []byte `json:"state_hash"`
	BatchSequence int64  `json:"batch_sequence"`

	Balances    map[string]string     `json:"balances"`
	Positions   []state.PositionEntry `json:"positions"`
	Assets      []*state.Asset        `json:"assets"`
	ShareSupply decimal.Decimal       `json:"share_supply"`
	Orders      []book.Order          `json:"orders"`
	Brokers     []uuid.UUID           `json:"brokers"`

	ConfigDecimals map[string]string `json:"config_decimals"`
	ConfigWords    map[string]string `json:"config_words"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	CreatedAt       time.Time        `json:"created_at"`
}

// FromEngineState converts the engine's snapshot into serializable form.
func FromEngineState(s *core.SnapshotState, now time.Time) *SnapshotData {
	balances := make(map[string]string, len(s.Balances))
	for key, bal := range s.Balances {
		balances[key.Path()] = bal.String()
	}
	cfgDecimals, cfgWords := s.Config.Export()

	return &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       s.StateHash[:],
		BatchSequence:   s.BatchSequence,
		Balances:        balances,
		Positions:       s.Positions,
		Assets:          s.Assets,
		ShareSupply:     s.ShareSupply,
		Orders:          s.Orders,
		Brokers:         s.Brokers,
		ConfigDecimals:  cfgDecimals,
		ConfigWords:     cfgWords,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       now,
	}
}

// ToEngineState converts back into the form the engine restores from.
func (d *SnapshotData) ToEngineState() (*core.SnapshotState, error) {
	balances := make(map[ledger.AccountKey]decimal.Decimal, len(d.Balances))
	for path, raw := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance: %w", err)
		}
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance %s: %w", path, err)
		}
		balances[key] = bal
	}

	cfg := config.NewStore()
	if err := cfg.Import(d.ConfigDecimals, d.ConfigWords); err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}

	var hash [32]byte
	if len(d.StateHash) != len(hash) {
		return nil, fmt.Errorf("snapshot state hash: got %d bytes", len(d.StateHash))
	}
	copy(hash[:], d.StateHash)

	return &core.SnapshotState{
		Sequence:        d.Sequence,
		StateHash:       hash,
		BatchSequence:   d.BatchSequence,
		Balances:        balances,
		Positions:       d.Positions,
		Assets:          d.Assets,
		ShareSupply:     d.ShareSupply,
		Orders:          d.Orders,
		Brokers:         d.Brokers,
		Config:          cfg,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns the encoded size in bytes.
// Snapshots are written unverified; the caller flips the flag after the
// snapshot is known to match live state.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO venue_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when the
// log has none and the caller must cold-start from sequence zero.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM venue_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after the integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE venue_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads applied commands from a given sequence for replay.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM venue_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.Payload,
			&c.StateHash, &c.PrevHash, &c.Timestamp, &c.SourceSequence,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM venue_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
