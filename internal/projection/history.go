// internal/projection/history.go
package projection

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingEntry is one funding charge against a position's collateral. Amount
// is positive; the account paid it to the pool.
type FundingEntry struct {
	JournalID   uuid.UUID       `json:"journal_id"`
	Sequence    int64           `json:"sequence"`
	AccountPath string          `json:"account_path"`
	AssetID     int16           `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   int64           `json:"timestamp"`
}

// FeeEntry is one fee charge, labeled with its journal type.
type FeeEntry struct {
	JournalID   uuid.UUID       `json:"journal_id"`
	Sequence    int64           `json:"sequence"`
	FeeType     string          `json:"fee_type"`
	AccountPath string          `json:"account_path"`
	AssetID     int16           `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   int64           `json:"timestamp"`
}

// HistoryReader serves funding and fee history from the projection tables.
type HistoryReader struct {
	db *sql.DB
}

func NewHistoryReader(db *sql.DB) *HistoryReader {
	return &HistoryReader{db: db}
}

// FundingByAccount returns the most recent funding charges for an account
// path, newest first.
func (r *HistoryReader) FundingByAccount(ctx context.Context, accountPath string, limit int) ([]FundingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT journal_id, sequence, account_path, asset_id, amount, timestamp
		FROM projections.funding_history
		WHERE account_path = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, accountPath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FundingEntry
	for rows.Next() {
		var e FundingEntry
		var amount string
		if err := rows.Scan(&e.JournalID, &e.Sequence, &e.AccountPath, &e.AssetID, &amount, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FeesByAccount returns the most recent fee charges for an account path,
// newest first, optionally filtered by fee type.
func (r *HistoryReader) FeesByAccount(ctx context.Context, accountPath, feeType string, limit int) ([]FeeEntry, error) {
	query := `
		SELECT journal_id, sequence, fee_type, account_path, asset_id, amount, timestamp
		FROM projections.fee_history
		WHERE account_path = $1 AND ($2 = '' OR fee_type = $2)
		ORDER BY sequence DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, accountPath, feeType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FeeEntry
	for rows.Next() {
		var e FeeEntry
		var amount string
		if err := rows.Scan(&e.JournalID, &e.Sequence, &e.FeeType, &e.AccountPath, &e.AssetID, &amount, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
