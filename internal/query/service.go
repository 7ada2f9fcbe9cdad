// internal/query/service.go
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"DegenVenue/internal/ledger"
	"DegenVenue/internal/observability"
)

// Service serves read-only queries from the projection tables and the
// command log. Projection reads lag the engine by design; AsOfSequence tells
// the caller how far behind.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

// GetBalance returns one owner's balance buckets for an asset.
func (s *Service) GetBalance(ctx context.Context, owner uuid.UUID, assetID uint8) (*BalanceResponse, error) {
	defer s.observe("get_balance", time.Now())

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	wallet, err := s.projectedBalance(ctx, ledger.UserAccount(owner, ledger.SubTypeWallet, assetID).Path())
	if err != nil {
		return nil, err
	}
	escrow, err := s.projectedBalance(ctx, ledger.UserAccount(owner, ledger.SubTypeOrderEscrow, assetID).Path())
	if err != nil {
		return nil, err
	}
	collateral, err := s.projectedBalance(ctx, ledger.UserAccount(owner, ledger.SubTypePositionCollateral, assetID).Path())
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Owner:              owner,
		AssetID:            int16(assetID),
		Wallet:             wallet,
		OrderEscrow:        escrow,
		PositionCollateral: collateral,
		Total:              wallet.Add(escrow).Add(collateral),
		AsOfSequence:       asOfSeq,
	}, nil
}

// GetPool returns the venue-side liquidity buckets for an asset.
func (s *Service) GetPool(ctx context.Context, assetID uint8) (*PoolResponse, error) {
	defer s.observe("get_pool", time.Now())

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PoolResponse{AssetID: int16(assetID), AsOfSequence: asOfSeq}
	buckets := []struct {
		subType ledger.AccountSubType
		dest    *decimal.Decimal
	}{
		{ledger.SubTypePoolLiquidity, &resp.PoolLiquidity},
		{ledger.SubTypeProtocolLiquidity, &resp.ProtocolLiquidity},
		{ledger.SubTypeRewardAccrual, &resp.RewardAccrual},
		{ledger.SubTypeFeeIncome, &resp.FeeIncome},
	}
	for _, b := range buckets {
		bal, err := s.projectedBalance(ctx, ledger.SystemAccount(b.subType, assetID).Path())
		if err != nil {
			return nil, err
		}
		*b.dest = bal
	}
	return resp, nil
}

// GetJournalHistory returns journal entries touching one owner's accounts,
// newest first. afterSequence is a cursor: pass the last sequence of the
// previous page, or nil for the first page.
func (s *Service) GetJournalHistory(ctx context.Context, owner uuid.UUID, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	defer s.observe("get_journal_history", time.Now())

	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM venue_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var amount string
		var journalType int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("journal %s amount: %w", e.JournalID, err)
		}
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity over the command log and the
// zero-sum invariant over the projected balances.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM venue_log.commands c1
		LEFT JOIN venue_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID int16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		imbalance, err := decimal.NewFromString(total)
		if err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: imbalance,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) projectedBalance(ctx context.Context, accountPath string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (s *Service) observe(name string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(name, "ok").Inc()
	s.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
