// internal/projection/worker.go
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"DegenVenue/internal/core"
	"DegenVenue/internal/ledger"
	"DegenVenue/internal/observability"
)

// Worker updates the projection tables from applied commands. The projection
// channel is non-blocking with drop: a missed update leaves the tables stale,
// never wrong, and Rebuild recovers them from the journal log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	lastSeq   int64
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run consumes applied commands until the context is cancelled or the channel
// closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent; the command log is
				// the source of truth and Rebuild catches the tables up.
				w.log.Warn().
					Int64("sequence", output.Envelope.Sequence).
					Err(err).
					Msg("projection update failed")
			}
			w.lastSeq = output.Envelope.Sequence
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}
		}
	}
}

// LastSequence returns the highest sequence the worker has consumed.
func (w *Worker) LastSequence() int64 { return w.lastSeq }

func (w *Worker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := w.applyJournal(ctx, tx, seq, j); err != nil {
				return fmt.Errorf("journal projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) applyJournal(ctx context.Context, tx *sql.Tx, seq int64, j ledger.Journal) error {
	amount := j.Amount.String()
	debitPath := j.DebitAccount.Path()
	creditPath := j.CreditAccount.Path()

	// Amount moves credit -> debit.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
	`, debitPath, int16(j.AssetID), amount, seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::NUMERIC, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC, last_sequence = $4
	`, creditPath, int16(j.AssetID), amount, seq); err != nil {
		return err
	}

	switch j.JournalType {
	case ledger.JournalTypeFundingFee:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.funding_history
				(journal_id, sequence, account_path, asset_id, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
			ON CONFLICT (journal_id) DO NOTHING
		`, j.JournalID, seq, creditPath, int16(j.AssetID), amount, j.Timestamp); err != nil {
			return err
		}
	case ledger.JournalTypePositionFee, ledger.JournalTypeLiquidityFee,
		ledger.JournalTypeLiquidationFee, ledger.JournalTypeFeeSplitPool,
		ledger.JournalTypeFeeSplitProtocol, ledger.JournalTypeFeeSplitReward,
		ledger.JournalTypeReferralDiscount, ledger.JournalTypeReferralRebate:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.fee_history
				(journal_id, sequence, fee_type, account_path, asset_id, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
			ON CONFLICT (journal_id) DO NOTHING
		`, j.JournalID, seq, j.JournalType.String(), creditPath, int16(j.AssetID), amount, j.Timestamp); err != nil {
			return err
		}
	}

	return nil
}

// Rebuild reconstructs the projection tables from the journal log. Safe to run
// while the venue is stopped; the worker resumes from the rebuilt watermark.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.fee_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit side gains.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT debit_account, asset_id, SUM(amount), MAX(sequence)
		FROM venue_log.journal
		GROUP BY debit_account, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credit side loses.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT credit_account, asset_id, -SUM(amount), MAX(sequence)
		FROM venue_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`); err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(journal_id, sequence, account_path, asset_id, amount, timestamp)
		SELECT journal_id, sequence, credit_account, asset_id, amount, timestamp
		FROM venue_log.journal
		WHERE journal_type = $1
		ON CONFLICT (journal_id) DO NOTHING
	`, int32(ledger.JournalTypeFundingFee)); err != nil {
		return fmt.Errorf("rebuild funding history: %w", err)
	}

	feeTypes := []ledger.JournalType{
		ledger.JournalTypePositionFee, ledger.JournalTypeLiquidityFee,
		ledger.JournalTypeLiquidationFee, ledger.JournalTypeFeeSplitPool,
		ledger.JournalTypeFeeSplitProtocol, ledger.JournalTypeFeeSplitReward,
		ledger.JournalTypeReferralDiscount, ledger.JournalTypeReferralRebate,
	}
	for _, ft := range feeTypes {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO projections.fee_history
				(journal_id, sequence, fee_type, account_path, asset_id, amount, timestamp)
			SELECT journal_id, sequence, $2, credit_account, asset_id, amount, timestamp
			FROM venue_log.journal
			WHERE journal_type = $1
			ON CONFLICT (journal_id) DO NOTHING
		`, int32(ft), ft.String()); err != nil {
			return fmt.Errorf("rebuild fee history: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM venue_log.journal
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log := observability.NewLogger("projection")
	log.Info().Msg("projection rebuild complete")
	return nil
}
