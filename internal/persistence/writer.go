package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CommandLogWriter writes applied commands and their journals to Postgres
// using multi-row INSERTs. Writes are idempotent: replays hit the conflict
// clause and fall through.
type CommandLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// execer abstracts *sql.DB and *sql.Tx so batch writes run inside the
// worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CommandRow is a row in venue_log.commands.
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64
	SourceSequence int64
}

// JournalRow is a row in venue_log.journal. Amounts are 18-decimal strings;
// Postgres stores them as NUMERIC so nothing is lost in transit.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       int16
	Amount        string
	JournalType   int32
	Timestamp     int64
}

func NewCommandLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *CommandLogWriter {
	return &CommandLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteCommandBatch writes a batch of commands to venue_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO venue_log.commands
		(sequence, command_type, idempotency_key, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*8)

	for i, c := range commands {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.Payload,
			c.StateHash, c.PrevHash, c.Timestamp, c.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to venue_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO venue_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
