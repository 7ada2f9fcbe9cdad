package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"DegenVenue/internal/core"
	"DegenVenue/internal/ledger"
	"DegenVenue/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently from the engine; the persist channel uses blocking sends, so
// when the worker falls behind the engine stalls instead of losing commands.
type Worker struct {
	writer       *CommandLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewCommandLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// rowsOf converts one engine output into its storage rows.
func rowsOf(output core.CoreOutput) (CommandRow, []JournalRow) {
	env := output.Envelope
	cmdRow := CommandRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}

	var journalRows []JournalRow
	if output.Batch != nil {
		journalRows = make([]JournalRow, 0, len(output.Batch.Journals))
		for _, j := range output.Batch.Journals {
			journalRows = append(journalRows, journalRowOf(j))
		}
	}
	return cmdRow, journalRows
}

func journalRowOf(j ledger.Journal) JournalRow {
	return JournalRow{
		JournalID:     j.JournalID.String(),
		BatchID:       j.BatchID.String(),
		EventRef:      j.EventRef,
		Sequence:      j.Sequence,
		DebitAccount:  j.DebitAccount.Path(),
		CreditAccount: j.CreditAccount.Path(),
		AssetID:       int16(j.AssetID),
		Amount:        j.Amount.String(),
		JournalType:   int32(j.JournalType),
		Timestamp:     j.Timestamp,
	}
}

// Run starts the worker loop. Outputs accumulate until the batch is full or
// the flush timeout expires; either way everything flushes in one
// transaction. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	commandBatch := make([]CommandRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(commandBatch) > 0 {
				if err := w.flush(context.Background(), commandBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(commandBatch) > 0 {
					if err := w.flush(context.Background(), commandBatch, journalBatch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			cmdRow, journalRows := rowsOf(output)
			commandBatch = append(commandBatch, cmdRow)
			journalBatch = append(journalBatch, journalRows...)

			if len(commandBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, commandBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				commandBatch = commandBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(commandBatch) > 0 {
				if err := w.flushWithRetry(ctx, commandBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				commandBatch = commandBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or the context is cancelled, and
// even then attempts one final flush so shutdown loses nothing.
func (w *Worker) flushWithRetry(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("commands", len(commands)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), commands, journals); err != nil {
					return err
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, commands, journals)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_commands").Inc()
		}
		return err
	}

	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_journals").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(commands)))
		w.metrics.PersistEventsWritten.Add(float64(len(commands)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(commands) > 0 {
			w.metrics.PersistLastSequence.Set(float64(commands[len(commands)-1].Sequence))
		}
	}

	return nil
}

// Writer exposes the underlying writer for replay tooling.
func (w *Worker) Writer() *CommandLogWriter {
	return w.writer
}
