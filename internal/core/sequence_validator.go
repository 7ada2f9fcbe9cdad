package core

import (
	"fmt"
	"strings"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe — only accessed from the single-threaded engine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering. Funding partitions are
// gap-tolerant: a skipped tick is caught up by the next one, so only stale
// delivery is screened out there.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	if strings.HasPrefix(partition, "funding:") {
		return sv.validateTolerant(partition, sourceSequence)
	}

	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, redelivery is fine
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// validateTolerant accepts gaps and silently skips stale sequences.
func (sv *SequenceValidator) validateTolerant(partition string, sourceSequence int64) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence <= expected {
		// Stale - silently ignore (idempotent)
		return nil
	}
	if sourceSequence > expected+1 {
		sv.metrics.RecordTolerantGap(partition, expected, sourceSequence)
	}
	sv.expectedNextSeq[partition] = sourceSequence + 1
	return nil
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition initializes an expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns every partition's next expected sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded engine.
type SequenceMetrics struct {
	gaps         map[string]int64 // partition -> gap count
	outOfOrder   map[string]int64 // partition -> out-of-order count
	tolerantGaps map[string]int64 // gap-tolerant partition -> gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:         make(map[string]int64),
		outOfOrder:   make(map[string]int64),
		tolerantGaps: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordTolerantGap(partition string, expected, got int64) {
	m.tolerantGaps[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetTolerantGaps(partition string) int64 {
	return m.tolerantGaps[partition]
}
