// Package logsink abstracts execution-log persistence so the dispatcher's
// log batcher writes through an interface rather than depending on
// internal/store directly. The default sink is Postgres via the metadata
// store; NoopSink and MultiSink exist for tests and fan-out respectively.
package logsink

import (
	"context"

	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/store"
)

// LogSink abstracts the destination for execution logs. Implementations
// must be safe for concurrent use.
type LogSink interface {
	SaveBatch(ctx context.Context, logs []*domain.ExecutionLog) error
	Close() error
}

// PostgresSink writes execution logs through the MetadataStore. There is
// no bulk-insert path on MetadataStore (C1 only names a single-record
// append), so a batch is a sequence of individual appends sharing one
// context; the batching value is in the caller's buffering/retry layer,
// not a single round trip.
type PostgresSink struct {
	store *store.Store
}

func NewPostgresSink(s *store.Store) *PostgresSink {
	return &PostgresSink{store: s}
}

func (s *PostgresSink) SaveBatch(ctx context.Context, logs []*domain.ExecutionLog) error {
	var firstErr error
	for _, log := range logs {
		if err := s.store.AppendExecutionLog(ctx, log); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *PostgresSink) Close() error { return nil }

// MultiSink fans out log writes to multiple sinks, e.g. Postgres plus an
// external analytics sink during a migration period.
type MultiSink struct {
	sinks []LogSink
}

func NewMultiSink(primary LogSink, secondary ...LogSink) *MultiSink {
	sinks := make([]LogSink, 0, 1+len(secondary))
	sinks = append(sinks, primary)
	sinks = append(sinks, secondary...)
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) SaveBatch(ctx context.Context, logs []*domain.ExecutionLog) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.SaveBatch(ctx, logs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoopSink discards all logs.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) SaveBatch(_ context.Context, _ []*domain.ExecutionLog) error { return nil }
func (n *NoopSink) Close() error                                                { return nil }
