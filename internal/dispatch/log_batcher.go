package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/logging"
	"github.com/novacore/novacore/internal/logsink"
)

const (
	defaultLogBatchSize     = 100
	defaultLogBufferSize    = 1000
	defaultLogFlushInterval = 500 * time.Millisecond
	defaultLogTimeout       = 5 * time.Second
	defaultLogMaxRetries    = 3
	defaultLogRetryInterval = 100 * time.Millisecond
)

// LogBatcherConfig controls the execution-log batcher's buffering and
// retry behavior.
type LogBatcherConfig struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// logBatcher buffers execution logs and flushes them in batches, retrying
// a bounded number of times with exponential backoff before dropping a
// batch with a local warning. This is how C1's "append_execution_log must
// never fail the caller" contract is actually honored end to end: the
// dispatcher enqueues and returns immediately, never blocking on the store.
type logBatcher struct {
	sink          logsink.LogSink
	logger        *slog.Logger
	logs          chan *domain.ExecutionLog
	flushInterval time.Duration
	batchSize     int
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	done          chan struct{}
}

func newLogBatcher(sink logsink.LogSink, cfg LogBatcherConfig) *logBatcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLogBatchSize
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultLogBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultLogFlushInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLogTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultLogMaxRetries
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultLogRetryInterval
	}

	b := &logBatcher{
		sink:          sink,
		logger:        logging.Op(),
		logs:          make(chan *domain.ExecutionLog, bufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		timeout:       timeout,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *logBatcher) Enqueue(log *domain.ExecutionLog) {
	select {
	case b.logs <- log:
	default:
		b.logger.Warn("dropping execution log due to full buffer", "execution_id", log.ID, "function_id", log.FunctionID)
	}
}

func (b *logBatcher) Shutdown(timeout time.Duration) {
	close(b.logs)
	select {
	case <-b.done:
		return
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for log batcher shutdown", "timeout", timeout)
	}
}

func (b *logBatcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*domain.ExecutionLog, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < b.maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			lastErr = b.sink.SaveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			b.logger.Warn("failed to persist execution logs, retrying",
				"error", lastErr, "count", len(batch), "attempt", attempt+1)
			time.Sleep(time.Duration(1<<uint(attempt)) * b.retryInterval)
		}
		if lastErr != nil {
			b.logger.Error("permanently failed to persist execution logs after retries",
				"error", lastErr, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-b.logs:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
