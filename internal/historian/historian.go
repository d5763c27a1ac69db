// Package historian drains the event journal into the database in batches.
package historian

import (
	"context"
	"errors"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields journal records. Pop returns (nil, nil) when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.EventRecord, error)
}

// Sink persists a batch of records atomically.
type Sink interface {
	InsertEvents(ctx context.Context, records []models.EventRecord) error
}

// Service pops records from a Source and flushes them to a Sink once the
// batch is full or FlushDelay has passed since the last flush.
type Service struct {
	source Source
	sink   Sink
	logger *logrus.Logger

	BatchSize  int
	FlushDelay time.Duration
	// MaxRetries bounds how often a failing batch is retried before it is
	// dropped.
	MaxRetries int

	batch    []models.EventRecord
	failures int
}

func NewService(source Source, sink Sink, logger *logrus.Logger) *Service {
	return &Service{
		source:     source,
		sink:       sink,
		logger:     logger,
		BatchSize:  20,
		FlushDelay: 500 * time.Millisecond,
		MaxRetries: 5,
	}
}

// Run processes records until ctx is done, then flushes what is left.
func (hs *Service) Run(ctx context.Context) {
	if hs.BatchSize < 1 {
		hs.BatchSize = 1
	}
	hs.logger.Infof("historian started (batch %d, flush %s)", hs.BatchSize, hs.FlushDelay)
	lastFlush := time.Now()

	for ctx.Err() == nil {
		rec, err := hs.source.Pop(ctx, hs.FlushDelay)
		switch {
		case err != nil && ctx.Err() != nil:
		case err != nil:
			hs.logger.Errorf("historian: pop: %v", err)
			sleep(ctx, hs.FlushDelay)
		case rec != nil:
			hs.batch = append(hs.batch, *rec)
		}

		if len(hs.batch) >= hs.BatchSize || time.Since(lastFlush) >= hs.FlushDelay {
			hs.flush(ctx)
			lastFlush = time.Now()
		}
	}

	// Records already popped must not be lost on shutdown.
	hs.flush(context.WithoutCancel(ctx))
	hs.logger.Info("historian stopped")
}

// flush writes the pending batch. A failed batch is kept for the next flush
// until MaxRetries is exceeded.
func (hs *Service) flush(ctx context.Context) {
	if len(hs.batch) == 0 {
		return
	}
	err := hs.sink.InsertEvents(ctx, hs.batch)
	if err == nil {
		hs.logger.Debugf("historian: flushed %d records", len(hs.batch))
		hs.batch = hs.batch[:0]
		hs.failures = 0
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	hs.failures++
	if hs.failures > hs.MaxRetries {
		hs.logger.Errorf("historian: dropping %d records after %d failed flushes: %v", len(hs.batch), hs.failures, err)
		hs.batch = hs.batch[:0]
		hs.failures = 0
		return
	}
	hs.logger.Warnf("historian: flush of %d records failed (attempt %d): %v", len(hs.batch), hs.failures, err)
}

// Pending reports how many records wait for the next flush.
func (hs *Service) Pending() int {
	return len(hs.batch)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
