package historian

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch chan models.EventRecord
}

func (s *chanSource) Pop(ctx context.Context, timeout time.Duration) (*models.EventRecord, error) {
	select {
	case rec := <-s.ch:
		return &rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.EventRecord
	fail    int
}

func (s *recordingSink) InsertEvents(ctx context.Context, records []models.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]models.EventRecord(nil), records...))
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func newTestService(source Source, sink Sink) *Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(source, sink, logger)
}

func record(code string, n int64) models.EventRecord {
	return models.EventRecord{GameCode: code, ActorUserID: n, Event: "start_game", Payload: []byte(`{"event":"start_game"}`)}
}

func runService(t *testing.T, hs *Service) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hs.Run(ctx)
	}()
	return cancel, done
}

func TestFlushOnBatchSize(t *testing.T) {
	src := &chanSource{ch: make(chan models.EventRecord, 10)}
	sink := &recordingSink{}
	hs := newTestService(src, sink)
	hs.BatchSize = 3
	hs.FlushDelay = time.Hour

	cancel, done := runService(t, hs)
	for i := int64(1); i <= 3; i++ {
		src.ch <- record("ABCD", i)
	}
	assert.Eventually(t, func() bool { return sink.total() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.Len(t, sink.batches, 1)
	assert.Equal(t, int64(3), sink.batches[0][2].ActorUserID)
}

func TestFlushOnDelay(t *testing.T) {
	src := &chanSource{ch: make(chan models.EventRecord, 10)}
	sink := &recordingSink{}
	hs := newTestService(src, sink)
	hs.BatchSize = 100
	hs.FlushDelay = 20 * time.Millisecond

	cancel, done := runService(t, hs)
	defer func() {
		cancel()
		<-done
	}()
	src.ch <- record("ABCD", 1)
	assert.Eventually(t, func() bool { return sink.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownFlushesPending(t *testing.T) {
	src := &chanSource{ch: make(chan models.EventRecord, 10)}
	sink := &recordingSink{}
	hs := newTestService(src, sink)
	hs.BatchSize = 100
	hs.FlushDelay = time.Hour

	cancel, done := runService(t, hs)
	src.ch <- record("ABCD", 1)
	src.ch <- record("WXYZ", 2)
	assert.Eventually(t, func() bool { return len(src.ch) == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, sink.total())
}

func TestFailedBatchIsRetried(t *testing.T) {
	sink := &recordingSink{fail: 1}
	hs := newTestService(nil, sink)
	hs.batch = []models.EventRecord{record("ABCD", 1)}

	hs.flush(context.Background())
	assert.Equal(t, 1, hs.Pending())
	hs.flush(context.Background())
	assert.Equal(t, 0, hs.Pending())
	assert.Equal(t, 1, sink.total())
}

func TestFailedBatchIsDroppedAfterRetries(t *testing.T) {
	sink := &recordingSink{fail: 100}
	hs := newTestService(nil, sink)
	hs.MaxRetries = 2
	hs.batch = []models.EventRecord{record("ABCD", 1), record("ABCD", 2)}

	hs.flush(context.Background())
	hs.flush(context.Background())
	assert.Equal(t, 2, hs.Pending())
	hs.flush(context.Background())
	assert.Equal(t, 0, hs.Pending())
	assert.Equal(t, 0, sink.total())
}
