package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration test: runs only when REDIS_ADDR points at a live server.
func TestJournalRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping journal integration test")
	}
	ctx := context.Background()

	rdb, err := ConnectRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer rdb.Close()

	queue := "sightquest_test_" + uuid.NewString()
	defer rdb.Del(ctx, queue)
	j := NewJournal(rdb, queue)

	rec := models.EventRecord{
		GameCode:    "ABCD",
		ActorUserID: 7,
		Event:       "player_caught",
		Payload:     json.RawMessage(`{"event":"player_caught","secret":"x"}`),
		Timestamp:   time.Now().UnixMilli(),
	}
	require.NoError(t, j.Append(ctx, rec))

	got, err := j.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.GameCode, got.GameCode)
	assert.Equal(t, rec.ActorUserID, got.ActorUserID)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))

	empty, err := j.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestNewJournalDefaultQueue(t *testing.T) {
	j := NewJournal(nil, "")
	assert.Equal(t, DefaultQueueName, j.Queue())
}
