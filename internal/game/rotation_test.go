package game

import (
	"context"
	"sync"
	"testing"

	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catch(st *State, secret string) (*Rotation, error) {
	var rot *Rotation
	err := st.Mutate(context.Background(), func(tx *Tx) error {
		var err error
		rot, err = tx.Catch(secret)
		return err
	})
	return rot, err
}

func secretOf(t *testing.T, st *State, userID int64) string {
	t.Helper()
	p, ok := st.Snapshot().Player(userID)
	require.True(t, ok)
	return p.Secret
}

func TestCatchPassesRunnerToNextPlayer(t *testing.T) {
	_, reg, st := setupTestGame(t, 3)
	startWithRunner(t, reg, st, 1) // P2 runs

	old := secretOf(t, st, 2)
	rot, err := catch(st, old)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rot.Caught)
	assert.Equal(t, int64(3), rot.NextRunner)
	assert.False(t, rot.NoOp)

	snap := st.Snapshot()
	p2, _ := snap.Player(2)
	p3, _ := snap.Player(3)
	assert.Equal(t, models.RoleCatcher, p2.Role)
	assert.Equal(t, models.RoleRunner, p3.Role)
	assert.NotEqual(t, old, p2.Secret)
	assert.Equal(t, 1, runnerCount(snap))

	_, err = catch(st, old)
	assert.ErrorIs(t, err, ErrUnknownSecret)
	assert.Equal(t, int64(3), st.Snapshot().Runners()[0].UserID)
}

func TestCatchWrapsToFirstPlayer(t *testing.T) {
	_, reg, st := setupTestGame(t, 3)
	startWithRunner(t, reg, st, 2) // P3 runs, last in order

	rot, err := catch(st, secretOf(t, st, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rot.NextRunner)
}

func TestCatchFullCycle(t *testing.T) {
	_, reg, st := setupTestGame(t, 4)
	startWithRunner(t, reg, st, 0)

	want := []int64{2, 3, 4, 1, 2}
	for _, next := range want {
		runner := st.Snapshot().Runners()
		require.Len(t, runner, 1)
		rot, err := catch(st, runner[0].Secret)
		require.NoError(t, err)
		assert.Equal(t, next, rot.NextRunner)
	}
}

func TestCatchRejectsCatcherSecret(t *testing.T) {
	_, reg, st := setupTestGame(t, 3)
	startWithRunner(t, reg, st, 0)
	before := st.Snapshot()

	_, err := catch(st, secretOf(t, st, 2))
	assert.ErrorIs(t, err, ErrNotRunner)
	assert.Same(t, before, st.Snapshot(), "failed catch must not touch state")
}

func TestCatchUnknownAndEmptySecret(t *testing.T) {
	_, reg, st := setupTestGame(t, 2)
	startWithRunner(t, reg, st, 0)

	_, err := catch(st, "deadbeef")
	assert.ErrorIs(t, err, ErrUnknownSecret)
	_, err = catch(st, "")
	assert.ErrorIs(t, err, ErrUnknownSecret)
}

func TestCatchSinglePlayerIsNoOp(t *testing.T) {
	_, reg, st := setupTestGame(t, 1)
	startWithRunner(t, reg, st, 0)
	secret := secretOf(t, st, 1)

	rot, err := catch(st, secret)
	require.NoError(t, err)
	assert.True(t, rot.NoOp)

	p, _ := st.Snapshot().Player(1)
	assert.True(t, p.IsRunner())
	assert.Equal(t, secret, p.Secret)
}

func TestCatchOutsidePlay(t *testing.T) {
	_, _, st := setupTestGame(t, 2)
	_, err := catch(st, secretOf(t, st, 1))
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestCatchStoreOutage(t *testing.T) {
	store, reg, st := setupTestGame(t, 3)
	startWithRunner(t, reg, st, 0)
	secret := secretOf(t, st, 1)

	store.FailNext("ApplyRoleChanges", errBackend)
	_, err := catch(st, secret)
	assert.ErrorIs(t, err, ErrStateUnavailable)

	// Nothing was applied, so the same secret still works.
	rot, err := catch(st, secret)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rot.NextRunner)
}

// Two catchers racing with the same runner secret: exactly one wins.
func TestConcurrentCatchesSerialize(t *testing.T) {
	_, reg, st := setupTestGame(t, 5)
	startWithRunner(t, reg, st, 0)
	secret := secretOf(t, st, 1)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		unknowns int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := catch(st, secret)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, ErrUnknownSecret) {
				unknowns++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, unknowns)
	snap := st.Snapshot()
	require.Len(t, snap.Runners(), 1)
	assert.Equal(t, int64(2), snap.Runners()[0].UserID)
}

// Catches of successive runners interleaved from many goroutines never leave
// the game with zero or two runners.
func TestConcurrentRotationKeepsOneRunner(t *testing.T) {
	_, reg, st := setupTestGame(t, 4)
	startWithRunner(t, reg, st, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Mutate(context.Background(), func(tx *Tx) error {
				runners := tx.Snapshot().Runners()
				if len(runners) != 1 {
					t.Errorf("found %d runners mid-rotation", len(runners))
					return nil
				}
				_, err := tx.Catch(runners[0].Secret)
				return err
			})
		}()
	}
	wg.Wait()

	snap := st.Snapshot()
	require.Len(t, snap.Runners(), 1)
	// 20 catches around 4 players lands back on the first.
	assert.Equal(t, int64(1), snap.Runners()[0].UserID)
}
