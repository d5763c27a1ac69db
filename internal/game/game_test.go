package game

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shampiniony/sightquest-server/internal/database"
	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

// testClock is a settable clock for deadline tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

// setupTestGame seeds game "ABCD" with users 1..n joined in order and
// returns its live state.
func setupTestGame(t *testing.T, n int) (*database.MemoryStore, *Registry, *State) {
	t.Helper()
	store := database.NewMemoryStore()
	store.AddGame("ABCD")
	for _, id := range []int64{5, 7, 9} {
		store.AddTask(id)
	}
	store.AddPhoto(100, "ABCD")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reg := NewRegistry(store, logger)

	st, err := reg.Get(context.Background(), "ABCD")
	require.NoError(t, err)

	for i := 1; i <= n; i++ {
		u := models.User{ID: int64(i), Username: "player" + string(rune('0'+i))}
		store.AddUser(u)
		err := st.Mutate(context.Background(), func(tx *Tx) error {
			_, err := tx.Join(u)
			return err
		})
		require.NoError(t, err)
	}
	return store, reg, st
}

// startWithRunner starts the game forcing the runner at order position idx.
func startWithRunner(t *testing.T, reg *Registry, st *State, idx int) int64 {
	t.Helper()
	reg.Intn = func(int) int { return idx }
	var runner int64
	err := st.Mutate(context.Background(), func(tx *Tx) error {
		var err error
		runner, err = tx.Start()
		return err
	})
	require.NoError(t, err)
	return runner
}

func runnerCount(snap *Snapshot) int {
	return len(snap.Runners())
}

func TestJoinAssignsOrderAndSecret(t *testing.T) {
	_, _, st := setupTestGame(t, 3)
	snap := st.Snapshot()

	require.Len(t, snap.Players, 3)
	for i, p := range snap.Players {
		assert.Equal(t, int64(i+1), p.UserID)
		assert.Equal(t, i, p.OrderKey)
		assert.Equal(t, models.RoleCatcher, p.Role)
		assert.Len(t, p.Secret, 32)
	}
	assert.NotEqual(t, snap.Players[0].Secret, snap.Players[1].Secret)
}

func TestJoinIsIdempotent(t *testing.T) {
	store, _, st := setupTestGame(t, 1)
	before := st.Snapshot().Players[0]

	u, err := store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	err = st.Mutate(context.Background(), func(tx *Tx) error {
		_, err := tx.Join(*u)
		return err
	})
	require.NoError(t, err)

	snap := st.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, before.Secret, snap.Players[0].Secret)
}

func TestJoinUnknownUser(t *testing.T) {
	_, _, st := setupTestGame(t, 0)
	err := st.Mutate(context.Background(), func(tx *Tx) error {
		_, err := tx.Join(models.User{ID: 99})
		return err
	})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestStartAssignsExactlyOneRunner(t *testing.T) {
	_, reg, st := setupTestGame(t, 3)
	reg.Now = (&testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}).Now

	runner := startWithRunner(t, reg, st, 1)
	snap := st.Snapshot()

	assert.Equal(t, int64(2), runner)
	assert.Equal(t, models.PhasePlaying, snap.Game.Phase)
	require.NotNil(t, snap.Game.StartedAt)
	assert.Equal(t, reg.Now(), *snap.Game.StartedAt)
	assert.Equal(t, 1, runnerCount(snap))
	p, ok := snap.Player(2)
	require.True(t, ok)
	assert.True(t, p.IsRunner())
}

func TestStartUsesRealRandomness(t *testing.T) {
	for i := 0; i < 10; i++ {
		_, _, st := setupTestGame(t, 4)
		err := st.Mutate(context.Background(), func(tx *Tx) error {
			_, err := tx.Start()
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, runnerCount(st.Snapshot()))
	}
}

func TestStartRejectedWhilePlaying(t *testing.T) {
	_, reg, st := setupTestGame(t, 2)
	startWithRunner(t, reg, st, 0)

	err := st.Mutate(context.Background(), func(tx *Tx) error {
		_, err := tx.Start()
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestStartWithoutPlayers(t *testing.T) {
	_, _, st := setupTestGame(t, 0)
	err := st.Mutate(context.Background(), func(tx *Tx) error {
		_, err := tx.Start()
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, models.PhaseLobby, st.Snapshot().Game.Phase)
}

func TestUpdateSettingsReplacesBindings(t *testing.T) {
	_, _, st := setupTestGame(t, 1)
	ctx := context.Background()

	initial := models.Settings{
		Duration:    10 * time.Minute,
		QuestPoints: []models.QuestPoint{{Tasks: []models.TaskBinding{{TaskID: 9}}}},
	}
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error { return tx.UpdateSettings(initial) }))

	var next models.Settings
	require.NoError(t, next.UnmarshalJSON([]byte(`{"duration":"00:30:00","quest_points":[{"tasks":[{"id":5},{"id":7}]}]}`)))
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error { return tx.UpdateSettings(next) }))

	snap := st.Snapshot()
	assert.Equal(t, 30*time.Minute, snap.Game.Settings.Duration)
	assert.ElementsMatch(t, []int64{5, 7}, snap.Game.Settings.TaskIDs())

	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error {
		return tx.UpdateSettings(models.Settings{Duration: 30 * time.Minute})
	}))
	assert.Empty(t, st.Snapshot().Game.Settings.TaskIDs())

	// Retrying the empty replace leaves it empty.
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error {
		return tx.UpdateSettings(models.Settings{Duration: 30 * time.Minute})
	}))
	assert.Empty(t, st.Snapshot().Game.Settings.TaskIDs())
}

func TestUpdateSettingsUnknownTaskChangesNothing(t *testing.T) {
	_, _, st := setupTestGame(t, 1)
	ctx := context.Background()
	good := models.Settings{
		Duration:    time.Hour,
		QuestPoints: []models.QuestPoint{{Tasks: []models.TaskBinding{{TaskID: 5}}}},
	}
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error { return tx.UpdateSettings(good) }))

	bad := models.Settings{
		Duration:    time.Minute,
		QuestPoints: []models.QuestPoint{{Tasks: []models.TaskBinding{{TaskID: 7}, {TaskID: 404}}}},
	}
	err := st.Mutate(ctx, func(tx *Tx) error { return tx.UpdateSettings(bad) })
	assert.ErrorIs(t, err, ErrReference)

	snap := st.Snapshot()
	assert.Equal(t, time.Hour, snap.Game.Settings.Duration)
	assert.Equal(t, []int64{5}, snap.Game.Settings.TaskIDs())
}

func TestCompleteTask(t *testing.T) {
	_, reg, st := setupTestGame(t, 2)
	ctx := context.Background()
	settings := models.Settings{QuestPoints: []models.QuestPoint{{Tasks: []models.TaskBinding{{TaskID: 5}}}}}
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error { return tx.UpdateSettings(settings) }))

	err := st.Mutate(ctx, func(tx *Tx) error { return tx.CompleteTask(1, 5, 100) })
	assert.ErrorIs(t, err, ErrInvalidPhase, "completions need a running game")

	startWithRunner(t, reg, st, 0)
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error { return tx.CompleteTask(1, 5, 100) }))
	assert.Equal(t, []int64{5}, st.Snapshot().Completed[1])

	err = st.Mutate(ctx, func(tx *Tx) error { return tx.CompleteTask(1, 7, 100) })
	assert.ErrorIs(t, err, ErrReference, "task 7 is not bound")
	err = st.Mutate(ctx, func(tx *Tx) error { return tx.CompleteTask(1, 5, 101) })
	assert.ErrorIs(t, err, ErrReference, "photo 101 does not exist")
	assert.Equal(t, []int64{5}, st.Snapshot().Completed[1])
}

func TestLocationSurvivesRefresh(t *testing.T) {
	_, _, st := setupTestGame(t, 2)
	ctx := context.Background()

	coords := models.Coordinates(`{"lat":55.75,"lon":37.61}`)
	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error {
		tx.UpdateLocation(1, coords)
		return nil
	}))
	assert.JSONEq(t, string(coords), string(st.Snapshot().Coordinates[1]))

	require.NoError(t, st.Refresh(ctx))
	assert.JSONEq(t, string(coords), string(st.Snapshot().Coordinates[1]))
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	store, reg, st := setupTestGame(t, 2)
	before := st.Snapshot()

	store.FailNext("ListPlayers", errBackend)
	err := reg.Refresh(context.Background(), st)
	assert.ErrorIs(t, err, ErrStateUnavailable)
	assert.ErrorIs(t, err, errBackend)
	assert.Same(t, before, st.Snapshot())
}

func TestViewForHidesOtherSecrets(t *testing.T) {
	_, reg, st := setupTestGame(t, 3)
	startWithRunner(t, reg, st, 0)
	snap := st.Snapshot()

	view := snap.ViewFor(2)
	assert.Equal(t, "ABCD", view.Code)
	assert.Equal(t, models.PhasePlaying, view.Phase)
	require.Len(t, view.Players, 3)
	for _, pv := range view.Players {
		if pv.User.ID == 2 {
			p, _ := snap.Player(2)
			assert.Equal(t, p.Secret, pv.Secret)
			continue
		}
		assert.Empty(t, pv.Secret)
		assert.NotNil(t, pv.CompletedTasks)
	}
}

func TestGameFinishesAtDeadline(t *testing.T) {
	_, reg, st := setupTestGame(t, 2)
	ctx := context.Background()

	finished := make(chan string, 1)
	reg.OnFinish = func(s *State) { finished <- s.Code }

	require.NoError(t, st.Mutate(ctx, func(tx *Tx) error {
		return tx.UpdateSettings(models.Settings{Duration: 50 * time.Millisecond})
	}))
	startWithRunner(t, reg, st, 0)

	select {
	case code := <-finished:
		assert.Equal(t, "ABCD", code)
	case <-time.After(2 * time.Second):
		t.Fatal("game was not finished at its deadline")
	}
	assert.Equal(t, models.PhaseFinished, st.Snapshot().Game.Phase)

	// A finished game can be started again.
	startWithRunner(t, reg, st, 1)
	assert.Equal(t, models.PhasePlaying, st.Snapshot().Game.Phase)
}

func TestZeroDurationNeverFinishes(t *testing.T) {
	_, reg, st := setupTestGame(t, 2)
	reg.OnFinish = func(*State) { t.Error("unexpected finish") }
	startWithRunner(t, reg, st, 0)

	st.mu.Lock()
	timer := st.finishTimer
	st.mu.Unlock()
	assert.Nil(t, timer)
}
