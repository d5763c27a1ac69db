package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shampiniony/sightquest-server/internal/database"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Registry maps a game code to its single live State. States are created
// lazily on first reference and live for the whole process.
type Registry struct {
	store  database.Store
	logger *logrus.Logger

	mu     sync.Mutex
	states map[string]*State
	loads  singleflight.Group

	// OnFinish is called, with the game lock held, when a game is finished by
	// its deadline timer.
	OnFinish func(st *State)

	// Now and Intn are replaceable for tests.
	Now  func() time.Time
	Intn func(n int) int
}

func NewRegistry(store database.Store, logger *logrus.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		states: make(map[string]*State),
		Now:    func() time.Time { return time.Now().UTC() },
		Intn:   rand.IntN,
	}
}

func (r *Registry) now() time.Time {
	return r.Now()
}

func (r *Registry) intn(n int) int {
	return r.Intn(n)
}

func (r *Registry) cached(code string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[code]
	return st, ok
}

// Get returns the live state for code, loading it from the Snapshot Store if
// this is the first reference. Concurrent first references share one load.
// An unknown game yields ErrReference; any other load failure yields
// ErrStateUnavailable and nothing is cached.
func (r *Registry) Get(ctx context.Context, code string) (*State, error) {
	if st, ok := r.cached(code); ok {
		return st, nil
	}
	v, err, _ := r.loads.Do(code, func() (interface{}, error) {
		if st, ok := r.cached(code); ok {
			return st, nil
		}
		st := newState(code, r)
		st.mu.Lock()
		err := st.load(ctx)
		st.mu.Unlock()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.states[code] = st
		r.mu.Unlock()
		r.logger.Debugf("Game %s: state loaded", code)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

// load is the first refresh of a state; a missing game is a reference error
// rather than an outage.
func (st *State) load(ctx context.Context) error {
	if _, err := st.reg.store.GetGame(ctx, st.Code); err != nil {
		return storeErr(err, ErrReference)
	}
	return st.refreshLocked(ctx)
}

// Refresh reloads st from the Snapshot Store.
func (r *Registry) Refresh(ctx context.Context, st *State) error {
	return st.Refresh(ctx)
}

// Len returns the number of live states.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
