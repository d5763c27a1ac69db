package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shampiniony/sightquest-server/internal/models"
)

// MemoryStore is an in-process Store with the same semantics as
// PostgresStore. It backs tests and STORE=memory local runs.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[int64]models.User
	games       map[string]*models.Game
	players     map[string]map[int64]*models.Player
	tasks       map[int64]bool
	photos      map[int64]string
	completions map[string][]models.TaskCompletion

	// failNext makes the next call of the named method fail. Used by tests to
	// simulate an unavailable backend.
	failNext map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]models.User),
		games:       make(map[string]*models.Game),
		players:     make(map[string]map[int64]*models.Player),
		tasks:       make(map[int64]bool),
		photos:      make(map[int64]string),
		completions: make(map[string][]models.TaskCompletion),
		failNext:    make(map[string]error),
	}
}

// AddUser seeds an account.
func (s *MemoryStore) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddGame seeds a game in the LOBBY phase.
func (s *MemoryStore) AddGame(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[code] = &models.Game{Code: code, Phase: models.PhaseLobby, CreatedAt: time.Now().UTC()}
	s.players[code] = make(map[int64]*models.Player)
}

// AddTask seeds a global quest task definition.
func (s *MemoryStore) AddTask(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = true
}

// AddPhoto seeds an uploaded photo belonging to a game.
func (s *MemoryStore) AddPhoto(id int64, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[id] = code
}

// FailNext makes the next call to method return err.
func (s *MemoryStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

// injected must be called with mu held.
func (s *MemoryStore) injected(method string) error {
	if err, ok := s.failNext[method]; ok {
		delete(s.failNext, method)
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injected("Ping")
}

func (s *MemoryStore) GetGame(ctx context.Context, code string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetGame"); err != nil {
		return nil, err
	}
	g, ok := s.games[code]
	if !ok {
		return nil, fmt.Errorf("get game %s: %w", code, ErrNotFound)
	}
	out := *g
	out.Settings.QuestPoints = copyQuestPoints(g.Settings.QuestPoints)
	if g.StartedAt != nil {
		t := *g.StartedAt
		out.StartedAt = &t
	}
	return &out, nil
}

func copyQuestPoints(in []models.QuestPoint) []models.QuestPoint {
	out := make([]models.QuestPoint, len(in))
	for i, qp := range in {
		out[i].Tasks = append([]models.TaskBinding(nil), qp.Tasks...)
	}
	return out
}

func (s *MemoryStore) orderedPlayers(code string) []models.Player {
	var out []models.Player
	for _, p := range s.players[code] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderKey != out[j].OrderKey {
			return out[i].OrderKey < out[j].OrderKey
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *MemoryStore) ListPlayers(ctx context.Context, code string) ([]models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListPlayers"); err != nil {
		return nil, err
	}
	return s.orderedPlayers(code), nil
}

func (s *MemoryStore) PlayerBySecret(ctx context.Context, code, secret string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("PlayerBySecret"); err != nil {
		return nil, err
	}
	for _, p := range s.players[code] {
		if p.Secret == secret {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("player by secret in %s: %w", code, ErrNotFound)
}

func (s *MemoryStore) ListCompletions(ctx context.Context, code string) ([]models.TaskCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListCompletions"); err != nil {
		return nil, err
	}
	return append([]models.TaskCompletion(nil), s.completions[code]...), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("get user %d: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) EnsurePlayer(ctx context.Context, code string, userID int64, secret string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("EnsurePlayer"); err != nil {
		return nil, err
	}
	members, ok := s.players[code]
	if !ok {
		return nil, fmt.Errorf("ensure player in %s: %w", code, ErrNotFound)
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("ensure player %d: %w", userID, ErrNotFound)
	}
	if p, ok := members[userID]; ok {
		out := *p
		return &out, nil
	}
	next := 0
	for _, p := range members {
		if p.OrderKey >= next {
			next = p.OrderKey + 1
		}
	}
	p := &models.Player{
		UserID:   userID,
		Username: u.Username,
		GameCode: code,
		Role:     models.RoleCatcher,
		Secret:   secret,
		OrderKey: next,
	}
	members[userID] = p
	out := *p
	return &out, nil
}

func (s *MemoryStore) ApplyRoleChanges(ctx context.Context, code string, changes []models.RoleChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ApplyRoleChanges"); err != nil {
		return err
	}
	members := s.players[code]
	for _, c := range changes {
		if _, ok := members[c.UserID]; !ok {
			return fmt.Errorf("apply role changes in %s: player %d: %w", code, c.UserID, ErrNotFound)
		}
	}
	for _, c := range changes {
		p := members[c.UserID]
		p.Role = c.Role
		if c.Secret != "" {
			p.Secret = c.Secret
		}
	}
	return nil
}

func (s *MemoryStore) StartGame(ctx context.Context, code string, startedAt time.Time, runnerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("StartGame"); err != nil {
		return err
	}
	g, ok := s.games[code]
	if !ok {
		return fmt.Errorf("start game %s: %w", code, ErrNotFound)
	}
	members := s.players[code]
	if _, ok := members[runnerID]; !ok {
		return fmt.Errorf("start game %s: runner %d: %w", code, runnerID, ErrNotFound)
	}
	for id, p := range members {
		if id == runnerID {
			p.Role = models.RoleRunner
		} else {
			p.Role = models.RoleCatcher
		}
	}
	t := startedAt
	g.StartedAt = &t
	g.Phase = models.PhasePlaying
	return nil
}

func (s *MemoryStore) ReplaceSettings(ctx context.Context, code string, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ReplaceSettings"); err != nil {
		return err
	}
	g, ok := s.games[code]
	if !ok {
		return fmt.Errorf("replace settings of %s: %w", code, ErrNotFound)
	}
	for _, id := range settings.TaskIDs() {
		if !s.tasks[id] {
			return fmt.Errorf("replace settings of %s: task %d: %w", code, id, ErrNotFound)
		}
	}
	g.Settings = models.Settings{
		Duration:    settings.Duration,
		QuestPoints: copyQuestPoints(settings.QuestPoints),
	}
	return nil
}

func (s *MemoryStore) InsertTaskCompletion(ctx context.Context, c models.TaskCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("InsertTaskCompletion"); err != nil {
		return err
	}
	g, ok := s.games[c.GameCode]
	if !ok {
		return fmt.Errorf("insert task completion: game %s: %w", c.GameCode, ErrNotFound)
	}
	bound := false
	for _, id := range g.Settings.TaskIDs() {
		if id == c.TaskID {
			bound = true
			break
		}
	}
	if !bound {
		return fmt.Errorf("insert task completion: task binding %d: %w", c.TaskID, ErrNotFound)
	}
	if owner, ok := s.photos[c.PhotoID]; !ok || owner != c.GameCode {
		return fmt.Errorf("insert task completion: photo %d: %w", c.PhotoID, ErrNotFound)
	}
	if _, ok := s.players[c.GameCode][c.UserID]; !ok {
		return fmt.Errorf("insert task completion: player %d: %w", c.UserID, ErrNotFound)
	}
	for _, existing := range s.completions[c.GameCode] {
		if existing.TaskID == c.TaskID && existing.UserID == c.UserID && existing.PhotoID == c.PhotoID {
			return nil
		}
	}
	s.completions[c.GameCode] = append(s.completions[c.GameCode], c)
	return nil
}

func (s *MemoryStore) FinishGame(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("FinishGame"); err != nil {
		return err
	}
	g, ok := s.games[code]
	if !ok {
		return fmt.Errorf("finish game %s: %w", code, ErrNotFound)
	}
	g.Phase = models.PhaseFinished
	return nil
}

var _ Store = (*MemoryStore)(nil)
