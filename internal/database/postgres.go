package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shampiniony/sightquest-server/internal/models"
)

// foreignKeyViolation is the Postgres SQLSTATE for a broken reference.
const foreignKeyViolation = "23503"

// PostgresStore is the Store backed by the relational database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// notFound translates pgx "no rows" and FK violations into ErrNotFound.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) GetGame(ctx context.Context, code string) (*models.Game, error) {
	var (
		g          models.Game
		phase      string
		durSeconds int64
		qpCount    int
	)
	q := `
		SELECT code, state, created_at, started_at, duration_seconds, quest_points
		FROM games
		WHERE code = $1
	`
	err := s.pool.QueryRow(ctx, q, code).Scan(&g.Code, &phase, &g.CreatedAt, &g.StartedAt, &durSeconds, &qpCount)
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", code, notFound(err))
	}
	g.Phase = models.Phase(phase)
	g.Settings.Duration = time.Duration(durSeconds) * time.Second
	g.Settings.QuestPoints = make([]models.QuestPoint, qpCount)

	rows, err := s.pool.Query(ctx, `
		SELECT quest_point, task_id
		FROM game_quest_tasks
		WHERE game_code = $1
		ORDER BY quest_point, position
	`, code)
	if err != nil {
		return nil, fmt.Errorf("get game %s tasks: %w", code, err)
	}
	defer rows.Close()
	for rows.Next() {
		var qp int
		var taskID int64
		if err := rows.Scan(&qp, &taskID); err != nil {
			return nil, err
		}
		for len(g.Settings.QuestPoints) <= qp {
			g.Settings.QuestPoints = append(g.Settings.QuestPoints, models.QuestPoint{})
		}
		g.Settings.QuestPoints[qp].Tasks = append(g.Settings.QuestPoints[qp].Tasks, models.TaskBinding{TaskID: taskID})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &g, nil
}

const playerColumns = `p.game_code, p.user_id, u.username, p.role, p.secret, p.order_key`

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	var role string
	if err := row.Scan(&p.GameCode, &p.UserID, &p.Username, &role, &p.Secret, &p.OrderKey); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return &p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context, code string) ([]models.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+playerColumns+`
		FROM game_players p
		JOIN users u ON u.id = p.user_id
		WHERE p.game_code = $1
		ORDER BY p.order_key, p.user_id
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list players of %s: %w", code, err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) PlayerBySecret(ctx context.Context, code, secret string) (*models.Player, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM game_players p
		JOIN users u ON u.id = p.user_id
		WHERE p.game_code = $1 AND p.secret = $2
	`, code, secret)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("player by secret in %s: %w", code, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) ListCompletions(ctx context.Context, code string) ([]models.TaskCompletion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_code, task_id, user_id, photo_id, completed_at
		FROM task_completions
		WHERE game_code = $1
		ORDER BY completed_at, task_id
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list completions of %s: %w", code, err)
	}
	defer rows.Close()

	var out []models.TaskCompletion
	for rows.Next() {
		var c models.TaskCompletion
		if err := rows.Scan(&c.GameCode, &c.TaskID, &c.UserID, &c.PhotoID, &c.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, notFound(err))
	}
	return &u, nil
}

func (s *PostgresStore) EnsurePlayer(ctx context.Context, code string, userID int64, secret string) (*models.Player, error) {
	var p *models.Player
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO game_players (game_code, user_id, role, secret, order_key)
			SELECT $1, $2, 'CATCHER', $3, COALESCE(MAX(order_key) + 1, 0)
			FROM game_players
			WHERE game_code = $1
			ON CONFLICT (game_code, user_id) DO NOTHING
		`
		if _, err := tx.Exec(ctx, insert, code, userID, secret); err != nil {
			return notFound(err)
		}
		row := tx.QueryRow(ctx, `
			SELECT `+playerColumns+`
			FROM game_players p
			JOIN users u ON u.id = p.user_id
			WHERE p.game_code = $1 AND p.user_id = $2
		`, code, userID)
		var err error
		p, err = scanPlayer(row)
		return notFound(err)
	})
	if err != nil {
		return nil, fmt.Errorf("ensure player %d in %s: %w", userID, code, err)
	}
	return p, nil
}

func (s *PostgresStore) ApplyRoleChanges(ctx context.Context, code string, changes []models.RoleChange) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE game_players
			SET role = $3, secret = COALESCE(NULLIF($4, ''), secret)
			WHERE game_code = $1 AND user_id = $2
		`
		for _, c := range changes {
			tag, err := tx.Exec(ctx, q, code, c.UserID, string(c.Role), c.Secret)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("player %d: %w", c.UserID, ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply role changes in %s: %w", code, err)
	}
	return nil
}

func (s *PostgresStore) StartGame(ctx context.Context, code string, startedAt time.Time, runnerID int64) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE game_players SET role = 'CATCHER' WHERE game_code = $1`, code); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE game_players SET role = 'RUNNER' WHERE game_code = $1 AND user_id = $2`, code, runnerID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("runner %d: %w", runnerID, ErrNotFound)
		}
		tag, err = tx.Exec(ctx, `UPDATE games SET state = 'PLAYING', started_at = $2 WHERE code = $1`, code, startedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("start game %s: %w", code, err)
	}
	return nil
}

func (s *PostgresStore) ReplaceSettings(ctx context.Context, code string, settings models.Settings) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE games SET duration_seconds = $2, quest_points = $3 WHERE code = $1
		`, code, int64(settings.Duration/time.Second), len(settings.QuestPoints))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM game_quest_tasks WHERE game_code = $1`, code); err != nil {
			return err
		}
		insert := `
			INSERT INTO game_quest_tasks (game_code, quest_point, position, task_id)
			VALUES ($1, $2, $3, $4)
		`
		for qp, point := range settings.QuestPoints {
			for pos, t := range point.Tasks {
				if _, err := tx.Exec(ctx, insert, code, qp, pos, t.TaskID); err != nil {
					return notFound(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace settings of %s: %w", code, err)
	}
	return nil
}

func (s *PostgresStore) InsertTaskCompletion(ctx context.Context, c models.TaskCompletion) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var ok bool
		checks := []struct {
			what string
			q    string
			args []any
		}{
			{"task binding", `SELECT EXISTS (SELECT 1 FROM game_quest_tasks WHERE game_code = $1 AND task_id = $2)`, []any{c.GameCode, c.TaskID}},
			{"photo", `SELECT EXISTS (SELECT 1 FROM game_photos WHERE game_code = $1 AND id = $2)`, []any{c.GameCode, c.PhotoID}},
			{"player", `SELECT EXISTS (SELECT 1 FROM game_players WHERE game_code = $1 AND user_id = $2)`, []any{c.GameCode, c.UserID}},
		}
		for _, chk := range checks {
			if err := tx.QueryRow(ctx, chk.q, chk.args...).Scan(&ok); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", chk.what, ErrNotFound)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO task_completions (game_code, task_id, user_id, photo_id, completed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (game_code, task_id, user_id, photo_id) DO NOTHING
		`, c.GameCode, c.TaskID, c.UserID, c.PhotoID, c.CompletedAt)
		return notFound(err)
	})
	if err != nil {
		return fmt.Errorf("insert task completion in %s: %w", c.GameCode, err)
	}
	return nil
}

func (s *PostgresStore) FinishGame(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE games SET state = 'FINISHED' WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("finish game %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish game %s: %w", code, ErrNotFound)
	}
	return nil
}

// InsertEvents appends journal records to game_events in one transaction.
func (s *PostgresStore) InsertEvents(ctx context.Context, records []models.EventRecord) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO game_events (game_code, actor_user_id, event, payload, created_at)
			VALUES ($1, $2, $3, $4, to_timestamp($5 / 1000.0))
		`
		for _, rec := range records {
			if _, err := tx.Exec(ctx, q, rec.GameCode, rec.ActorUserID, rec.Event, []byte(rec.Payload), rec.Timestamp); err != nil {
				return fmt.Errorf("insert event %s for %s: %w", rec.Event, rec.GameCode, err)
			}
		}
		return nil
	})
}

var _ Store = (*PostgresStore)(nil)
