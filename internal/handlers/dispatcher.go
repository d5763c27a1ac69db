package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shampiniony/sightquest-server/internal/auth"
	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/shampiniony/sightquest-server/internal/metrics"
)

// eventHandler runs one recognized event for an authenticated session.
type eventHandler func(ctx context.Context, s *Session, data []byte) error

type route struct {
	handle eventHandler
	// journal marks events whose effect is persisted and worth recording.
	journal bool
}

// Dispatcher routes inbound frames by their event type. Unrecognized types
// are forwarded verbatim to the game's group.
type Dispatcher struct {
	gs     *GameServer
	routes map[string]route
}

func newDispatcher(gs *GameServer) *Dispatcher {
	d := &Dispatcher{gs: gs}
	d.routes = map[string]route{
		EventGetGameState:   {handle: d.getGameState},
		EventLocationUpdate: {handle: d.locationUpdate},
		EventTaskCompleted:  {handle: d.taskCompleted, journal: true},
		EventPlayerCaught:   {handle: d.playerCaught, journal: true},
		EventSettingsUpdate: {handle: d.settingsUpdate, journal: true},
		EventStartGame:      {handle: d.startGame, journal: true},
	}
	return d
}

var resultLabels = map[error]string{
	game.ErrProtocol:         "protocol_error",
	game.ErrAuthRequired:     "auth_required",
	game.ErrAuthFailed:       "auth_failed",
	game.ErrUnknownSecret:    "unknown_secret",
	game.ErrNotRunner:        "not_runner",
	game.ErrReference:        "reference_error",
	game.ErrStateUnavailable: "state_unavailable",
	game.ErrInvalidPhase:     "invalid_phase",
}

// Dispatch handles one client frame. The returned error is classified by
// one of the game failure kinds; the caller reports it to the client.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, data []byte) error {
	event, err := decodeEvent(data)
	if err != nil {
		observe("invalid", err)
		return err
	}

	label := event
	err = d.dispatch(ctx, s, event, data)
	if _, known := d.routes[event]; !known && event != EventAuthorization {
		label = "passthrough"
	}
	observe(label, err)
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, event string, data []byte) error {
	if event == EventAuthorization {
		return d.authorize(ctx, s, data)
	}
	if err := requireAuth(s); err != nil {
		return err
	}

	r, ok := d.routes[event]
	if !ok {
		d.publish(s, data)
		return nil
	}
	if err := r.handle(ctx, s, data); err != nil {
		return err
	}
	if r.journal {
		d.gs.record(ctx, s.code, s.user.ID, event, data)
	}
	return nil
}

func observe(label string, err error) {
	result := "ok"
	if err != nil {
		result = resultLabels[game.Kind(err)]
		if result == "" {
			result = "error"
		}
	}
	metrics.Events.WithLabelValues(label, result).Inc()
}

// requireAuth is the precondition of every event except authorization.
func requireAuth(s *Session) error {
	if s.user == nil {
		return fmt.Errorf("session %s: %w", s.id, game.ErrAuthRequired)
	}
	return nil
}

func (d *Dispatcher) publish(s *Session, data []byte) {
	metrics.Broadcasts.WithLabelValues("client").Inc()
	d.gs.Hub.Publish(s.code, s.id, data)
}

func (d *Dispatcher) authorize(ctx context.Context, s *Session, data []byte) error {
	msg, err := decodeFields(data)
	if err != nil {
		return err
	}
	credential, err := msg.credential()
	if err != nil {
		return err
	}

	user, err := d.gs.Auth.Resolve(ctx, credential)
	if errors.Is(err, auth.ErrBadCredential) {
		return fmt.Errorf("%w: %w", game.ErrAuthFailed, err)
	}
	if err != nil {
		return fmt.Errorf("%w: resolve credential: %w", game.ErrStateUnavailable, err)
	}

	err = s.state.Mutate(ctx, func(tx *game.Tx) error {
		_, err := tx.Join(*user)
		return err
	})
	if err != nil {
		return err
	}

	s.user = user
	s.logger().Infof("Game %s: session %s authorized as user %d", s.code, s.id, user.ID)
	s.Deliver(statusMessageBytes(fmt.Sprintf(statusAuthenticated, user)))
	return nil
}

func (d *Dispatcher) getGameState(ctx context.Context, s *Session, data []byte) error {
	snap := s.state.Snapshot()
	if snap == nil {
		return fmt.Errorf("game %s has no snapshot: %w", s.code, game.ErrStateUnavailable)
	}
	out, err := gameStateMessageBytes(snap.ViewFor(s.user.ID))
	if err != nil {
		return fmt.Errorf("%w: %w", game.ErrStateUnavailable, err)
	}
	if !s.Deliver(out) {
		s.logger().Warnf("Game %s: gamestate_update dropped for session %s", s.code, s.id)
	}
	return nil
}

func (d *Dispatcher) locationUpdate(ctx context.Context, s *Session, data []byte) error {
	msg, err := decodeFields(data)
	if err != nil {
		return err
	}
	coords, err := msg.coordinates()
	if err != nil {
		return err
	}
	return s.state.Mutate(ctx, func(tx *game.Tx) error {
		tx.UpdateLocation(s.user.ID, coords)
		d.publish(s, data)
		return nil
	})
}

func (d *Dispatcher) taskCompleted(ctx context.Context, s *Session, data []byte) error {
	msg, err := decodeFields(data)
	if err != nil {
		return err
	}
	taskID, photoID, err := msg.completion()
	if err != nil {
		return err
	}
	return s.state.Mutate(ctx, func(tx *game.Tx) error {
		if err := tx.CompleteTask(s.user.ID, taskID, photoID); err != nil {
			return err
		}
		d.publish(s, data)
		return nil
	})
}

func (d *Dispatcher) playerCaught(ctx context.Context, s *Session, data []byte) error {
	msg, err := decodeFields(data)
	if err != nil {
		return err
	}
	secret, err := msg.secret()
	if err != nil {
		return err
	}
	return s.state.Mutate(ctx, func(tx *game.Tx) error {
		rot, err := tx.Catch(secret)
		if err != nil {
			return err
		}
		if rot.NoOp {
			s.logger().Infof("Game %s: catch by user %d had no rotation target", s.code, s.user.ID)
		} else {
			s.logger().Infof("Game %s: user %d caught user %d, runner is now %d", s.code, s.user.ID, rot.Caught, rot.NextRunner)
		}
		d.publish(s, data)
		return nil
	})
}

func (d *Dispatcher) settingsUpdate(ctx context.Context, s *Session, data []byte) error {
	msg, err := decodeFields(data)
	if err != nil {
		return err
	}
	settings, err := msg.settings()
	if err != nil {
		return err
	}
	return s.state.Mutate(ctx, func(tx *game.Tx) error {
		if err := tx.UpdateSettings(settings); err != nil {
			return err
		}
		d.publish(s, data)
		return nil
	})
}

func (d *Dispatcher) startGame(ctx context.Context, s *Session, data []byte) error {
	return s.state.Mutate(ctx, func(tx *game.Tx) error {
		runner, err := tx.Start()
		if err != nil {
			return err
		}
		s.logger().Infof("Game %s: started by user %d, runner is %d", s.code, s.user.ID, runner)
		d.publish(s, data)
		return nil
	})
}
