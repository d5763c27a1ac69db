package handlers

import (
	"context"
	"time"

	"github.com/shampiniony/sightquest-server/internal/auth"
	"github.com/shampiniony/sightquest-server/internal/broadcast"
	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/shampiniony/sightquest-server/internal/metrics"
	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/sirupsen/logrus"
)

// Journal receives a record of every applied mutating event.
type Journal interface {
	Append(ctx context.Context, record models.EventRecord) error
}

// GameServer holds the collaborators shared by every game connection.
type GameServer struct {
	Registry *game.Registry
	Hub      *broadcast.Hub
	Auth     auth.Resolver
	Journal  Journal // optional
	Logger   *logrus.Logger

	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration

	dispatcher *Dispatcher
}

func NewGameServer(reg *game.Registry, hub *broadcast.Hub, resolver auth.Resolver, logger *logrus.Logger) *GameServer {
	gs := &GameServer{
		Registry:     reg,
		Hub:          hub,
		Auth:         resolver,
		Logger:       logger,
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
	gs.dispatcher = newDispatcher(gs)
	return gs
}

// FinishNotifier returns a Registry.OnFinish hook that announces a game
// finished by its deadline to every member of its group.
func (gs *GameServer) FinishNotifier() func(st *game.State) {
	return func(st *game.State) {
		gs.Logger.Infof("Game %s: deadline reached, game finished", st.Code)
		gs.Hub.Publish(st.Code, serverSender, gameFinishedMessage())
		gs.record(context.Background(), st.Code, 0, EventGameFinished, gameFinishedMessage())
	}
}

// record appends an event to the journal. Failures are logged only.
func (gs *GameServer) record(ctx context.Context, code string, actor int64, event string, payload []byte) {
	if gs.Journal == nil {
		return
	}
	rec := models.EventRecord{
		GameCode:    code,
		ActorUserID: actor,
		Event:       event,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := gs.Journal.Append(ctx, rec); err != nil {
		metrics.JournalErrors.Inc()
		gs.Logger.Warnf("Game %s: failed to journal %s: %v", code, event, err)
	}
}
