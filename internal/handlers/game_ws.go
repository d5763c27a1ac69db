package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/shampiniony/sightquest-server/internal/metrics"
	"github.com/shampiniony/sightquest-server/internal/middleware"
	"github.com/shampiniony/sightquest-server/internal/models"
	"github.com/sirupsen/logrus"
)

// Session is one live client connection to a game. It is the Broadcast
// Group member for that connection.
type Session struct {
	id     string
	code   string
	remote string

	gs    *GameServer
	conn  *websocket.Conn
	state *game.State
	out   chan []byte

	closing    chan closeFrame
	writerDone chan struct{}

	// user is nil until authorization succeeds. Only the read loop touches it.
	user *models.User
}

type closeFrame struct {
	code   websocket.StatusCode
	reason string
}

func (s *Session) ID() string { return s.id }

// Deliver queues payload for the write pump without blocking.
func (s *Session) Deliver(payload []byte) bool {
	select {
	case s.out <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) logger() *logrus.Logger {
	return s.gs.Logger
}

// GameWSHandler upgrades GET /ws/game/{code} to a game connection. The game
// must exist; the client then has to authorize before anything else.
func GameWSHandler(gs *GameServer) http.HandlerFunc {
	logger := gs.Logger
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["code"]
		if code == "" {
			http.Error(w, "missing game code", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for game %s: %v", code, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		st, err := gs.Registry.Get(r.Context(), code)
		if err != nil {
			if errors.Is(err, game.ErrReference) {
				logger.Warnf("Game %s: connection from %s to unknown game", code, r.RemoteAddr)
				c.Close(UnknownGameClose, "game does not exist")
				return
			}
			logger.Errorf("Game %s: failed to load state: %v", code, err)
			c.Close(websocket.StatusInternalError, statusTexts[game.ErrStateUnavailable])
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := &Session{
			id:     uuid.NewString(),
			code:   code,
			remote: r.RemoteAddr,
			gs:     gs,
			conn:   c,
			state:  st,
			out:    make(chan []byte, gs.SendBuffer),

			closing:    make(chan closeFrame, 1),
			writerDone: make(chan struct{}),
		}

		gs.Hub.Join(code, s)
		defer gs.Hub.Leave(code, s)
		metrics.Connections.Inc()
		defer metrics.Connections.Dec()

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)
		s.Deliver(statusMessageBytes(statusConnected))

		go s.writePump(ctx, cancel)
		err = s.readPump(ctx)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
	}
}

// readPump reads client frames until the connection ends. Per-event failures
// are answered with a status message; authentication failures close the
// connection.
func (s *Session) readPump(ctx context.Context) error {
	logger := s.logger()
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Infof("Game %s: session %s closed normally", s.code, s.id)
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Warnf("Game %s: read error for session %s: %v (CloseStatus: %d)", s.code, s.id, err, status)
			return err
		}
		if typ != websocket.MessageText {
			logger.Warnf("Game %s: ignoring non-text message type %d from session %s", s.code, typ, s.id)
			continue
		}

		// In-flight events finish even if the client goes away meanwhile.
		err = s.gs.dispatcher.Dispatch(context.WithoutCancel(ctx), s, data)
		if err == nil {
			continue
		}

		text := statusText(err)
		s.logFailure(err)
		if closeCode, terminal := terminalClose(err); terminal {
			s.closeAfterFlush(statusMessageBytes(text), closeFrame{code: closeCode, reason: text})
			return err
		}
		if !s.Deliver(statusMessageBytes(text)) {
			logger.Warnf("Game %s: status dropped for session %s", s.code, s.id)
		}
	}
}

func terminalClose(err error) (websocket.StatusCode, bool) {
	switch {
	case errors.Is(err, game.ErrAuthFailed):
		return AuthFailedClose, true
	case errors.Is(err, game.ErrAuthRequired):
		return AuthRequiredClose, true
	}
	return 0, false
}

func (s *Session) logFailure(err error) {
	entry := s.logger().WithFields(logrus.Fields{
		"game":    s.code,
		"session": s.id,
		"remote":  s.remote,
	})
	if s.user != nil {
		entry = entry.WithField("user", s.user.ID)
	}
	switch game.Kind(err) {
	case game.ErrStateUnavailable, nil:
		entry.Errorf("event failed: %v", err)
	case game.ErrProtocol:
		entry.Debugf("event rejected: %v", err)
	default:
		entry.Warnf("event rejected: %v", err)
	}
}

// writePump drains the session queue to the socket and pings the client
// periodically. It cancels the session when the socket stops accepting
// writes.
func (s *Session) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.writerDone)
	defer cancel()
	ticker := time.NewTicker(s.gs.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.out:
			if err := s.write(ctx, msg); err != nil {
				s.logger().Warnf("Game %s: failed to write to session %s: %v", s.code, s.id, err)
				return
			}
		case frame := <-s.closing:
			s.flush(ctx)
			s.conn.Close(frame.code, frame.reason)
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
			err := s.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				s.logger().Warnf("Game %s: ping to session %s failed: %v. Assuming disconnect.", s.code, s.id, err)
				return
			}
		}
	}
}

func (s *Session) write(ctx context.Context, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.gs.WriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, msg)
}

// flush writes whatever is still queued.
func (s *Session) flush(ctx context.Context) {
	for {
		select {
		case msg := <-s.out:
			if err := s.write(ctx, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// closeAfterFlush queues a final message and asks the write pump to close the
// connection once everything queued before it is written.
func (s *Session) closeAfterFlush(last []byte, frame closeFrame) {
	if !s.Deliver(last) {
		s.logger().Warnf("Game %s: final status dropped for session %s", s.code, s.id)
	}
	s.closing <- frame
	select {
	case <-s.writerDone:
	case <-time.After(2 * s.gs.WriteTimeout):
		s.conn.Close(frame.code, frame.reason)
	}
}
