package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shampiniony/sightquest-server/internal/metrics"
	"github.com/sirupsen/logrus"
)

// envelope is what travels over the Redis channel of a game. Payload is
// base64 on the wire so remote members get the exact bytes the sender wrote.
type envelope struct {
	Origin  string `json:"origin"`
	Sender  string `json:"sender"`
	Payload []byte `json:"payload"`
}

// DefaultForwardTimeout bounds a single PUBLISH.
const DefaultForwardTimeout = 5 * time.Second

// RedisRelay mirrors hub publishes across server processes through Redis
// pub/sub. Each game maps to channel <prefix><code>.
type RedisRelay struct {
	rdb    *redis.Client
	hub    *Hub
	prefix string
	origin string
	logger *logrus.Logger

	// Timeout bounds each Forward. Forward runs under the game lock, so a
	// stalled Redis must not hold it indefinitely.
	Timeout time.Duration
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, prefix string, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		hub:    hub,
		prefix: prefix,
		origin: uuid.NewString(),
		logger: logger,

		Timeout: DefaultForwardTimeout,
	}
}

// Forward implements Relay.
func (r *RedisRelay) Forward(code, sender string, payload []byte) error {
	data, err := marshalEnvelope(r.origin, sender, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.prefix+code, data).Err(); err != nil {
		return fmt.Errorf("publish %s%s: %w", r.prefix, code, err)
	}
	return nil
}

// Run subscribes to every game channel and delivers envelopes published by
// other processes to local members. It returns when ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", r.prefix, err)
	}
	r.logger.Infof("Broadcast relay %s subscribed to %s*", r.origin, r.prefix)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(channel, data string) {
	code := strings.TrimPrefix(channel, r.prefix)
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		r.logger.Warnf("Broadcast relay: invalid envelope on %s: %v", channel, err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	metrics.Broadcasts.WithLabelValues("relay").Inc()
	r.hub.DeliverLocal(code, env.Payload)
}

func marshalEnvelope(origin, sender string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Sender: sender, Payload: payload})
}
