// Package broadcast implements the per-game fan-out groups.
package broadcast

import (
	"sync"

	"github.com/shampiniony/sightquest-server/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Member is one receiver in a group, typically a connection session.
type Member interface {
	ID() string
	// Deliver queues payload for the member without blocking. It returns
	// false if the payload was dropped.
	Deliver(payload []byte) bool
}

// Relay forwards local publishes to other server processes and feeds their
// publishes back through Hub.DeliverLocal.
type Relay interface {
	Forward(code, sender string, payload []byte) error
}

// Hub owns every Broadcast Group, keyed by game code.
type Hub struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	groups map[string]*group

	relay Relay
}

type group struct {
	mu      sync.RWMutex
	members map[string]Member
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger: logger,
		groups: make(map[string]*group),
	}
}

// SetRelay attaches a cross-process relay. Call before serving.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// Join adds m to the group of code. The hub lock is held until m is in the
// group, so a concurrent Leave cannot drop the group underneath it.
func (h *Hub) Join(code string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[code]
	if !ok {
		g = &group{members: make(map[string]Member)}
		h.groups[code] = g
	}
	g.mu.Lock()
	g.members[m.ID()] = m
	g.mu.Unlock()
}

// Leave removes m from the group of code. Empty groups are dropped.
func (h *Hub) Leave(code string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[code]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, m.ID())
	empty := len(g.members) == 0
	g.mu.Unlock()
	if empty {
		delete(h.groups, code)
	}
}

// Size returns the number of members currently joined to code.
func (h *Hub) Size(code string) int {
	h.mu.RLock()
	g, ok := h.groups[code]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Publish delivers payload to every member of code, the sender's own session
// included, and forwards it through the relay if one is attached. It returns
// the number of local members that accepted the payload.
func (h *Hub) Publish(code, sender string, payload []byte) int {
	metrics.Broadcasts.WithLabelValues("local").Inc()
	n := h.DeliverLocal(code, payload)
	if h.relay != nil {
		if err := h.relay.Forward(code, sender, payload); err != nil {
			h.logger.Warnf("Game %s: relay forward failed: %v", code, err)
		}
	}
	return n
}

// DeliverLocal delivers payload to the members joined in this process only.
// Delivery is best effort: a member whose queue is full misses the message.
func (h *Hub) DeliverLocal(code string, payload []byte) int {
	h.mu.RLock()
	g, ok := h.groups[code]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	g.mu.RLock()
	targets := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		targets = append(targets, m)
	}
	g.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if m.Deliver(payload) {
			delivered++
			continue
		}
		metrics.DroppedMessages.Inc()
		h.logger.Warnf("Game %s: dropped broadcast for member %s", code, m.ID())
	}
	return delivered
}
