// Package ws fans application status updates out to WebSocket clients. The
// Hub owns the live connections and their per-application subscriptions; the
// Bridge feeds it from the Redis broadcast channel so updates published by
// any process reach the clients of every API replica.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
)

// Hub tracks live connections and routes status updates to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*client
	// subs maps an application id to the ids of connections watching it.
	subs map[string]map[string]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*client),
		subs:  make(map[string]map[string]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	observability.WebSocketConnections.Inc()
}

// unregister drops the connection and every subscription it holds. Safe to
// call more than once.
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
		for appID := range c.watching {
			if set := h.subs[appID]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, appID)
				}
			}
		}
	}
	h.mu.Unlock()
	if ok {
		c.close()
		observability.WebSocketConnections.Dec()
	}
}

func (h *Hub) subscribe(connID, applicationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	c.watching[applicationID] = struct{}{}
	set := h.subs[applicationID]
	if set == nil {
		set = make(map[string]struct{})
		h.subs[applicationID] = set
	}
	set[connID] = struct{}{}
}

// Dispatch delivers one status update: to every connection when the update
// is a broadcast, otherwise only to subscribers of the application.
// Connections whose send buffer is full are dropped; a stalled client must
// not hold the fan-out up.
func (h *Hub) Dispatch(upd domain.StatusUpdate) {
	payload, err := json.Marshal(upd)
	if err != nil {
		slog.Error("status update not serializable", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns))
	if upd.Broadcast {
		for _, c := range h.conns {
			targets = append(targets, c)
		}
	} else {
		for id := range h.subs[upd.Data.ID] {
			if c, ok := h.conns[id]; ok {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(payload) {
			slog.Warn("dropping unresponsive websocket connection",
				slog.String("conn_id", c.id))
			h.unregister(c.id)
		}
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
