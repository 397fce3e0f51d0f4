// Package monitor exposes a read-only HTTP+WebSocket status surface over
// the trading core: a JSON snapshot endpoint and a live event tail. It is
// not a dashboard and accepts no control commands — pause/resume/kill-switch
// live in the control package. Grounded on the teacher's
// internal/gateway/{hub,client}.go client-registry/broadcast mechanism,
// re-pointed at the in-process event bus instead of a Redis PubSub
// subscription (there is no separate market-data process to fan out from
// here), and internal/api/router.go's route-table shape, filled in and
// switched from the standard mux to gorilla/mux to match the rest of the
// pack's HTTP routing convention.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ktrader/internal/eventbus"
	"ktrader/internal/events"
)

// Hub fans out core events to connected WebSocket clients and keeps the
// latest snapshot of portfolio/market state for newly-connecting clients.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]json.RawMessage
	seq     int64

	snapshot func() StatusSnapshot
}

// NewHub creates a Hub. snapshotFn is called to build the initial payload
// sent to a newly-connected client and to answer GET /status.
func NewHub(log *slog.Logger, snapshotFn func() StatusSnapshot) *Hub {
	return &Hub{
		log:      log,
		clients:  make(map[*Client]bool),
		latest:   make(map[string]json.RawMessage),
		snapshot: snapshotFn,
	}
}

// Subscribe wires the hub to every event kind the status surface tails.
func (h *Hub) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.KindMarket, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("market", ev.(events.MarketEvent))
		return nil
	})
	bus.Subscribe(eventbus.KindSignal, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("signal", ev.(events.SignalEvent))
		return nil
	})
	bus.Subscribe(eventbus.KindOrder, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("order", ev.(events.OrderEvent))
		return nil
	})
	bus.Subscribe(eventbus.KindFill, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("fill", ev.(events.FillEvent))
		return nil
	})
	bus.Subscribe(eventbus.KindControl, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("control", ev.(events.ControlEvent))
		return nil
	})
	bus.Subscribe(eventbus.KindError, func(_ context.Context, ev eventbus.Event) error {
		h.broadcast("error", ev.(events.ErrorEvent))
		return nil
	})
}

func (h *Hub) broadcast(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("monitor: marshal event", "kind", kind, "error", err)
		return
	}

	h.mu.Lock()
	h.latest[kind] = data
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	envelope, _ := json.Marshal(map[string]any{
		"kind": kind,
		"data": json.RawMessage(data),
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
		"seq":  seq,
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
		}
	}
}

// Register upgrades conn to a tracked client and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	h.log.Info("monitor: ws client connected", "total", h.ClientCount())

	go c.sendInitial()
	go c.writePump()
	go c.readPump()
}

// remove deregisters a client and closes its send channel.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// ClientCount reports the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
