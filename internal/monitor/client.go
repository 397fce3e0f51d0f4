package monitor

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single WebSocket peer of the status surface. It is
// receive-only from the outside world: readPump exists only to drive the
// ping/pong keepalive and detect disconnects, never to accept commands.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// sendInitial pushes the hub's current per-kind snapshot and the
// application-level status snapshot to a newly-connected client.
func (c *Client) sendInitial() {
	c.hub.mu.RLock()
	latest := make(map[string]json.RawMessage, len(c.hub.latest))
	for k, v := range c.hub.latest {
		latest[k] = v
	}
	c.hub.mu.RUnlock()

	var status StatusSnapshot
	if c.hub.snapshot != nil {
		status = c.hub.snapshot()
	}

	envelope, err := json.Marshal(map[string]any{
		"kind":    "initial",
		"latest":  latest,
		"status":  status,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"initial": true,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- envelope:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services the read side of the keepalive; any message sent
// by the client is discarded since this surface is read-only.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
