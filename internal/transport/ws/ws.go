// Package ws carries the agent wire protocol over one WebSocket
// connection per player, plus a broadcast hub for spectators. The
// connection's read pump feeds every inbound frame into a queue; phase
// calls drain the queue looking for a matching type/tick reply, so a
// frame sent for the wrong phase is simply skipped, never answered.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Bots connect from anywhere; the commit hash is the auth.
	},
}

const writeWait = 5 * time.Second

// Channel implements transport.AgentChannel over one agent connection.
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound chan []byte
}

type frame struct {
	Type        string          `json:"type"`
	Tick        int             `json:"tick"`
	Observation any             `json:"observation,omitempty"`
	Commit      string          `json:"commit,omitempty"`
	Actions     json.RawMessage `json:"actions,omitempty"`
	Nonce       *string         `json:"nonce,omitempty"`
}

// Upgrade turns an incoming HTTP request into an agent Channel.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewChannel(conn), nil
}

// NewChannel wraps an established connection and starts its read pump.
func NewChannel(conn *websocket.Conn) *Channel {
	c := &Channel{conn: conn, inbound: make(chan []byte, 16)}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.inbound <- data
	}
}

func (c *Channel) send(f frame) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f) == nil
}

func (c *Channel) await(ctx context.Context, wantType string, tick int) (frame, bool) {
	for {
		select {
		case <-ctx.Done():
			return frame{}, false
		case data, open := <-c.inbound:
			if !open {
				return frame{}, false
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			if f.Type != wantType || f.Tick != tick {
				continue
			}
			return f, true
		}
	}
}

// Commit sends the observation frame and waits for the commitment.
func (c *Channel) Commit(ctx context.Context, tick int, obs observe.Observation) (string, bool) {
	if !c.send(frame{Type: "commit", Tick: tick, Observation: obs}) {
		return "", false
	}
	reply, ok := c.await(ctx, "commit", tick)
	if !ok || reply.Commit == "" {
		return "", false
	}
	return reply.Commit, true
}

// Reveal sends the reveal probe and waits for the actions and nonce.
func (c *Channel) Reveal(ctx context.Context, tick int) ([]model.Action, string, bool) {
	if !c.send(frame{Type: "reveal", Tick: tick}) {
		return nil, "", false
	}
	reply, ok := c.await(ctx, "reveal", tick)
	if !ok || reply.Nonce == nil {
		return nil, "", false
	}
	var actions []model.Action
	if err := json.Unmarshal(reply.Actions, &actions); err != nil {
		return nil, "", false
	}
	return actions, *reply.Nonce, true
}

// Close tears down the connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// spectator is one watching connection and the perspective it asked for:
// omniscient by default, or a single player's fogged view.
type spectator struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	playerID   *int
	omniscient bool
}

// Hub fans each tick's state out to every connected spectator.
type Hub struct {
	mu         sync.Mutex
	spectators map[*spectator]bool
}

// NewHub builds an empty spectator hub.
func NewHub() *Hub {
	return &Hub{spectators: make(map[*spectator]bool)}
}

// AddSpectator upgrades the request and registers the connection. The
// read pump only understands one message: {"type":"set_perspective",
// "player_id":N, "omniscient":bool}, which switches what Broadcast sends
// this watcher from the next tick on.
func (h *Hub) AddSpectator(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &spectator{conn: conn, omniscient: true}
	h.mu.Lock()
	h.spectators[s] = true
	h.mu.Unlock()

	go func() {
		defer h.remove(s)
		for {
			var msg struct {
				Type       string `json:"type"`
				PlayerID   *int   `json:"player_id"`
				Omniscient bool   `json:"omniscient"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "set_perspective" {
				s.mu.Lock()
				s.playerID = msg.PlayerID
				s.omniscient = msg.Omniscient
				s.mu.Unlock()
			}
		}
	}()
	return nil
}

func (h *Hub) remove(s *spectator) {
	h.mu.Lock()
	delete(h.spectators, s)
	h.mu.Unlock()
	s.conn.Close()
}

// stateMessage is what every spectator receives once per tick.
type stateMessage struct {
	Type    string              `json:"type"`
	Payload observe.Observation `json:"payload"`
}

// Broadcast sends each spectator the view matching its perspective. A
// spectator whose write fails is dropped; a requested player id with no
// observation this tick falls back to the omniscient view.
func (h *Hub) Broadcast(observations map[int]observe.Observation, omniscient observe.Observation) {
	h.mu.Lock()
	watchers := make([]*spectator, 0, len(h.spectators))
	for s := range h.spectators {
		watchers = append(watchers, s)
	}
	h.mu.Unlock()

	for _, s := range watchers {
		s.mu.Lock()
		payload := omniscient
		if !s.omniscient && s.playerID != nil {
			if obs, ok := observations[*s.playerID]; ok {
				payload = obs
			}
		}
		s.mu.Unlock()

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(stateMessage{Type: "state", Payload: payload}); err != nil {
			h.remove(s)
		}
	}
}
