package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/pkg/sdk"
)

// dialTestServer upgrades one connection server-side and hands the
// resulting Channel to the test, returning the bot's client connection.
func dialTestServer(t *testing.T) (*Channel, *websocket.Conn) {
	t.Helper()
	channels := make(chan *Channel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r)
		if err != nil {
			return
		}
		channels <- ch
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ch := <-channels
	t.Cleanup(func() { ch.Close() })
	return ch, client
}

// runHonestBot answers commit/reveal frames on the client side of the
// socket with a consistent actions/nonce pair.
func runHonestBot(client *websocket.Conn, actions []model.Action) {
	pending := make(map[int]string)
	for {
		var msg struct {
			Type string `json:"type"`
			Tick int    `json:"tick"`
		}
		if err := client.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "commit":
			nonce := sdk.Nonce()
			pending[msg.Tick] = nonce
			client.WriteJSON(map[string]any{
				"type": "commit", "tick": msg.Tick,
				"commit": sdk.CommitHash(actions, nonce),
			})
		case "reveal":
			client.WriteJSON(map[string]any{
				"type": "reveal", "tick": msg.Tick,
				"actions": actions, "nonce": pending[msg.Tick],
			})
		}
	}
}

func TestCommitRevealOverWebSocket(t *testing.T) {
	ch, client := dialTestServer(t)
	want := []model.Action{{Type: model.ActionUpgrade, PlanetID: 3, Upgrade: model.UpgradeDefense}}
	go runHonestBot(client, want)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	commit, ok := ch.Commit(ctx, 9, observe.Observation{Tick: 9})
	if !ok {
		t.Fatalf("commit failed")
	}
	actions, nonce, ok := ch.Reveal(ctx, 9)
	if !ok {
		t.Fatalf("reveal failed")
	}
	if got := canon.Sha256Hex(canon.Marshal(actions) + nonce); got != commit {
		t.Fatalf("reveal does not hash back to commit")
	}
	if len(actions) != 1 || actions[0].Upgrade != model.UpgradeDefense {
		t.Fatalf("actions mangled in transit: %+v", actions)
	}
}

func TestDisconnectedAgentIsNoSubmission(t *testing.T) {
	ch, client := dialTestServer(t)
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// The write may still land in a buffer; the await must fail once the
	// read pump observes the closed socket.
	if _, ok := ch.Commit(ctx, 0, observe.Observation{}); ok {
		t.Fatalf("closed connection must collapse to no submission")
	}
}

func TestSpectatorBroadcastAndPerspective(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.AddSpectator(w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	pid := 1
	fogged := observe.Observation{Tick: 4, PlayerID: &pid}
	omni := observe.Observation{Tick: 4}

	// Default perspective: omniscient.
	waitForSpectators(t, hub, 1)
	hub.Broadcast(map[int]observe.Observation{1: fogged}, omni)
	payload := readState(t, client)
	if payload.PlayerID != nil {
		t.Fatalf("default spectator view should be omniscient")
	}

	// Switch to player 1's fogged view.
	if err := client.WriteJSON(map[string]any{"type": "set_perspective", "player_id": 1, "omniscient": false}); err != nil {
		t.Fatalf("set_perspective: %v", err)
	}
	waitForPerspective(t, hub, 1)
	hub.Broadcast(map[int]observe.Observation{1: fogged}, omni)
	payload = readState(t, client)
	if payload.PlayerID == nil || *payload.PlayerID != 1 {
		t.Fatalf("expected player 1's view after set_perspective, got %+v", payload.PlayerID)
	}
}

func readState(t *testing.T, client *websocket.Conn) observe.Observation {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if msg.Type != "state" {
		t.Fatalf("unexpected frame type %q", msg.Type)
	}
	var obs observe.Observation
	if err := json.Unmarshal(msg.Payload, &obs); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return obs
}

func waitForSpectators(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		count := len(hub.spectators)
		hub.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("spectator never registered")
}

func waitForPerspective(t *testing.T, hub *Hub, playerID int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		for s := range hub.spectators {
			s.mu.Lock()
			matched := !s.omniscient && s.playerID != nil && *s.playerID == playerID
			s.mu.Unlock()
			if matched {
				hub.mu.Unlock()
				return
			}
		}
		hub.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("perspective switch never applied")
}
