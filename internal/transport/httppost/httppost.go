// Package httppost reaches an agent that exposes a single POST /act
// endpoint: the server calls out to the bot once per phase per tick,
// rather than the bot holding a connection open. This is the simplest
// transport to host a bot behind (any web framework will do).
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

// Channel implements transport.AgentChannel against one bot base URL.
type Channel struct {
	base   string
	client *http.Client
}

// New builds a Channel for the bot at baseURL. Per-call deadlines come
// from the coordinator's phase contexts, so the underlying client does
// not carry its own timeout.
func New(baseURL string) *Channel {
	return &Channel{base: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

type commitRequest struct {
	Phase       string              `json:"phase"`
	Tick        int                 `json:"tick"`
	Observation observe.Observation `json:"observation"`
}

type revealRequest struct {
	Phase string `json:"phase"`
	Tick  int    `json:"tick"`
}

func (c *Channel) post(ctx context.Context, payload any, out any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/act", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

// Commit posts the observation and reads back the bot's commitment.
func (c *Channel) Commit(ctx context.Context, tick int, obs observe.Observation) (string, bool) {
	var reply struct {
		Commit string `json:"commit"`
	}
	if !c.post(ctx, commitRequest{Phase: "commit", Tick: tick, Observation: obs}, &reply) {
		return "", false
	}
	if reply.Commit == "" {
		return "", false
	}
	return reply.Commit, true
}

// Reveal posts the reveal probe and reads back the actions and nonce.
func (c *Channel) Reveal(ctx context.Context, tick int) ([]model.Action, string, bool) {
	var reply struct {
		Actions json.RawMessage `json:"actions"`
		Nonce   *string         `json:"nonce"`
	}
	if !c.post(ctx, revealRequest{Phase: "reveal", Tick: tick}, &reply) {
		return nil, "", false
	}
	if reply.Nonce == nil {
		return nil, "", false
	}
	var actions []model.Action
	if err := json.Unmarshal(reply.Actions, &actions); err != nil {
		return nil, "", false
	}
	return actions, *reply.Nonce, true
}
