package bots

import (
	"bufio"
	"encoding/json"
	"io"
	"math/rand"

	"github.com/ownworld/forest/pkg/sdk"
)

// RunStdio is the agent side of the child-process transport: it reads
// newline-delimited request frames from r, answers commits by running
// the policy against the observation and hashing the result with a
// fresh nonce, and answers reveals by disclosing the stored pair. It
// returns when r is exhausted.
func RunStdio(policy Policy, rng *rand.Rand, r io.Reader, w io.Writer) error {
	type pendingReveal struct {
		actions []ActionPayload
		nonce   string
	}
	pending := make(map[int]pendingReveal)

	out := bufio.NewWriter(w)
	writeReply := func(reply any) error {
		data, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		if _, err := out.Write(append(data, '\n')); err != nil {
			return err
		}
		return out.Flush()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg struct {
			Type        string          `json:"type"`
			Tick        int             `json:"tick"`
			Observation json.RawMessage `json:"observation"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "commit":
			var obs sdk.Observation
			if err := json.Unmarshal(msg.Observation, &obs); err != nil {
				continue
			}
			actions := policy(obs, rng)
			if actions == nil {
				actions = []ActionPayload{}
			}
			nonce := sdk.Nonce()
			pending[msg.Tick] = pendingReveal{actions: actions, nonce: nonce}
			reply := map[string]any{
				"type": "commit", "tick": msg.Tick,
				"commit": sdk.CommitHash(actions, nonce),
			}
			if err := writeReply(reply); err != nil {
				return err
			}
		case "reveal":
			p := pending[msg.Tick]
			delete(pending, msg.Tick)
			if p.actions == nil {
				p.actions = []ActionPayload{}
			}
			reply := map[string]any{
				"type": "reveal", "tick": msg.Tick,
				"actions": p.actions, "nonce": p.nonce,
			}
			if err := writeReply(reply); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
