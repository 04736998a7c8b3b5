// Package stdio drives an agent living in a child process over
// newline-delimited JSON on its stdin/stdout. A background reader pumps
// the child's output lines into an inbound queue; each phase call writes
// one request frame and drains the queue until a frame with the matching
// type and tick arrives or the deadline passes. Frames for other phases
// or stale ticks are discarded, never answered.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

// Channel implements transport.AgentChannel over a line-oriented pipe
// pair. It is backed either by a spawned subprocess (Start) or by raw
// reader/writer endpoints (NewPipe), which is what the tests and any
// in-process harness use.
type Channel struct {
	writeMu sync.Mutex
	w       io.Writer
	lines   chan []byte
	cmd     *exec.Cmd
}

// frame is the superset of every message either side sends.
type frame struct {
	Type        string          `json:"type"`
	Tick        int             `json:"tick"`
	Observation any             `json:"observation,omitempty"`
	Commit      string          `json:"commit,omitempty"`
	Actions     json.RawMessage `json:"actions,omitempty"`
	Nonce       *string         `json:"nonce,omitempty"`
}

// Start launches the bot executable and wires its stdio into a Channel.
func Start(path string, args ...string) (*Channel, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio: start %s: %w", path, err)
	}
	c := newChannel(stdin, stdout)
	c.cmd = cmd
	return c, nil
}

// NewPipe builds a Channel over pre-connected endpoints: w carries
// requests to the agent, r carries the agent's replies.
func NewPipe(w io.Writer, r io.Reader) *Channel {
	return newChannel(w, r)
}

func newChannel(w io.Writer, r io.Reader) *Channel {
	c := &Channel{w: w, lines: make(chan []byte, 16)}
	go c.readLoop(r)
	return c
}

func (c *Channel) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		c.lines <- line
	}
	close(c.lines)
}

func (c *Channel) send(f frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(append(data, '\n'))
	return err == nil
}

// await drains inbound lines until one parses as the wanted type/tick
// pair or the context expires. Unparseable and mismatched lines are
// dropped on the floor.
func (c *Channel) await(ctx context.Context, wantType string, tick int) (frame, bool) {
	for {
		select {
		case <-ctx.Done():
			return frame{}, false
		case line, open := <-c.lines:
			if !open {
				return frame{}, false
			}
			var f frame
			if err := json.Unmarshal(line, &f); err != nil {
				continue
			}
			if f.Type != wantType || f.Tick != tick {
				continue
			}
			return f, true
		}
	}
}

// Commit sends the observation and waits for the agent's commitment.
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

// Reveal asks for the actions behind the last commitment.
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

// Close terminates the child process, if any. Pipe-backed channels are
// closed by closing their endpoints.
func (c *Channel) Close() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	c.cmd.Process.Kill()
	return c.cmd.Wait()
}
