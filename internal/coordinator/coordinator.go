// Package coordinator runs the commit-reveal protocol that turns a round
// of per-agent callbacks into the action set the engine consumes. Agents
// first commit to a hash of their intended actions, then reveal the
// actions; any mismatch, timeout, or malformed response drops that
// player's actions for the tick silently rather than retrying or
// penalizing the player out-of-band — there is no such thing as a
// "partial" round.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/internal/transport"
)

// Coordinator fans commit/reveal calls out to every registered agent in
// parallel and collects honest results into a single per-tick action map.
type Coordinator struct {
	commitTimeout time.Duration
	revealTimeout time.Duration

	mu      sync.Mutex
	agents  map[int]transport.AgentChannel
	pending map[int]string
}

// New builds a Coordinator with the given per-phase timeouts.
func New(commitTimeoutMS, revealTimeoutMS int) *Coordinator {
	return &Coordinator{
		commitTimeout: time.Duration(commitTimeoutMS) * time.Millisecond,
		revealTimeout: time.Duration(revealTimeoutMS) * time.Millisecond,
		agents:        make(map[int]transport.AgentChannel),
		pending:       make(map[int]string),
	}
}

// Register attaches playerID's channel. Calling it again for the same id
// replaces the previous channel (a reconnect).
func (c *Coordinator) Register(playerID int, ch transport.AgentChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[playerID] = ch
}

// CommitPhase clears any stale commitments and asks every registered agent
// to commit against this tick's observation, in parallel, each bounded by
// the commit timeout. It never returns an error: agents that fail to
// respond simply have no entry in the internal pending-commit set, which
// RevealPhase consults.
func (c *Coordinator) CommitPhase(ctx context.Context, tick int, observations map[int]observe.Observation) {
	c.mu.Lock()
	c.pending = make(map[int]string)
	agents := make(map[int]transport.AgentChannel, len(c.agents))
	for id, ch := range c.agents {
		agents[id] = ch
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for playerID, ch := range agents {
		obs, ok := observations[playerID]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(playerID int, ch transport.AgentChannel, obs observe.Observation) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
			defer cancel()
			commit, ok := ch.Commit(callCtx, tick, obs)
			if !ok {
				return
			}
			c.mu.Lock()
			c.pending[playerID] = commit
			c.mu.Unlock()
		}(playerID, ch, obs)
	}
	wg.Wait()
}

// RevealPhase asks every agent that produced a valid commitment this tick
// to reveal its actions, verifies the hash, and returns the honest subset
// keyed by player id. A reveal that doesn't hash back to its commitment —
// wrong nonce, tampered actions, or an agent that simply never committed —
// contributes no actions for that player this tick.
func (c *Coordinator) RevealPhase(ctx context.Context, tick int) map[int][]model.Action {
	c.mu.Lock()
	agents := make(map[int]transport.AgentChannel, len(c.agents))
	pending := make(map[int]string, len(c.pending))
	for id, ch := range c.agents {
		agents[id] = ch
	}
	for id, commit := range c.pending {
		pending[id] = commit
	}
	c.mu.Unlock()

	result := make(map[int][]model.Action)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for playerID, commit := range pending {
		ch, ok := agents[playerID]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(playerID int, ch transport.AgentChannel, expectedCommit string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.revealTimeout)
			defer cancel()
			actions, nonce, ok := ch.Reveal(callCtx, tick)
			if !ok {
				return
			}
			recomputed := canon.Sha256Hex(canon.Marshal(actions) + nonce)
			if recomputed != expectedCommit {
				return
			}
			mu.Lock()
			result[playerID] = actions
			mu.Unlock()
		}(playerID, ch, commit)
	}
	wg.Wait()
	return result
}
