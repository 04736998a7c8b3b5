// Package transport defines the interface the commit-reveal coordinator
// uses to talk to an agent, independent of whether that agent is reached
// over WebSocket, HTTP POST, or a local stdio subprocess.
package transport

import (
	"context"

	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

// AgentChannel is one connected agent's two-phase call-back surface. Both
// methods return ok=false on any malformed response, timeout, or
// transport error — the coordinator treats "no valid answer" identically
// regardless of cause, per the commit-reveal soundness rules.
type AgentChannel interface {
	// Commit sends this tick's observation and waits for a commitment
	// string (a hex digest the agent promises its revealed actions will
	// hash to).
	Commit(ctx context.Context, tick int, obs observe.Observation) (commit string, ok bool)

	// Reveal asks the agent to disclose the actions and nonce behind its
	// most recent commitment. The coordinator, not the transport, verifies
	// the hash matches.
	Reveal(ctx context.Context, tick int) (actions []model.Action, nonce string, ok bool)
}
