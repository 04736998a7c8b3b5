// Package runner drives a complete match synchronously, with no server
// process and no real-time pacing: ticks advance as fast as every bot
// answers. Bots are either in-process policies from internal/bots or
// external commands spoken to over the stdio transport — the same
// commit-reveal coordinator and engine as the networked server, so a
// runner match is bit-identical to a served one given the same config
// and action streams.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/ownworld/forest/internal/bots"
	"github.com/ownworld/forest/internal/coordinator"
	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/internal/replay"
	"github.com/ownworld/forest/internal/transport/stdio"
	"github.com/ownworld/forest/pkg/sdk"
)

// Options selects who plays and where the replay goes. Policies and
// Commands are concatenated in order to fill player slots; when fewer
// entries than players are given, the list wraps around.
type Options struct {
	Config     model.MatchConfig
	Players    int
	Policies   []string // named entries in bots.Policies
	Commands   []string // external stdio bot command paths
	ReplayPath string   // empty disables replay logging
}

// Result summarizes a finished match.
type Result struct {
	FinalSnapshot engine.Snapshot
	Scores        []model.PlayerScore
}

// policyAgent adapts an in-process bot policy to the coordinator's
// AgentChannel: it plays honestly, committing to exactly what it will
// reveal.
type policyAgent struct {
	policy bots.Policy
	rng    *rand.Rand

	mu      sync.Mutex
	actions []model.Action
	nonce   string
}

func (a *policyAgent) Commit(ctx context.Context, tick int, obs observe.Observation) (string, bool) {
	sdkObs, err := toSDKObservation(obs)
	if err != nil {
		return "", false
	}
	payloads := a.policy(sdkObs, a.rng)
	actions, err := toModelActions(payloads)
	if err != nil {
		return "", false
	}
	nonce := sdk.Nonce()

	a.mu.Lock()
	a.actions, a.nonce = actions, nonce
	a.mu.Unlock()
	return sdk.CommitHash(actions, nonce), true
}

func (a *policyAgent) Reveal(ctx context.Context, tick int) ([]model.Action, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actions, a.nonce, true
}

// toSDKObservation re-serializes the engine-side observation into the
// wire shape a bot sees, so in-process policies read exactly what a
// networked bot would.
func toSDKObservation(obs observe.Observation) (sdk.Observation, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return sdk.Observation{}, err
	}
	var out sdk.Observation
	if err := json.Unmarshal(data, &out); err != nil {
		return sdk.Observation{}, err
	}
	return out, nil
}

func toModelActions(payloads []bots.ActionPayload) ([]model.Action, error) {
	data, err := json.Marshal(payloads)
	if err != nil {
		return nil, err
	}
	var actions []model.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []model.Action{}
	}
	return actions, nil
}

// Run plays the whole match and returns the final standings.
func Run(opts Options) (*Result, error) {
	if opts.Players <= 0 {
		opts.Players = 4
	}
	playerNames := make([]string, opts.Players)
	for i := range playerNames {
		playerNames[i] = fmt.Sprintf("Bot %d", i)
	}
	state := engine.NewState(opts.Config, playerNames)
	coord := coordinator.New(opts.Config.CommitTimeoutMS, opts.Config.RevealTimeoutMS)

	entries := append(append([]string{}, opts.Policies...), opts.Commands...)
	if len(entries) == 0 {
		entries = []string{"random"}
	}
	var children []*stdio.Channel
	defer func() {
		for _, c := range children {
			c.Close()
		}
	}()
	for i := 0; i < opts.Players; i++ {
		entry := entries[i%len(entries)]
		if policy, ok := bots.Policies[entry]; ok {
			coord.Register(i, &policyAgent{
				policy: policy,
				rng:    rand.New(rand.NewSource(opts.Config.Seed + int64(i))),
			})
			continue
		}
		parts := strings.Fields(entry)
		child, err := stdio.Start(parts[0], parts[1:]...)
		if err != nil {
			return nil, fmt.Errorf("runner: start bot %q: %w", entry, err)
		}
		children = append(children, child)
		coord.Register(i, child)
	}

	var replayLog *replay.Logger
	if opts.ReplayPath != "" {
		var err error
		replayLog, err = replay.Open(opts.ReplayPath)
		if err != nil {
			return nil, err
		}
		defer replayLog.Close()
	}

	observations := make(map[int]observe.Observation, len(state.Players))
	for _, p := range state.Players {
		observations[p.ID] = observe.ForPlayer(state, p.ID, nil)
	}

	ctx := context.Background()
	var snapshot engine.Snapshot
	for i := 0; i < opts.Config.MatchTicks; i++ {
		coord.CommitPhase(ctx, state.Tick, observations)
		actions := coord.RevealPhase(ctx, state.Tick)
		snapshot = state.AdvanceTick(actions)
		for _, p := range state.Players {
			observations[p.ID] = observe.ForPlayer(state, p.ID, snapshot.Scans[p.ID])
		}
		if replayLog != nil {
			if err := replayLog.LogTick(snapshot.Tick, snapshot, observations, actions); err != nil {
				return nil, err
			}
		}
	}

	return &Result{FinalSnapshot: snapshot, Scores: snapshot.Scores}, nil
}
