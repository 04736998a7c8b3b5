// Package bots reimplements the reference bot strategies as pure
// functions over a view of the world, for use by internal/runner and as
// fixtures in tests. None of this is core engine logic — it is a
// supporting cast for driving the engine end to end without a human or an
// external process at the other end of the wire.
package bots

import (
	"math/rand"

	"github.com/ownworld/forest/pkg/sdk"
)

// Policy produces an agent's action list for one observation.
type Policy func(obs sdk.Observation, rng *rand.Rand) []ActionPayload

// ActionPayload mirrors model.Action's JSON shape without importing
// internal/model, since bots only ever see the wire-level sdk.Observation
// and must emit wire-level actions.
type ActionPayload struct {
	Type     string  `json:"type"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	FromID   int     `json:"from_id,omitempty"`
	ToID     int     `json:"to_id,omitempty"`
	Energy   float64 `json:"energy,omitempty"`
	PlanetID int     `json:"planet_id,omitempty"`
	Upgrade  string  `json:"upgrade,omitempty"`
}

var upgradeKinds = []string{"energy", "silver", "defense", "speed", "sensor"}

func ownedPlanets(obs sdk.Observation) []sdk.PlanetView {
	var owned []sdk.PlanetView
	if obs.PlayerID == nil {
		return owned
	}
	for _, p := range obs.Planets {
		if p.Owner != nil && *p.Owner == *obs.PlayerID {
			owned = append(owned, p)
		}
	}
	return owned
}

func capActions(actions []ActionPayload, max int) []ActionPayload {
	if max > 0 && len(actions) > max {
		return actions[:max]
	}
	return actions
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return dx*dx + dy*dy
}

// Random scans occasionally, harasses a random non-owned target, and
// sometimes upgrades.
func Random(obs sdk.Observation, rng *rand.Rand) []ActionPayload {
	owned := ownedPlanets(obs)
	if len(owned) == 0 {
		return nil
	}
	var actions []ActionPayload

	if rng.Float64() < 0.4 {
		source := owned[rng.Intn(len(owned))]
		actions = append(actions, ActionPayload{Type: "scan", X: source.X, Y: source.Y, Radius: 0.2 + rng.Float64()*0.2})
	}

	var targets []sdk.PlanetView
	for _, p := range obs.Planets {
		if obs.PlayerID == nil || p.Owner == nil || *p.Owner != *obs.PlayerID {
			targets = append(targets, p)
		}
	}
	if len(targets) > 0 {
		source := owned[rng.Intn(len(owned))]
		target := targets[rng.Intn(len(targets))]
		energy := source.Energy * 0.3
		if energy < 5 {
			energy = 5
		}
		actions = append(actions, ActionPayload{Type: "send_fleet", FromID: source.ID, ToID: target.ID, Energy: energy})
	}

	if rng.Float64() < 0.3 {
		source := owned[rng.Intn(len(owned))]
		actions = append(actions, ActionPayload{Type: "upgrade", PlanetID: source.ID, Upgrade: upgradeKinds[rng.Intn(len(upgradeKinds))]})
	}

	return capActions(actions, obs.MaxActions)
}

// Rush always throws the strongest owned planet's energy at the nearest
// enemy planet, falling back to neutrals when no enemy is in sight.
func Rush(obs sdk.Observation, rng *rand.Rand) []ActionPayload {
	owned := ownedPlanets(obs)
	if len(owned) == 0 {
		return nil
	}
	source := owned[0]
	for _, p := range owned {
		if p.Energy > source.Energy {
			source = p
		}
	}

	var targets, neutrals []sdk.PlanetView
	for _, p := range obs.Planets {
		if p.Owner == nil {
			neutrals = append(neutrals, p)
		} else if obs.PlayerID == nil || *p.Owner != *obs.PlayerID {
			targets = append(targets, p)
		}
	}
	pool := targets
	if len(pool) == 0 {
		pool = neutrals
	}
	if len(pool) == 0 {
		return nil
	}
	target := pool[0]
	best := sqDist(target.X, target.Y, source.X, source.Y)
	for _, p := range pool[1:] {
		if d := sqDist(p.X, p.Y, source.X, source.Y); d < best {
			best, target = d, p
		}
	}
	energy := source.Energy * 0.6
	if energy < 10 {
		energy = 10
	}
	return []ActionPayload{{Type: "send_fleet", FromID: source.ID, ToID: target.ID, Energy: energy}}
}

// Expansion spends strong planets on claiming the nearest neutral, falling
// back to an energy upgrade once it's out of good launches or targets.
func Expansion(obs sdk.Observation, rng *rand.Rand) []ActionPayload {
	owned := ownedPlanets(obs)
	if len(owned) == 0 {
		return nil
	}
	sortedOwned := append([]sdk.PlanetView(nil), owned...)
	for i := 1; i < len(sortedOwned); i++ {
		for j := i; j > 0 && sortedOwned[j].Energy > sortedOwned[j-1].Energy; j-- {
			sortedOwned[j], sortedOwned[j-1] = sortedOwned[j-1], sortedOwned[j]
		}
	}

	var neutrals []sdk.PlanetView
	for _, p := range obs.Planets {
		if p.Owner == nil {
			neutrals = append(neutrals, p)
		}
	}

	var actions []ActionPayload
	for _, source := range sortedOwned {
		if len(actions) >= obs.MaxActions {
			break
		}
		if source.Energy < source.EnergyCap*0.5 {
			continue
		}
		if len(neutrals) == 0 {
			break
		}
		target := neutrals[0]
		best := sqDist(target.X, target.Y, source.X, source.Y)
		for _, n := range neutrals[1:] {
			if d := sqDist(n.X, n.Y, source.X, source.Y); d < best {
				best, target = d, n
			}
		}
		energy := source.Energy * 0.35
		if energy < 8 {
			energy = 8
		}
		actions = append(actions, ActionPayload{Type: "send_fleet", FromID: source.ID, ToID: target.ID, Energy: energy})
	}

	if len(actions) < obs.MaxActions {
		home := sortedOwned[0]
		for _, p := range sortedOwned {
			if p.EnergyCap > home.EnergyCap {
				home = p
			}
		}
		actions = append(actions, ActionPayload{Type: "upgrade", PlanetID: home.ID, Upgrade: "energy"})
	}
	return actions
}

// Turtle fortifies its home planet and only launches when flush with
// energy.
func Turtle(obs sdk.Observation, rng *rand.Rand) []ActionPayload {
	owned := ownedPlanets(obs)
	if len(owned) == 0 {
		return nil
	}
	home := owned[0]
	for _, p := range owned {
		if p.EnergyCap > home.EnergyCap {
			home = p
		}
	}

	actions := []ActionPayload{
		{Type: "upgrade", PlanetID: home.ID, Upgrade: "defense"},
		{Type: "upgrade", PlanetID: home.ID, Upgrade: "sensor"},
	}
	if len(actions) < obs.MaxActions {
		actions = append(actions, ActionPayload{Type: "scan", X: home.X, Y: home.Y, Radius: 0.35})
	}

	if home.EnergyCap > 0 && home.Energy > home.EnergyCap*0.7 {
		var targets []sdk.PlanetView
		for _, p := range obs.Planets {
			if p.Owner == nil {
				targets = append(targets, p)
			}
		}
		if len(targets) > 0 {
			target := targets[0]
			best := sqDist(target.X, target.Y, home.X, home.Y)
			for _, p := range targets[1:] {
				if d := sqDist(p.X, p.Y, home.X, home.Y); d < best {
					best, target = d, p
				}
			}
			actions = append(actions, ActionPayload{Type: "send_fleet", FromID: home.ID, ToID: target.ID, Energy: home.Energy * 0.25})
		}
	}

	return capActions(actions, obs.MaxActions)
}

// Policies is the full named registry of reference strategies, used by
// internal/runner to assign a bot to each unfilled player slot.
var Policies = map[string]Policy{
	"random":    Random,
	"rush":      Rush,
	"expansion": Expansion,
	"turtle":    Turtle,
}
