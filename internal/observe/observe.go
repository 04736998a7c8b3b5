// Package observe projects an engine.State into the fogged view each
// player is entitled to see, and the unfogged view a spectator in
// omniscient mode sees.
package observe

import (
	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/model"
)

// Visibility tags what an observed planet row means to the receiving
// player: they currently own it, it is currently sensor/scan-visible, or
// the row is a cached last-known view of a planet no longer in range.
type Visibility string

const (
	VisibilityOwned   Visibility = "owned"
	VisibilityVisible Visibility = "visible"
	VisibilityStale   Visibility = "stale"
)

// PlanetObservation is one planet row as delivered to a player, carrying
// the visibility tag and (for stale rows) the tick it was last actually
// seen.
type PlanetObservation struct {
	model.Planet
	Visibility   Visibility `json:"visibility"`
	LastSeenTick int        `json:"last_seen_tick"`
}

// Observation is the full fogged payload handed to one player for a
// single tick's commit phase.
type Observation struct {
	Tick       int                 `json:"tick"`
	PlayerID   *int                `json:"player_id"`
	Planets    []PlanetObservation `json:"planets"`
	Fleets     []engine.FleetView  `json:"fleets"`
	Pings      []model.Ping        `json:"pings"`
	Scores     []model.PlayerScore `json:"scores"`
	MaxActions int                 `json:"max_actions"`
	MatchTicks int                 `json:"match_ticks"`
	TickMS     int                 `json:"tick_ms"`
}

// ForPlayer builds playerID's fogged view. scannedIDs is the set of planet
// ids this player's scan actions revealed this tick (empty outside a scan).
// A player always sees their own planets and anything within an owned
// planet's sensor range; anything previously seen but now out of range is
// served from the player's never-evicted known-planet cache, tagged stale.
func ForPlayer(s *engine.State, playerID int, scannedIDs []int) Observation {
	player := s.Players[playerID]
	visible := make(map[int]bool, len(scannedIDs))
	for _, id := range scannedIDs {
		visible[id] = true
	}

	var owned []*model.Planet
	for _, p := range s.Planets {
		if p.Owner != nil && *p.Owner == playerID {
			owned = append(owned, p)
			visible[p.ID] = true
		}
	}
	for _, home := range owned {
		for _, other := range s.Planets {
			if canon.Distance(home.X, home.Y, other.X, other.Y) <= home.SensorRange {
				visible[other.ID] = true
			}
		}
	}

	var planets []PlanetObservation
	for _, p := range s.Planets {
		if visible[p.ID] {
			vis := VisibilityVisible
			if p.Owner != nil && *p.Owner == playerID {
				vis = VisibilityOwned
			}
			obs := PlanetObservation{Planet: *p, Visibility: vis, LastSeenTick: s.Tick}
			player.KnownPlanets[p.ID] = toKnownPlanet(obs)
			planets = append(planets, obs)
		} else if cached, ok := player.KnownPlanets[p.ID]; ok {
			obs := fromKnownPlanet(cached)
			obs.Visibility = VisibilityStale
			planets = append(planets, obs)
		}
	}

	var fleets []engine.FleetView
	for _, f := range s.Fleets {
		source := s.PlanetByID(f.SourceID)
		dest := s.PlanetByID(f.DestID)
		x, y := engine.InterpolatedPosition(f, source, dest)
		if anyWithinSensorRange(owned, x, y) {
			fleets = append(fleets, engine.FleetView{
				ID: f.ID, Owner: f.Owner, SourceID: f.SourceID, DestID: f.DestID,
				Energy: f.Energy, TicksRemaining: f.TicksRemaining, TotalTicks: f.TotalTicks,
				X: x, Y: y,
			})
		}
	}

	var pings []model.Ping
	for _, p := range s.Pings {
		if anyWithinSensorRange(owned, p.X, p.Y) {
			pings = append(pings, *p)
		}
	}

	return Observation{
		Tick:       s.Tick,
		PlayerID:   &playerID,
		Planets:    planets,
		Fleets:     fleets,
		Pings:      pings,
		Scores:     scores(s),
		MaxActions: s.Config.MaxActionsPerTick,
		MatchTicks: s.Config.MatchTicks,
		TickMS:     s.Config.TickMS,
	}
}

// Omniscient returns the unfogged view: every planet, fleet and ping, with
// no visibility tagging, used by spectators.
func Omniscient(s *engine.State) Observation {
	planets := make([]PlanetObservation, len(s.Planets))
	for i, p := range s.Planets {
		planets[i] = PlanetObservation{Planet: *p}
	}
	fleets := make([]engine.FleetView, len(s.Fleets))
	for i, f := range s.Fleets {
		source := s.PlanetByID(f.SourceID)
		dest := s.PlanetByID(f.DestID)
		x, y := engine.InterpolatedPosition(f, source, dest)
		fleets[i] = engine.FleetView{
			ID: f.ID, Owner: f.Owner, SourceID: f.SourceID, DestID: f.DestID,
			Energy: f.Energy, TicksRemaining: f.TicksRemaining, TotalTicks: f.TotalTicks,
			X: x, Y: y,
		}
	}
	pings := make([]model.Ping, len(s.Pings))
	for i, p := range s.Pings {
		pings[i] = *p
	}
	return Observation{
		Tick:       s.Tick,
		PlayerID:   nil,
		Planets:    planets,
		Fleets:     fleets,
		Pings:      pings,
		Scores:     scores(s),
		MaxActions: s.Config.MaxActionsPerTick,
		MatchTicks: s.Config.MatchTicks,
		TickMS:     s.Config.TickMS,
	}
}

func anyWithinSensorRange(owned []*model.Planet, x, y float64) bool {
	for _, p := range owned {
		if canon.Distance(x, y, p.X, p.Y) <= p.SensorRange {
			return true
		}
	}
	return false
}

func scores(s *engine.State) []model.PlayerScore {
	out := make([]model.PlayerScore, len(s.Players))
	for i, p := range s.Players {
		out[i] = model.PlayerScore{
			ID:             p.ID,
			Name:           p.Name,
			Score:          p.Score,
			TerritoryScore: p.TerritoryScore,
			ArtifactScore:  p.ArtifactScore,
			ArtifactsHeld:  p.ArtifactsHeld,
		}
	}
	return out
}

// toKnownPlanet / fromKnownPlanet convert between the live observation
// struct and the player's persistent cache, which stores plain JSON-shaped
// maps so a stale row can be replayed verbatim without re-deriving it from
// a model.Planet that may no longer exist in this form.
func toKnownPlanet(obs PlanetObservation) model.KnownPlanet {
	return model.KnownPlanet{
		"id": obs.ID, "x": obs.X, "y": obs.Y, "level": obs.Level,
		"energy": obs.Energy, "energy_cap": obs.EnergyCap, "energy_growth": obs.EnergyGrowth,
		"silver": obs.Silver, "silver_cap": obs.SilverCap, "silver_growth": obs.SilverGrowth,
		"defense": obs.Defense, "speed": obs.Speed, "sensor_range": obs.SensorRange,
		"owner": obs.Owner, "is_artifact": obs.IsArtifact,
		"visibility": obs.Visibility, "last_seen_tick": obs.LastSeenTick,
	}
}

func fromKnownPlanet(kp model.KnownPlanet) PlanetObservation {
	owner, _ := kp["owner"].(*int)
	return PlanetObservation{
		Planet: model.Planet{
			ID:           kp["id"].(int),
			X:            kp["x"].(float64),
			Y:            kp["y"].(float64),
			Level:        kp["level"].(int),
			Energy:       kp["energy"].(float64),
			EnergyCap:    kp["energy_cap"].(float64),
			EnergyGrowth: kp["energy_growth"].(float64),
			Silver:       kp["silver"].(float64),
			SilverCap:    kp["silver_cap"].(float64),
			SilverGrowth: kp["silver_growth"].(float64),
			Defense:      kp["defense"].(float64),
			Speed:        kp["speed"].(float64),
			SensorRange:  kp["sensor_range"].(float64),
			Owner:        owner,
			IsArtifact:   kp["is_artifact"].(bool),
		},
		LastSeenTick: kp["last_seen_tick"].(int),
	}
}
