// Package engine runs the authoritative tick pipeline: growth, action
// dispatch, fleet movement, arrival/combat resolution, ping lifecycle and
// scoring, in that fixed order every tick. Nothing outside this package
// mutates a State's planets, fleets, or pings directly.
package engine

import (
	"math"
	"sort"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/worldgen"
)

// State is one match's complete, authoritative world. It is never accessed
// concurrently with tick execution; the coordinator only hands out
// snapshots and observations derived from it between ticks.
type State struct {
	Config  model.MatchConfig
	Tick    int
	Planets []*model.Planet
	Fleets  []*model.Fleet
	Pings   []*model.Ping
	Players []*model.PlayerState

	nextFleetID int
	nextPingID  int
}

// NewState builds a fresh match from config and the given player names,
// generating the starfield deterministically from config.Seed.
func NewState(config model.MatchConfig, playerNames []string) *State {
	s := &State{
		Config:      config,
		nextFleetID: 1,
		nextPingID:  1,
	}
	s.Players = make([]*model.PlayerState, len(playerNames))
	for i, name := range playerNames {
		s.Players[i] = model.NewPlayerState(i, name)
	}
	s.Planets = worldgen.Generate(config.Seed, config.PlanetCount, len(playerNames), config.ArtifactCount, config.PlayerHomeMinDistance)
	return s
}

func (s *State) planetByID(id int) *model.Planet {
	return s.Planets[id]
}

// PlanetByID returns the planet with the given id. Planet ids are dense
// indices assigned at world generation, so this is an O(1) slice lookup.
func (s *State) PlanetByID(id int) *model.Planet {
	return s.planetByID(id)
}

// Snapshot is the full-state payload built at the end of every tick.
type Snapshot struct {
	Tick    int                   `json:"tick"`
	Planets []model.Planet        `json:"planets"`
	Fleets  []FleetView           `json:"fleets"`
	Pings   []model.Ping          `json:"pings"`
	Scores  []model.PlayerScore   `json:"scores"`
	Scans   map[int][]int         `json:"scans"`
}

// FleetView is a fleet's wire representation, including its interpolated
// current position.
type FleetView struct {
	ID             int     `json:"id"`
	Owner          int     `json:"owner"`
	SourceID       int     `json:"source_id"`
	DestID         int     `json:"dest_id"`
	Energy         float64 `json:"energy"`
	TicksRemaining int     `json:"ticks_remaining"`
	TotalTicks     int     `json:"total_ticks"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
}

// AdvanceTick runs one full tick against actionsByPlayer (already
// deduplicated per player by the coordinator) and returns the resulting
// snapshot. The step order is fixed: growth, actions, movement, arrivals,
// ping decay, artifact pings, scoring, snapshot, tick increment.
func (s *State) AdvanceTick(actionsByPlayer map[int][]model.Action) Snapshot {
	s.applyGrowth()
	scans := s.processActions(actionsByPlayer)
	s.moveFleets()
	s.resolveArrivals()
	s.decayPings()
	s.emitArtifactPings()
	s.updateScores()
	snapshot := s.buildSnapshot(scans)
	s.Tick++
	return snapshot
}

func (s *State) applyGrowth() {
	for _, p := range s.Planets {
		p.Energy = canon.Clamp(p.Energy+p.EnergyGrowth, 0, p.EnergyCap)
		p.Silver = canon.Clamp(p.Silver+p.SilverGrowth, 0, p.SilverCap)
	}
}

// processActions dispatches every player's capped action list, in
// player-id order, and returns the planet ids each player's scans
// revealed this tick.
func (s *State) processActions(actionsByPlayer map[int][]model.Action) map[int][]int {
	scans := make(map[int][]int, len(s.Players))
	for _, p := range s.Players {
		scans[p.ID] = []int{}
	}

	playerIDs := make([]int, 0, len(actionsByPlayer))
	for pid := range actionsByPlayer {
		playerIDs = append(playerIDs, pid)
	}
	sort.Ints(playerIDs)

	for _, playerID := range playerIDs {
		actions := actionsByPlayer[playerID]
		if len(actions) > s.Config.MaxActionsPerTick {
			actions = actions[:s.Config.MaxActionsPerTick]
		}
		for _, action := range actions {
			switch action.Type {
			case model.ActionScan:
				revealed := s.handleScan(playerID, action)
				scans[playerID] = append(scans[playerID], revealed...)
			case model.ActionSendFleet:
				s.handleSendFleet(playerID, action)
			case model.ActionUpgrade:
				s.handleUpgrade(playerID, action)
			}
		}
	}
	return scans
}

func (s *State) handleScan(playerID int, action model.Action) []int {
	cost := 8.0 * action.Radius
	var owned []*model.Planet
	for _, p := range s.Planets {
		if p.Owner != nil && *p.Owner == playerID {
			owned = append(owned, p)
		}
	}
	if len(owned) == 0 {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool {
		return canon.Distance(owned[i].X, owned[i].Y, action.X, action.Y) < canon.Distance(owned[j].X, owned[j].Y, action.X, action.Y)
	})
	source := owned[0]
	if source.Energy < cost {
		return nil
	}
	source.Energy -= cost

	var revealed []int
	for _, p := range s.Planets {
		if canon.Distance(p.X, p.Y, action.X, action.Y) <= action.Radius {
			revealed = append(revealed, p.ID)
		}
	}
	return revealed
}

func (s *State) handleSendFleet(playerID int, action model.Action) {
	sourceID, destID := action.FromID, action.ToID
	if sourceID == destID {
		return
	}
	if sourceID < 0 || sourceID >= len(s.Planets) || destID < 0 || destID >= len(s.Planets) {
		return
	}
	source := s.planetByID(sourceID)
	if source.Owner == nil || *source.Owner != playerID {
		return
	}
	energy := action.Energy
	if energy <= 0 || energy > source.Energy {
		return
	}
	dest := s.planetByID(destID)
	dist := canon.Distance(source.X, source.Y, dest.X, dest.Y)
	travelTicks := int(math.Ceil(dist / (source.Speed * s.Config.SpeedConst)))
	if travelTicks < 1 {
		travelTicks = 1
	}
	source.Energy -= energy

	fleet := &model.Fleet{
		ID:             s.nextFleetID,
		Owner:          playerID,
		SourceID:       sourceID,
		DestID:         destID,
		Energy:         energy,
		LaunchTick:     s.Tick,
		TotalTicks:     travelTicks,
		TicksRemaining: travelTicks,
	}
	s.nextFleetID++
	s.Fleets = append(s.Fleets, fleet)
	s.emitFleetPing(fleet)
}

func (s *State) handleUpgrade(playerID int, action model.Action) {
	planetID := action.PlanetID
	if planetID < 0 || planetID >= len(s.Planets) {
		return
	}
	planet := s.planetByID(planetID)
	if planet.Owner == nil || *planet.Owner != playerID {
		return
	}
	cost := 15 + float64(planet.Level)*12
	if planet.Silver < cost {
		return
	}
	planet.Silver -= cost
	lvl := float64(planet.Level)
	switch action.Upgrade {
	case model.UpgradeEnergy:
		planet.EnergyCap += 12 + lvl*3
		planet.EnergyGrowth += 0.2 + lvl*0.05
	case model.UpgradeSilver:
		planet.SilverCap += 10 + lvl*3
		planet.SilverGrowth += 0.15 + lvl*0.05
	case model.UpgradeDefense:
		planet.Defense += 0.15 + lvl*0.04
	case model.UpgradeSpeed:
		planet.Speed += 0.04 + lvl*0.01
	case model.UpgradeSensor:
		planet.SensorRange += 0.04 + lvl*0.01
	}
}

func (s *State) moveFleets() {
	for _, f := range s.Fleets {
		f.TicksRemaining--
	}
}

func (s *State) resolveArrivals() {
	var arrived []*model.Fleet
	for _, f := range s.Fleets {
		if f.TicksRemaining <= 0 {
			arrived = append(arrived, f)
		}
	}
	sort.Slice(arrived, func(i, j int) bool { return arrived[i].ID < arrived[j].ID })

	for _, fleet := range arrived {
		dest := s.planetByID(fleet.DestID)
		if dest.Owner == nil || *dest.Owner == fleet.Owner {
			owner := fleet.Owner
			dest.Owner = &owner
			dest.Energy = canon.Clamp(dest.Energy+fleet.Energy, 0, dest.EnergyCap)
		} else {
			s.resolveCombat(dest, fleet)
		}
	}

	remaining := s.Fleets[:0]
	for _, f := range s.Fleets {
		if f.TicksRemaining > 0 {
			remaining = append(remaining, f)
		}
	}
	s.Fleets = remaining
}

func (s *State) resolveCombat(dest *model.Planet, fleet *model.Fleet) {
	defenseFactor := 1.0 + dest.Defense*s.Config.DefenseMultiplier
	damage := fleet.Energy / defenseFactor
	dest.Energy -= damage
	captureThreshold := dest.EnergyCap * s.Config.CaptureThresholdFraction
	if dest.Energy < captureThreshold {
		owner := fleet.Owner
		dest.Owner = &owner
		leftover := math.Max(0, fleet.Energy-damage)
		dest.Energy = canon.Clamp(leftover, 0, dest.EnergyCap)
	} else {
		dest.Energy = canon.Clamp(dest.Energy, 0, dest.EnergyCap)
	}
}

func (s *State) emitFleetPing(fleet *model.Fleet) {
	source := s.planetByID(fleet.SourceID)
	rng := canon.DeterministicRNG(s.Config.Seed, "ping", s.Tick, fleet.ID)
	jitterX := (rng.Float64()*2 - 1) * s.Config.PingJitter
	jitterY := (rng.Float64()*2 - 1) * s.Config.PingJitter
	radius := s.Config.PingBaseRadius + math.Sqrt(fleet.Energy)*0.01
	strength := s.Config.PingBaseStrength + math.Sqrt(fleet.Energy)*0.02
	if source.IsArtifact {
		radius += s.Config.ArtifactPingRadius * 0.5
		strength += s.Config.ArtifactPingStrength * 0.8
	}
	ping := &model.Ping{
		ID:           s.nextPingID,
		X:            source.X + jitterX,
		Y:            source.Y + jitterY,
		Radius:       radius,
		Strength:     strength,
		SourcePlayer: fleet.Owner,
		Tick:         s.Tick,
		TTL:          s.Config.PingTTLTicks,
	}
	s.nextPingID++
	s.Pings = append(s.Pings, ping)
}

func (s *State) emitArtifactPings() {
	for _, planet := range s.Planets {
		if !planet.IsArtifact || planet.Owner == nil {
			continue
		}
		ping := &model.Ping{
			ID:           s.nextPingID,
			X:            planet.X,
			Y:            planet.Y,
			Radius:       s.Config.ArtifactPingRadius,
			Strength:     s.Config.ArtifactPingStrength,
			SourcePlayer: *planet.Owner,
			Tick:         s.Tick,
			TTL:          1,
		}
		s.nextPingID++
		s.Pings = append(s.Pings, ping)
	}
}

func (s *State) decayPings() {
	remaining := s.Pings[:0]
	for _, p := range s.Pings {
		p.TTL--
		if p.TTL > 0 {
			remaining = append(remaining, p)
		}
	}
	s.Pings = remaining
}

func (s *State) updateScores() {
	for _, player := range s.Players {
		var owned []*model.Planet
		artifacts := 0
		for _, p := range s.Planets {
			if p.Owner != nil && *p.Owner == player.ID {
				owned = append(owned, p)
				if p.IsArtifact {
					artifacts++
				}
			}
		}
		sort.Slice(owned, func(i, j int) bool { return owned[i].EnergyCap > owned[j].EnergyCap })
		topN := owned
		if len(topN) > s.Config.ScoreTopN {
			topN = topN[:s.Config.ScoreTopN]
		}
		territoryGain := 0.0
		for _, p := range topN {
			territoryGain += p.EnergyCap
		}
		territoryGain /= 1000.0

		player.ArtifactsHeld = artifacts
		artifactGain := float64(artifacts) * s.Config.ArtifactPointsPerTick
		player.TerritoryScore += territoryGain
		player.ArtifactScore += artifactGain
		player.Score = player.TerritoryScore + player.ArtifactScore
	}
}

func (s *State) buildSnapshot(scans map[int][]int) Snapshot {
	planets := make([]model.Planet, len(s.Planets))
	for i, p := range s.Planets {
		planets[i] = *p
	}
	fleets := make([]FleetView, len(s.Fleets))
	for i, f := range s.Fleets {
		fleets[i] = s.fleetView(f)
	}
	pings := make([]model.Ping, len(s.Pings))
	for i, p := range s.Pings {
		pings[i] = *p
	}
	return Snapshot{
		Tick:    s.Tick,
		Planets: planets,
		Fleets:  fleets,
		Pings:   pings,
		Scores:  s.playerScores(),
		Scans:   scans,
	}
}

func (s *State) fleetView(fleet *model.Fleet) FleetView {
	source := s.planetByID(fleet.SourceID)
	dest := s.planetByID(fleet.DestID)
	x, y := InterpolatedPosition(fleet, source, dest)
	return FleetView{
		ID:             fleet.ID,
		Owner:          fleet.Owner,
		SourceID:       fleet.SourceID,
		DestID:         fleet.DestID,
		Energy:         fleet.Energy,
		TicksRemaining: fleet.TicksRemaining,
		TotalTicks:     fleet.TotalTicks,
		X:              x,
		Y:              y,
	}
}

// InterpolatedPosition returns a fleet's current position along the
// straight line between source and dest, given its remaining travel time.
// Shared with internal/observe so in-flight fleets render consistently in
// both full snapshots and fogged observations.
func InterpolatedPosition(fleet *model.Fleet, source, dest *model.Planet) (x, y float64) {
	progress := 1.0 - float64(fleet.TicksRemaining)/float64(fleet.TotalTicks)
	return source.X + (dest.X-source.X)*progress, source.Y + (dest.Y-source.Y)*progress
}

func (s *State) playerScores() []model.PlayerScore {
	scores := make([]model.PlayerScore, len(s.Players))
	for i, p := range s.Players {
		scores[i] = model.PlayerScore{
			ID:             p.ID,
			Name:           p.Name,
			Score:          p.Score,
			TerritoryScore: p.TerritoryScore,
			ArtifactScore:  p.ArtifactScore,
			ArtifactsHeld:  p.ArtifactsHeld,
		}
	}
	return scores
}
