package engine

import (
	"testing"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
)

func testConfig() model.MatchConfig {
	return model.MatchConfig{
		Seed:                     1,
		TickMS:                   100,
		MatchTicks:               100,
		PlanetCount:              20,
		ArtifactCount:            2,
		MaxActionsPerTick:        5,
		SpeedConst:               0.05,
		CaptureThresholdFraction: 0.1,
		DefenseMultiplier:        0.5,
		PingTTLTicks:             3,
		PingJitter:               0.02,
		PingBaseRadius:           0.05,
		PingBaseStrength:         0.1,
		ArtifactPingRadius:       0.2,
		ArtifactPingStrength:     0.3,
		ArtifactPointsPerTick:    0.01,
		ScoreTopN:                5,
		CommitTimeoutMS:          500,
		RevealTimeoutMS:          500,
		PlayerHomeMinDistance:    0.4,
	}
}

func TestGrowthClampsAtCap(t *testing.T) {
	s := NewState(testConfig(), []string{"a", "b"})
	p := s.Planets[0]
	p.Energy = p.EnergyCap - 0.1
	p.EnergyGrowth = 5
	s.AdvanceTick(map[int][]model.Action{})
	if p.Energy != p.EnergyCap {
		t.Fatalf("expected energy clamped to cap %v, got %v", p.EnergyCap, p.Energy)
	}
}

func TestSendFleetRejectsUnownedSource(t *testing.T) {
	s := NewState(testConfig(), []string{"a", "b"})
	var unowned *model.Planet
	for _, p := range s.Planets {
		if p.Owner == nil {
			unowned = p
			break
		}
	}
	// Growth still runs this tick; only the launch deduction must be absent.
	want := canon.Clamp(unowned.Energy+unowned.EnergyGrowth, 0, unowned.EnergyCap)
	s.AdvanceTick(map[int][]model.Action{
		0: {{Type: model.ActionSendFleet, FromID: unowned.ID, ToID: s.Planets[0].ID, Energy: 10}},
	})
	if unowned.Energy != want {
		t.Fatalf("send_fleet from an unowned planet must be rejected")
	}
	if len(s.Fleets) != 0 {
		t.Fatalf("expected no fleet to be created")
	}
}

func TestSendFleetSameSourceAndDestDropped(t *testing.T) {
	s := NewState(testConfig(), []string{"a", "b"})
	home := homeOf(s, 0)
	s.AdvanceTick(map[int][]model.Action{
		0: {{Type: model.ActionSendFleet, FromID: home.ID, ToID: home.ID, Energy: 10}},
	})
	if len(s.Fleets) != 0 {
		t.Fatalf("send_fleet with identical source/dest must be silently dropped")
	}
}

func TestFleetArrivalTransfersOwnershipWhenUnowned(t *testing.T) {
	s := NewState(testConfig(), []string{"a"})
	home := homeOf(s, 0)
	var target *model.Planet
	for _, p := range s.Planets {
		if p.Owner == nil {
			target = p
			break
		}
	}
	s.AdvanceTick(map[int][]model.Action{
		0: {{Type: model.ActionSendFleet, FromID: home.ID, ToID: target.ID, Energy: home.Energy * 0.5}},
	})
	for len(s.Fleets) > 0 {
		s.AdvanceTick(map[int][]model.Action{})
	}
	if target.Owner == nil || *target.Owner != 0 {
		t.Fatalf("expected target planet captured by player 0")
	}
}

func TestCombatCapturesBelowThreshold(t *testing.T) {
	s := NewState(testConfig(), []string{"a", "b"})
	defender := s.Planets[5]
	owner := 1
	defender.Owner = &owner
	defender.Energy = 1
	defender.EnergyCap = 100
	defender.Defense = 0

	fleet := &model.Fleet{ID: 99, Owner: 0, SourceID: 0, DestID: 5, Energy: 200, TicksRemaining: 0, TotalTicks: 1}
	s.Fleets = append(s.Fleets, fleet)
	s.resolveArrivals()

	if defender.Owner == nil || *defender.Owner != 0 {
		t.Fatalf("expected defender captured by attacker")
	}
}

func TestCombatRepelledAboveThreshold(t *testing.T) {
	s := NewState(testConfig(), []string{"a", "b"})
	defender := s.Planets[5]
	owner := 1
	defender.Owner = &owner
	defender.Energy = 500
	defender.EnergyCap = 1000
	defender.Defense = 5

	fleet := &model.Fleet{ID: 98, Owner: 0, SourceID: 0, DestID: 5, Energy: 1, TicksRemaining: 0, TotalTicks: 1}
	s.Fleets = append(s.Fleets, fleet)
	s.resolveArrivals()

	if defender.Owner == nil || *defender.Owner != 1 {
		t.Fatalf("expected defender to repel a weak attack")
	}
}

func TestArtifactPingEmittedEachTickWhileOwned(t *testing.T) {
	s := NewState(testConfig(), []string{"a"})
	var artifact *model.Planet
	for _, p := range s.Planets {
		if p.IsArtifact {
			artifact = p
			break
		}
	}
	owner := 0
	artifact.Owner = &owner
	s.AdvanceTick(map[int][]model.Action{})
	found := false
	for _, p := range s.Pings {
		if p.SourcePlayer == 0 && p.X == artifact.X && p.Y == artifact.Y {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an artifact ping to be emitted for an owned artifact")
	}
}

func TestScoreAccumulatesTerritoryAndArtifacts(t *testing.T) {
	s := NewState(testConfig(), []string{"a"})
	before := s.Players[0].Score
	s.AdvanceTick(map[int][]model.Action{})
	if s.Players[0].Score <= before {
		t.Fatalf("expected score to increase from home-planet territory")
	}
}

func homeOf(s *State, playerID int) *model.Planet {
	for _, p := range s.Planets {
		if p.Owner != nil && *p.Owner == playerID {
			return p
		}
	}
	panic("no home planet found")
}
