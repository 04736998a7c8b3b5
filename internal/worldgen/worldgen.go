// Package worldgen builds the deterministic starfield a match begins with:
// planet placement, per-level stat rolls, home-planet assignment and
// artifact assignment, all driven off a single seeded PRNG so that two
// matches started with the same seed and player count produce identical
// worlds.
package worldgen

import (
	"math/rand"
	"sort"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
)

// levelStep is one entry of the cumulative level-roll distribution: a
// planet level and the probability mass assigned to it.
type levelStep struct {
	level  int
	chance float64
}

// levelDistribution is fixed; changing these values changes every
// generated world.
var levelDistribution = []levelStep{
	{1, 0.4},
	{2, 0.25},
	{3, 0.2},
	{4, 0.1},
	{5, 0.05},
}

// StatsForLevel derives the seven base stats for a planet of the given level.
func StatsForLevel(level int) (energyCap, energyGrowth, silverCap, silverGrowth, defense, speed, sensorRange float64) {
	lvl := float64(level)
	energyCap = 40 + lvl*40
	energyGrowth = 1.0 + lvl*0.6
	silverCap = 30 + lvl*30
	silverGrowth = 0.6 + lvl*0.35
	defense = 0.8 + lvl*0.25
	speed = 0.6 + lvl*0.08
	sensorRange = 0.18 + lvl*0.06
	return
}

// Generate builds planetCount planets, assigns homeCount home planets (one
// per player) at least minHomeDistance apart where possible, and marks
// artifactCount of the remaining planets as artifacts. It is a pure
// function of (seed, planetCount, homeCount, artifactCount,
// minHomeDistance): identical inputs always produce an identical slice.
func Generate(seed int64, planetCount, homeCount, artifactCount int, minHomeDistance float64) []*model.Planet {
	rng := rand.New(rand.NewSource(seed))
	planets := make([]*model.Planet, 0, planetCount)
	for id := 0; id < planetCount; id++ {
		x := uniform(rng, -1, 1)
		y := uniform(rng, -1, 1)
		level := rollLevel(rng)
		energyCap, energyGrowth, silverCap, silverGrowth, defense, speed, sensorRange := StatsForLevel(level)
		planets = append(planets, &model.Planet{
			ID:           id,
			X:            x,
			Y:            y,
			Level:        level,
			Energy:       energyCap * 0.5,
			EnergyCap:    energyCap,
			EnergyGrowth: energyGrowth,
			Silver:       silverCap * 0.4,
			SilverCap:    silverCap,
			SilverGrowth: silverGrowth,
			Defense:      defense,
			Speed:        speed,
			SensorRange:  sensorRange,
		})
	}

	assignHomePlanets(rng, planets, homeCount, minHomeDistance)
	assignArtifacts(rng, planets, artifactCount)
	return planets
}

func uniform(rng *rand.Rand, low, high float64) float64 {
	return low + rng.Float64()*(high-low)
}

func rollLevel(rng *rand.Rand) int {
	roll := rng.Float64()
	cumulative := 0.0
	for _, step := range levelDistribution {
		cumulative += step.chance
		if roll <= cumulative {
			return step.level
		}
	}
	return 1
}

// assignHomePlanets shuffles the planet list and greedily picks homes that
// are at least minDistance apart; if that greedy pass can't fill every
// slot (clustered seeds, tight minDistance), the remaining slots are
// filled from whatever is left, overlap included.
func assignHomePlanets(rng *rand.Rand, planets []*model.Planet, homeCount int, minDistance float64) {
	candidates := make([]*model.Planet, len(planets))
	copy(candidates, planets)
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	chosen := make([]*model.Planet, 0, homeCount)
	for _, candidate := range candidates {
		tooClose := false
		for _, home := range chosen {
			if canon.Distance(candidate.X, candidate.Y, home.X, home.Y) < minDistance {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		chosen = append(chosen, candidate)
		if len(chosen) == homeCount {
			break
		}
	}
	if len(chosen) < homeCount {
		isChosen := make(map[int]bool, len(chosen))
		for _, c := range chosen {
			isChosen[c.ID] = true
		}
		for _, candidate := range candidates {
			if isChosen[candidate.ID] {
				continue
			}
			chosen = append(chosen, candidate)
			if len(chosen) == homeCount {
				break
			}
		}
	}

	for playerID, home := range chosen {
		home.Level = 3
		energyCap, energyGrowth, silverCap, silverGrowth, defense, speed, sensorRange := StatsForLevel(3)
		home.EnergyCap = energyCap
		home.EnergyGrowth = energyGrowth
		home.SilverCap = silverCap
		home.SilverGrowth = silverGrowth
		home.Defense = defense
		home.Speed = speed
		home.SensorRange = sensorRange
		home.Energy = energyCap * 0.8
		home.Silver = silverCap * 0.5
		owner := playerID
		home.Owner = &owner
	}
}

// assignArtifacts flags artifactCount planets drawn from the shuffled
// pool of the 4x-count highest-level unowned planets.
func assignArtifacts(rng *rand.Rand, planets []*model.Planet, artifactCount int) {
	candidates := make([]*model.Planet, 0, len(planets))
	for _, p := range planets {
		if p.Owner == nil {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Level > candidates[j].Level })

	poolSize := artifactCount * 4
	if poolSize < artifactCount {
		poolSize = artifactCount
	}
	if poolSize > len(candidates) {
		poolSize = len(candidates)
	}
	top := candidates[:poolSize]
	rng.Shuffle(len(top), func(i, j int) { top[i], top[j] = top[j], top[i] })

	limit := artifactCount
	if limit > len(top) {
		limit = len(top)
	}
	for _, p := range top[:limit] {
		p.IsArtifact = true
	}
}
