// Package sdk is the agent-facing half of the commit-reveal protocol: the
// same canonical-encoding/hashing routine the server uses to verify a
// reveal, packaged so a Go-written bot never has to reimplement it by
// hand. A non-Go agent must reproduce the same sorted-keys,
// compact-separator serialization exactly, or its honest reveals will
// be rejected.
package sdk

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/model"
)

// CanonicalActions renders actions the same way the server will when it
// recomputes a commit hash during the reveal phase. It accepts any
// JSON-shaped action list ([]model.Action or an equivalent wire struct)
// since canonicalization only depends on the serialized form.
func CanonicalActions(actions any) string {
	return canon.Marshal(actions)
}

// CommitHash returns the commitment an agent should send during the
// commit phase for the given actions and nonce, and the value the server
// will independently recompute during reveal.
func CommitHash(actions any, nonce string) string {
	return canon.Sha256Hex(CanonicalActions(actions) + nonce)
}

// Nonce returns a fresh 16-character hex nonce for one commit.
func Nonce() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// PlanetView, FleetView and PingView mirror the wire shapes an agent
// receives inside an Observation; they exist as named types (rather than
// requiring the agent to depend on internal/observe and internal/engine
// directly) since pkg/ is this module's public, externally-importable
// surface and internal/ is not.
type PlanetView struct {
	ID           int      `json:"id"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	Level        int      `json:"level"`
	Energy       float64  `json:"energy"`
	EnergyCap    float64  `json:"energy_cap"`
	Silver       float64  `json:"silver"`
	SilverCap    float64  `json:"silver_cap"`
	Defense      float64  `json:"defense"`
	Speed        float64  `json:"speed"`
	SensorRange  float64  `json:"sensor_range"`
	Owner        *int     `json:"owner"`
	IsArtifact   bool     `json:"is_artifact"`
	Visibility   string   `json:"visibility"`
	LastSeenTick int      `json:"last_seen_tick"`
}

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

type PingView struct {
	ID           int     `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Radius       float64 `json:"radius"`
	Strength     float64 `json:"strength"`
	SourcePlayer int     `json:"source_player"`
	Tick         int     `json:"tick"`
}

// Observation is the full payload an agent receives from the server at
// the start of each commit phase.
type Observation struct {
	Tick       int                  `json:"tick"`
	PlayerID   *int                 `json:"player_id"`
	Planets    []PlanetView         `json:"planets"`
	Fleets     []FleetView          `json:"fleets"`
	Pings      []PingView           `json:"pings"`
	Scores     []model.PlayerScore  `json:"scores"`
	MaxActions int                  `json:"max_actions"`
}
