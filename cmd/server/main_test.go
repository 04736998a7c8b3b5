package main

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ownworld/forest/internal/coordinator"
	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/transport/ws"
)

func TestLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"seed":42,"tick_ms":250,"match_ticks":300,"planet_count":80,"artifact_count":6,
		"max_actions_per_tick":5,"speed_const":0.08,"capture_threshold_fraction":0.15,
		"defense_multiplier":0.2,"ping_ttl_ticks":3,"ping_jitter":0.03,"ping_base_radius":0.05,
		"ping_base_strength":0.1,"artifact_ping_radius":0.2,"artifact_ping_strength":0.3,
		"artifact_points_per_tick":0.01,"score_top_n":5,"commit_timeout_ms":500,
		"reveal_timeout_ms":500,"player_home_min_distance":0.4}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Seed != 42 || config.PlanetCount != 80 || config.SpeedConst != 0.08 {
		t.Fatalf("config fields mangled: %+v", config)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func newTestMatchServer(t *testing.T) *matchServer {
	t.Helper()
	config := model.MatchConfig{
		MatchID: "test-match", Seed: 1, TickMS: 100, MatchTicks: 50,
		PlanetCount: 12, ArtifactCount: 1, MaxActionsPerTick: 5,
		SpeedConst: 0.08, CaptureThresholdFraction: 0.15, DefenseMultiplier: 0.2,
		PingTTLTicks: 3, PingJitter: 0.03, PingBaseRadius: 0.05, PingBaseStrength: 0.1,
		ArtifactPingRadius: 0.2, ArtifactPingStrength: 0.3,
		ArtifactPointsPerTick: 0.01, ScoreTopN: 5,
		CommitTimeoutMS: 100, RevealTimeoutMS: 100, PlayerHomeMinDistance: 0.3,
	}
	return &matchServer{
		config: config,
		state:  engine.NewState(config, []string{"Player 0", "Player 1"}),
		coord:  coordinator.New(100, 100),
		hub:    ws.NewHub(),
	}
}

func TestStatusHandlerReportsMatchShape(t *testing.T) {
	m := newTestMatchServer(t)
	m.publish(7, nil)

	rec := httptest.NewRecorder()
	m.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var got struct {
		MatchID    string   `json:"match_id"`
		Tick       int      `json:"tick"`
		MatchTicks int      `json:"match_ticks"`
		Players    []string `json:"players"`
		Done       bool     `json:"done"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MatchID != "test-match" || got.Tick != 7 || got.MatchTicks != 50 {
		t.Fatalf("status mangled: %+v", got)
	}
	if len(got.Players) != 2 || got.Done {
		t.Fatalf("status players/done mangled: %+v", got)
	}
}

func TestScoresHandlerServesPublishedCopy(t *testing.T) {
	m := newTestMatchServer(t)
	m.publish(0, []model.PlayerScore{{ID: 0, Name: "Player 0", Score: 1.5}})

	rec := httptest.NewRecorder()
	m.handleScores(rec, httptest.NewRequest("GET", "/scores", nil))

	var scores []model.PlayerScore
	if err := json.Unmarshal(rec.Body.Bytes(), &scores); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scores) != 1 || scores[0].Score != 1.5 {
		t.Fatalf("scores mangled: %+v", scores)
	}
}

func TestPlayerWSRejectsUnknownID(t *testing.T) {
	m := newTestMatchServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws/player/9", nil)
	req.SetPathValue("id", "9")
	m.handlePlayerWS(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404 for an out-of-range player id, got %d", rec.Code)
	}
}
