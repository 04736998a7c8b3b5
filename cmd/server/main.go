// The forest server boots one match and runs it to completion: it loads
// the match config, generates the world, serves the agent wire protocol
// over WebSocket and HTTP POST, feeds spectators, and writes the replay
// log plus the signed audit ledger as ticks complete.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/coordinator"
	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/ledger"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/internal/replay"
	"github.com/ownworld/forest/internal/transport/httppost"
	"github.com/ownworld/forest/internal/transport/ws"
)

var (
	InfoLog  *log.Logger
	ErrorLog *log.Logger
)

func setupLogging() {
	logDir := "./logs"
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.Mkdir(logDir, 0755)
	}
	fInfo, _ := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	fErr, _ := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	InfoLog = log.New(fInfo, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(fErr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// --- Rate Limiting ---

var (
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock     sync.Mutex
)

func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	limiter, exists := ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(5, 20)
		ipLimiters[ip] = limiter
	}
	return limiter
}

func middlewareRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ip != "::1" && ip != "127.0.0.1" {
			if !getLimiter(ip).Allow() {
				http.Error(w, "Rate Limit Exceeded", 429)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- Configuration ---

func loadConfig(path string) (model.MatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.MatchConfig{}, fmt.Errorf("read config: %w", err)
	}
	var config model.MatchConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return model.MatchConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

type stringList []string

func (s *stringList) String() string     { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// matchServer holds the running match and the read-only values the HTTP
// surface is allowed to see. The engine state itself is owned by the
// match loop goroutine; handlers read published copies, plus the fixed
// player roster (names and count), which the match loop never changes.
type matchServer struct {
	config model.MatchConfig
	state  *engine.State
	coord  *coordinator.Coordinator
	hub    *ws.Hub

	replayLog *replay.Logger
	audit     *ledger.Ledger

	mu            sync.Mutex
	publishedTick int
	scores        []model.PlayerScore
	done          bool
}

func (m *matchServer) publish(tick int, scores []model.PlayerScore) {
	m.mu.Lock()
	m.publishedTick = tick
	m.scores = scores
	m.mu.Unlock()
}

func (m *matchServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	names := make([]string, len(m.state.Players))
	for i, p := range m.state.Players {
		names[i] = p.Name
	}
	m.mu.Lock()
	tick := m.publishedTick
	done := m.done
	m.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{
		"match_id":    m.config.MatchID,
		"tick":        tick,
		"match_ticks": m.config.MatchTicks,
		"tick_ms":     m.config.TickMS,
		"players":     names,
		"done":        done,
	})
}

func (m *matchServer) handleScores(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	scores := append([]model.PlayerScore{}, m.scores...)
	m.mu.Unlock()
	json.NewEncoder(w).Encode(scores)
}

func (m *matchServer) handlePlayerWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || playerID < 0 || playerID >= len(m.state.Players) {
		http.Error(w, "Unknown Player", 404)
		return
	}
	ch, err := ws.Upgrade(w, r)
	if err != nil {
		ErrorLog.Printf("player %d upgrade: %v", playerID, err)
		return
	}
	m.coord.Register(playerID, ch)
	InfoLog.Printf("Player %d connected over WebSocket from %s", playerID, r.RemoteAddr)
}

func (m *matchServer) handleSpectatorWS(w http.ResponseWriter, r *http.Request) {
	if err := m.hub.AddSpectator(w, r); err != nil {
		ErrorLog.Printf("spectator upgrade: %v", err)
	}
}

// runMatch is the single owner of the engine state: phases, pipeline,
// persistence and broadcast all happen here, one tick at a time.
func (m *matchServer) runMatch(fast bool) {
	observations := make(map[int]observe.Observation, len(m.state.Players))
	for _, p := range m.state.Players {
		observations[p.ID] = observe.ForPlayer(m.state, p.ID, nil)
	}

	ctx := context.Background()
	for i := 0; i < m.config.MatchTicks; i++ {
		m.coord.CommitPhase(ctx, m.state.Tick, observations)
		actions := m.coord.RevealPhase(ctx, m.state.Tick)
		snapshot := m.state.AdvanceTick(actions)

		for _, p := range m.state.Players {
			observations[p.ID] = observe.ForPlayer(m.state, p.ID, snapshot.Scans[p.ID])
		}
		m.publish(snapshot.Tick, snapshot.Scores)

		if err := m.replayLog.LogTick(snapshot.Tick, snapshot, observations, actions); err != nil {
			ErrorLog.Printf("replay tick %d: %v", snapshot.Tick, err)
		}
		if _, err := m.audit.Append(snapshot.Tick, canon.Marshal(snapshot)); err != nil {
			ErrorLog.Printf("ledger tick %d: %v", snapshot.Tick, err)
		}
		m.hub.Broadcast(observations, observe.Omniscient(m.state))

		if !fast {
			time.Sleep(time.Duration(m.config.TickMS) * time.Millisecond)
		}
	}

	m.mu.Lock()
	m.done = true
	m.mu.Unlock()
	for _, score := range m.state.Players {
		InfoLog.Printf("Final: %s score=%.3f (territory %.3f, artifacts %.3f)",
			score.Name, score.Score, score.TerritoryScore, score.ArtifactScore)
	}
}

func main() {
	configPath := flag.String("config", "config.json", "path to match config JSON")
	players := flag.Int("players", 4, "number of player slots")
	addr := flag.String("addr", ":8000", "listen address")
	replayPath := flag.String("replay", "", "replay JSONL path (default replays/match_<id>.jsonl)")
	dbPath := flag.String("db", "", "audit ledger database path (default data/match_<id>.db)")
	fast := flag.Bool("fast", false, "advance ticks as fast as bots respond")
	var httpBots stringList
	flag.Var(&httpBots, "http-bot", "HTTP bot base URL (repeatable, assigned to slots in order)")
	flag.Parse()

	setupLogging()

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	config.MatchID = uuid.NewString()
	if *replayPath == "" {
		*replayPath = filepath.Join("replays", fmt.Sprintf("match_%s.jsonl", config.MatchID))
	}
	if *dbPath == "" {
		*dbPath = filepath.Join("data", fmt.Sprintf("match_%s.db", config.MatchID))
	}

	playerNames := make([]string, *players)
	for i := range playerNames {
		playerNames[i] = fmt.Sprintf("Player %d", i)
	}
	state := engine.NewState(config, playerNames)
	coord := coordinator.New(config.CommitTimeoutMS, config.RevealTimeoutMS)
	for i, url := range httpBots {
		if i < *players {
			coord.Register(i, httppost.New(url))
		}
	}

	replayLog, err := replay.Open(*replayPath)
	if err != nil {
		ErrorLog.Fatal(err)
	}
	defer replayLog.Close()
	audit, err := ledger.Open(*dbPath)
	if err != nil {
		ErrorLog.Fatal(err)
	}
	defer audit.Close()

	m := &matchServer{
		config:    config,
		state:     state,
		coord:     coord,
		hub:       ws.NewHub(),
		replayLog: replayLog,
		audit:     audit,
	}

	InfoLog.Printf("FOREST MATCH BOOT match=%s seed=%d planets=%d players=%d ticks=%d",
		config.MatchID, config.Seed, config.PlanetCount, *players, config.MatchTicks)

	go m.runMatch(*fast)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", m.handleStatus)
	mux.HandleFunc("GET /scores", m.handleScores)
	mux.HandleFunc("GET /ws/player/{id}", m.handlePlayerWS)
	mux.HandleFunc("GET /ws/spectator", m.handleSpectatorWS)

	server := &http.Server{
		Addr:              *addr,
		Handler:           middlewareRateLimit(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	InfoLog.Printf("Match %s listening on %s", config.MatchID, *addr)
	if err := server.ListenAndServe(); err != nil {
		ErrorLog.Fatal(err)
	}
}
