// The forest console is the operator's line-oriented companion to the
// match server: check status, print the score table, watch a match live
// through the spectator feed, run a full local match without a server
// ("run"), or act as the child-process end of the stdio transport
// ("bot").
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/ownworld/forest/internal/bots"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/internal/runner"
)

var ServerURL = "http://localhost:8000"

type statusResponse struct {
	MatchID    string   `json:"match_id"`
	Tick       int      `json:"tick"`
	MatchTicks int      `json:"match_ticks"`
	TickMS     int      `json:"tick_ms"`
	Players    []string `json:"players"`
	Done       bool     `json:"done"`
}

func main() {
	if url := os.Getenv("FOREST_SERVER"); url != "" {
		ServerURL = url
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runLocalMatch(os.Args[2:])
			return
		case "bot":
			runStdioBot(os.Args[2:])
			return
		}
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Forest Match Console")
	fmt.Printf("Target Server: %s\n", ServerURL)
	fmt.Println("Commands: status, scores, watch [player <id>|omni] [n], help, quit")

	for {
		fmt.Print("> ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(strings.TrimSpace(text))
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "status":
			doStatus()
		case "scores":
			doScores()
		case "watch":
			doWatch(parts[1:])
		case "help":
			fmt.Println("Available Commands:")
			fmt.Println("  status                  - match id, tick progress, players")
			fmt.Println("  scores                  - current score table")
			fmt.Println("  watch [player <id>] [n] - stream n ticks (default 10), omniscient unless a player is named")
			fmt.Println("  quit                    - disconnect")
		case "quit", "exit":
			fmt.Println("Disconnecting...")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for options.")
		}
	}
}

func fetchStatus() (statusResponse, error) {
	var s statusResponse
	resp, err := http.Get(ServerURL + "/status")
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &s); err != nil {
		return s, err
	}
	return s, nil
}

func doStatus() {
	s, err := fetchStatus()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	matchDisp := s.MatchID
	if len(matchDisp) > 8 {
		matchDisp = matchDisp[:8]
	}
	fmt.Printf("Match %s | Tick %s/%s | Players: %s\n",
		matchDisp,
		humanize.Comma(int64(s.Tick)), humanize.Comma(int64(s.MatchTicks)),
		strings.Join(s.Players, ", "))
	if s.Done {
		fmt.Println("Match complete.")
		return
	}
	remaining := time.Duration(s.MatchTicks-s.Tick) * time.Duration(s.TickMS) * time.Millisecond
	fmt.Printf("Estimated finish: %s\n", humanize.Time(time.Now().Add(remaining)))
}

func doScores() {
	resp, err := http.Get(ServerURL + "/scores")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	var scores []model.PlayerScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		fmt.Printf("Protocol Error: %v\n", err)
		return
	}
	printScoreTable(scores)
}

func printScoreTable(scores []model.PlayerScore) {
	sorted := append([]model.PlayerScore{}, scores...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	fmt.Printf("%-4s %-12s %10s %10s %10s %9s\n", "#", "Player", "Score", "Territory", "Artifact", "Held")
	for rank, s := range sorted {
		fmt.Printf("%-4s %-12s %10s %10s %10s %9d\n",
			humanize.Ordinal(rank+1), s.Name,
			humanize.CommafWithDigits(s.Score, 3),
			humanize.CommafWithDigits(s.TerritoryScore, 3),
			humanize.CommafWithDigits(s.ArtifactScore, 3),
			s.ArtifactsHeld)
	}
}

// doWatch streams tick states from the spectator feed, one summary line
// per tick, switching perspective first if a player was named.
func doWatch(args []string) {
	ticks := 10
	var playerID *int
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "omni":
		case args[i] == "player" && i+1 < len(args):
			id, err := strconv.Atoi(args[i+1])
			if err != nil {
				fmt.Println("Usage: watch [player <id>|omni] [n]")
				return
			}
			playerID = &id
			i++
		default:
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				fmt.Println("Usage: watch [player <id>|omni] [n]")
				return
			}
			ticks = n
		}
	}

	wsURL := strings.Replace(ServerURL, "http", "ws", 1) + "/ws/spectator"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer conn.Close()

	if playerID != nil {
		conn.WriteJSON(map[string]any{"type": "set_perspective", "player_id": *playerID, "omniscient": false})
		fmt.Printf("Watching through player %d's sensors.\n", *playerID)
	} else {
		fmt.Println("Watching omnisciently.")
	}

	for i := 0; i < ticks; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		var msg struct {
			Type    string              `json:"type"`
			Payload observe.Observation `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Printf("Feed closed: %v\n", err)
			return
		}
		if msg.Type != "state" {
			continue
		}
		obs := msg.Payload
		leader := "-"
		best := -1.0
		for _, s := range obs.Scores {
			if s.Score > best {
				best, leader = s.Score, s.Name
			}
		}
		fmt.Printf("tick %-5d planets %-4d fleets %-3d pings %-3d leader %s (%s)\n",
			obs.Tick, len(obs.Planets), len(obs.Fleets), len(obs.Pings),
			leader, humanize.CommafWithDigits(best, 3))
	}
}

// runLocalMatch is the "run" subcommand: a whole match in-process, no
// server, ticks as fast as the bots answer.
func runLocalMatch(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to match config JSON")
	seed := fs.Int64("seed", -1, "override the config seed")
	players := fs.Int("players", 4, "number of players")
	replayPath := fs.String("replay", "", "replay JSONL path (empty disables)")
	var botList stringList
	fs.Var(&botList, "bot", "policy name (random|rush|expansion|turtle) or external command (repeatable)")
	fs.Parse(args)

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var config model.MatchConfig
	if err := json.Unmarshal(data, &config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *seed >= 0 {
		config.Seed = *seed
	}

	var policies, commands []string
	for _, entry := range botList {
		if _, ok := bots.Policies[entry]; ok {
			policies = append(policies, entry)
		} else {
			commands = append(commands, entry)
		}
	}

	start := time.Now()
	result, err := runner.Run(runner.Options{
		Config:     config,
		Players:    *players,
		Policies:   policies,
		Commands:   commands,
		ReplayPath: *replayPath,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Match complete: %s ticks in %s\n",
		humanize.Comma(int64(config.MatchTicks)), time.Since(start).Round(time.Millisecond))
	printScoreTable(result.Scores)
}

// runStdioBot is the "bot" subcommand: speak the stdio agent protocol on
// stdin/stdout, playing the named policy. This is what the runner's
// external-command slots and any other stdio harness spawn.
func runStdioBot(args []string) {
	name := "random"
	if len(args) > 0 {
		name = args[0]
	}
	policy, ok := bots.Policies[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown policy %q\n", name)
		os.Exit(1)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := bots.RunStdio(policy, rng, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type stringList []string

func (s *stringList) String() string     { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }
