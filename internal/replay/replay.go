// Package replay writes the append-only, one-line-per-tick JSONL log of
// a match: a durable record a spectator tool or offline analyzer can
// read without having observed the live match.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

// Logger appends one record per tick to a JSONL file, flushing after
// every write so a crashed process never loses a committed tick.
type Logger struct {
	file *os.File
}

// Open creates (or truncates) the replay file at path, creating its
// parent directory if necessary.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("replay: create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	return &Logger{file: f}, nil
}

// record is the exact shape of one JSONL line.
type record struct {
	Tick         int                         `json:"tick"`
	State        engine.Snapshot             `json:"state"`
	Observations map[int]observe.Observation `json:"observations"`
	Actions      map[int][]model.Action      `json:"actions"`
}

// LogTick appends one tick's full record and flushes immediately.
func (l *Logger) LogTick(tick int, state engine.Snapshot, observations map[int]observe.Observation, actions map[int][]model.Action) error {
	line, err := json.Marshal(record{Tick: tick, State: state, Observations: observations, Actions: actions})
	if err != nil {
		return fmt.Errorf("replay: marshal tick %d: %w", tick, err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("replay: write tick %d: %w", tick, err)
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	return l.file.Close()
}
