package replay

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/ownworld/forest/internal/engine"
	"github.com/ownworld/forest/internal/model"
	"github.com/ownworld/forest/internal/observe"
)

func TestLogTickWritesOneLinePerTick(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "match.jsonl")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer logger.Close()

	for tick := 0; tick < 3; tick++ {
		err := logger.LogTick(tick, engine.Snapshot{Tick: tick}, map[int]observe.Observation{}, map[int][]model.Action{})
		if err != nil {
			t.Fatalf("LogTick(%d): %v", tick, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "match.jsonl")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open should create missing parent dirs: %v", err)
	}
	logger.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected replay file to exist: %v", err)
	}
}
