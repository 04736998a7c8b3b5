package ledger

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "match.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestChainLinksAndVerifies(t *testing.T) {
	l, _ := openTemp(t)

	snapshots := []string{`{"tick":0}`, `{"tick":1}`, `{"tick":2}`}
	prev := GenesisHash
	for tick, snap := range snapshots {
		entry, err := l.Append(tick, snap)
		if err != nil {
			t.Fatalf("append %d: %v", tick, err)
		}
		if entry.PrevHash != prev {
			t.Fatalf("tick %d: prev hash %s, want %s", tick, entry.PrevHash, prev)
		}
		if entry.EntryHash == prev || entry.EntryHash == "" {
			t.Fatalf("tick %d: entry hash did not advance", tick)
		}
		prev = entry.EntryHash
	}

	count, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if count != len(snapshots) {
		t.Fatalf("verified %d entries, want %d", count, len(snapshots))
	}
}

func TestTamperedEntryFailsVerify(t *testing.T) {
	l, _ := openTemp(t)

	for tick := 0; tick < 3; tick++ {
		if _, err := l.Append(tick, `{"x":1}`); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := l.db.Exec("UPDATE ledger SET entry_hash='deadbeef' WHERE tick=1"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := l.Verify(); err == nil {
		t.Fatalf("expected verification to fail after history rewrite")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	l, _ := openTemp(t)
	l.CheckpointInterval = 2

	big := `{"planets":[` + strings.Repeat(`{"id":0,"x":0.5},`, 499) + `{"id":0,"x":0.5}]}`
	for tick := 0; tick < 5; tick++ {
		if _, err := l.Append(tick, big); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := l.LoadCheckpoint(4)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if got != big {
		t.Fatalf("checkpoint did not round-trip through compression")
	}
	if _, err := l.LoadCheckpoint(3); err == nil {
		t.Fatalf("tick 3 is off-interval, expected no checkpoint")
	}

	tick, snap, err := l.LatestCheckpoint()
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if tick != 4 || snap != big {
		t.Fatalf("latest checkpoint tick %d, want 4", tick)
	}
}

func TestReopenResumesChainHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := l.Append(0, `{"tick":0}`)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	pub := l.PublicKey()
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if string(l2.PublicKey()) != string(pub) {
		t.Fatalf("identity was regenerated across reopen")
	}
	second, err := l2.Append(1, `{"tick":1}`)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if second.PrevHash != first.EntryHash {
		t.Fatalf("chain head not resumed: prev %s, want %s", second.PrevHash, first.EntryHash)
	}
	if count, err := l2.Verify(); err != nil || count != 2 {
		t.Fatalf("verify after reopen: count %d err %v", count, err)
	}
}
