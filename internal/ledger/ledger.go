// Package ledger keeps a tamper-evident audit trail of the match: a
// BLAKE3 hash chain over every tick's canonical snapshot, each link
// signed with a per-match Ed25519 identity, persisted in SQLite. Every
// CheckpointInterval ticks the full snapshot is stored LZ4-compressed so
// a restarted process can resume serving state without replaying the
// whole JSONL log. The ledger is a side-channel: game semantics never
// read from it.
package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

// DefaultCheckpointInterval is how often Append stores a full compressed
// snapshot alongside the chain entry.
const DefaultCheckpointInterval = 50

// GenesisHash seeds the chain before any tick has been recorded.
const GenesisHash = "GENESIS"

// Entry is one link of the chain: the hash of this tick's snapshot
// folded onto the previous link, plus the server's signature over it.
type Entry struct {
	Tick      int    `json:"tick"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
	Signature string `json:"signature"`
}

// Ledger owns the SQLite handle and the match identity keypair.
type Ledger struct {
	db   *sql.DB
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	// CheckpointInterval may be adjusted before the first Append.
	CheckpointInterval int

	mu       sync.Mutex
	prevHash string
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func compressLZ4(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	zw := lz4.NewWriter(buf)
	zw.Write(src)
	zw.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func decompressLZ4(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	zr := lz4.NewReader(bytes.NewReader(src))
	io.Copy(buf, zr)
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func hashBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Open creates or reopens the ledger database at path (WAL mode),
// bootstrapping a fresh Ed25519 identity on first boot and resuming the
// chain head from the last recorded entry otherwise.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ledger: create dir: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: wal: %w", err)
	}

	l := &Ledger{db: db, CheckpointInterval: DefaultCheckpointInterval, prevHash: GenesisHash}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.initIdentity(); err != nil {
		db.Close()
		return nil, err
	}

	var lastTick int
	var lastHash string
	err = db.QueryRow("SELECT tick, entry_hash FROM ledger ORDER BY tick DESC LIMIT 1").Scan(&lastTick, &lastHash)
	if err == nil {
		l.prevHash = lastHash
	}
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger (
		tick INTEGER PRIMARY KEY, prev_hash TEXT, entry_hash TEXT, signature TEXT
	);
	CREATE TABLE IF NOT EXISTS checkpoints (
		tick INTEGER PRIMARY KEY, state_blob BLOB, entry_hash TEXT
	);
	CREATE TABLE IF NOT EXISTS match_meta (
		key TEXT PRIMARY KEY, value TEXT
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("ledger: schema: %w", err)
	}
	return nil
}

func (l *Ledger) initIdentity() error {
	var pubStr string
	err := l.db.QueryRow("SELECT value FROM match_meta WHERE key='public_key'").Scan(&pubStr)
	if err == sql.ErrNoRows {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("ledger: keygen: %w", err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("ledger: begin: %w", err)
		}
		tx.Exec("INSERT INTO match_meta (key, value) VALUES ('public_key', ?)", hex.EncodeToString(pub))
		tx.Exec("INSERT INTO match_meta (key, value) VALUES ('private_key', ?)", hex.EncodeToString(priv))
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("ledger: commit identity: %w", err)
		}
		l.pub, l.priv = pub, priv
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: read identity: %w", err)
	}
	var privStr string
	if err := l.db.QueryRow("SELECT value FROM match_meta WHERE key='private_key'").Scan(&privStr); err != nil {
		return fmt.Errorf("ledger: read private key: %w", err)
	}
	pubBytes, err := hex.DecodeString(pubStr)
	if err != nil {
		return fmt.Errorf("ledger: decode public key: %w", err)
	}
	privBytes, err := hex.DecodeString(privStr)
	if err != nil {
		return fmt.Errorf("ledger: decode private key: %w", err)
	}
	l.pub = ed25519.PublicKey(pubBytes)
	l.priv = ed25519.PrivateKey(privBytes)
	return nil
}

// PublicKey returns the match identity's verification key.
func (l *Ledger) PublicKey() ed25519.PublicKey {
	return l.pub
}

// Append records one tick's canonical snapshot JSON: it folds the
// snapshot onto the previous link, signs the new hash, stores the entry,
// and writes a compressed checkpoint every CheckpointInterval ticks.
func (l *Ledger) Append(tick int, snapshotJSON string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entryHash := hashBLAKE3([]byte(l.prevHash + snapshotJSON))
	sig := ed25519.Sign(l.priv, []byte(entryHash))
	entry := Entry{
		Tick:      tick,
		PrevHash:  l.prevHash,
		EntryHash: entryHash,
		Signature: hex.EncodeToString(sig),
	}
	if _, err := l.db.Exec(
		"INSERT INTO ledger (tick, prev_hash, entry_hash, signature) VALUES (?,?,?,?)",
		entry.Tick, entry.PrevHash, entry.EntryHash, entry.Signature,
	); err != nil {
		return Entry{}, fmt.Errorf("ledger: append tick %d: %w", tick, err)
	}

	if l.CheckpointInterval > 0 && tick%l.CheckpointInterval == 0 {
		blob := compressLZ4([]byte(snapshotJSON))
		if _, err := l.db.Exec(
			"INSERT OR REPLACE INTO checkpoints (tick, state_blob, entry_hash) VALUES (?,?,?)",
			tick, blob, entryHash,
		); err != nil {
			return Entry{}, fmt.Errorf("ledger: checkpoint tick %d: %w", tick, err)
		}
	}

	l.prevHash = entryHash
	return entry, nil
}

// LoadCheckpoint returns the decompressed snapshot stored at tick, or an
// error if no checkpoint exists there.
func (l *Ledger) LoadCheckpoint(tick int) (string, error) {
	var blob []byte
	err := l.db.QueryRow("SELECT state_blob FROM checkpoints WHERE tick=?", tick).Scan(&blob)
	if err != nil {
		return "", fmt.Errorf("ledger: checkpoint %d: %w", tick, err)
	}
	return string(decompressLZ4(blob)), nil
}

// LatestCheckpoint returns the newest stored checkpoint and its tick.
func (l *Ledger) LatestCheckpoint() (int, string, error) {
	var tick int
	var blob []byte
	err := l.db.QueryRow("SELECT tick, state_blob FROM checkpoints ORDER BY tick DESC LIMIT 1").Scan(&tick, &blob)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: latest checkpoint: %w", err)
	}
	return tick, string(decompressLZ4(blob)), nil
}

// Verify walks the whole chain in tick order, checking that every link's
// prev_hash matches its predecessor's entry_hash and that every
// signature verifies against the match identity. It returns the number
// of verified entries; a broken link means the database was rewritten
// after the fact.
func (l *Ledger) Verify() (int, error) {
	rows, err := l.db.Query("SELECT tick, prev_hash, entry_hash, signature FROM ledger ORDER BY tick ASC")
	if err != nil {
		return 0, fmt.Errorf("ledger: verify query: %w", err)
	}
	defer rows.Close()

	prev := GenesisHash
	count := 0
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Tick, &e.PrevHash, &e.EntryHash, &e.Signature); err != nil {
			return count, fmt.Errorf("ledger: verify scan: %w", err)
		}
		if e.PrevHash != prev {
			return count, fmt.Errorf("ledger: chain break at tick %d: prev %s, recorded %s", e.Tick, prev, e.PrevHash)
		}
		sig, err := hex.DecodeString(e.Signature)
		if err != nil || !ed25519.Verify(l.pub, []byte(e.EntryHash), sig) {
			return count, fmt.Errorf("ledger: bad signature at tick %d", e.Tick)
		}
		prev = e.EntryHash
		count++
	}
	return count, rows.Err()
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
