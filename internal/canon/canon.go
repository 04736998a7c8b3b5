// Package canon implements the primitives every other package builds on:
// canonical JSON encoding, SHA-256 commit hashing, clamped arithmetic, and
// the seeded RNG derivation used for anything that must be reproducible
// from the match seed alone.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// Marshal renders v as compact JSON with object keys sorted, the same key
// order and separators as Python's json.dumps(obj, sort_keys=True,
// separators=(",", ":")). Numbers with an integral value are written as
// integers (12.0 becomes 12); other numbers use strconv's shortest 'g'
// form, which is not always Python's float repr. This is
// load-bearing: the server and every agent SDK must produce byte-identical
// output for the same logical action list, or commit verification breaks.
func Marshal(v any) string {
	normalized := normalize(v)
	var buf []byte
	buf = appendValue(buf, normalized)
	return string(buf)
}

// normalize round-trips v through encoding/json so struct field order,
// tags and omitempty are applied the same way json.Marshal would apply
// them, then hands back a tree of map[string]any / []any / primitives that
// appendValue can walk with full control over key ordering.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("canon: value is not JSON-marshalable: %v", err))
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		panic(fmt.Sprintf("canon: re-decode failed: %v", err))
	}
	return out
}

func appendValue(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case json.Number:
		return appendNumber(buf, t)
	case string:
		return appendString(buf, t)
	case []any:
		buf = append(buf, '[')
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendValue(buf, item)
		}
		return append(buf, ']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, k)
			buf = append(buf, ':')
			buf = appendValue(buf, t[k])
		}
		return append(buf, '}')
	default:
		panic(fmt.Sprintf("canon: unsupported value type %T", v))
	}
}

func appendNumber(buf []byte, n json.Number) []byte {
	if i, err := n.Int64(); err == nil {
		return strconv.AppendInt(buf, i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return append(buf, n.String()...)
	}
	return append(buf, strconv.FormatFloat(f, 'g', -1, 64)...)
}

func appendString(buf []byte, s string) []byte {
	quoted, _ := json.Marshal(s)
	return append(buf, quoted...)
}

// Sha256Hex returns the lowercase hex SHA-256 digest of text.
func Sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Distance returns the Euclidean distance between two points.
func Distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}

// Clamp restricts value to the inclusive range [low, high].
func Clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// DeterministicRNG folds seed and parts into a SHA-256 digest and uses its
// first 16 hex characters as the seed for a fresh *rand.Rand. Calling this
// twice with the same seed and parts always yields the same stream,
// independent of any other RNG in use — used for the fleet-launch ping
// jitter, which must not perturb or be perturbed by the world-gen stream.
func DeterministicRNG(seed int64, parts ...any) *rand.Rand {
	h := sha256.New()
	fmt.Fprintf(h, "%d", seed)
	for _, part := range parts {
		h.Write([]byte(":"))
		fmt.Fprintf(h, "%v", part)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	seedInt, err := strconv.ParseUint(digest[:16], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("canon: bad digest prefix: %v", err))
	}
	return rand.New(rand.NewSource(int64(seedInt)))
}
