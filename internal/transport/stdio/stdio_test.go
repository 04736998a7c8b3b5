package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/ownworld/forest/internal/bots"
	"github.com/ownworld/forest/internal/canon"
	"github.com/ownworld/forest/internal/observe"
	"github.com/ownworld/forest/pkg/sdk"
)

// pipeChannel wires a Channel to an in-process agent function, exactly
// how a subprocess would see it: requests on one pipe, replies on the
// other.
func pipeChannel(t *testing.T, agent func(r io.Reader, w io.Writer)) *Channel {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()
	go func() {
		agent(toAgentR, fromAgentW)
		fromAgentW.Close()
	}()
	t.Cleanup(func() {
		toAgentW.Close()
		fromAgentR.Close()
	})
	return NewPipe(toAgentW, fromAgentR)
}

func playerObservation(id int) observe.Observation {
	return observe.Observation{Tick: 3, PlayerID: &id, MaxActions: 4}
}

func TestCommitRevealAgainstPolicyBot(t *testing.T) {
	ch := pipeChannel(t, func(r io.Reader, w io.Writer) {
		bots.RunStdio(bots.Turtle, rand.New(rand.NewSource(1)), r, w)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	commit, ok := ch.Commit(ctx, 3, playerObservation(0))
	if !ok || len(commit) != 64 {
		t.Fatalf("commit failed: %q ok=%v", commit, ok)
	}
	actions, nonce, ok := ch.Reveal(ctx, 3)
	if !ok {
		t.Fatalf("reveal failed")
	}
	if got := canon.Sha256Hex(canon.Marshal(actions) + nonce); got != commit {
		t.Fatalf("revealed actions do not hash back to the commitment:\n got %s\nwant %s", got, commit)
	}
}

func TestMismatchedFramesAreSkipped(t *testing.T) {
	ch := pipeChannel(t, func(r io.Reader, w io.Writer) {
		scanner := bufio.NewScanner(r)
		scanner.Scan() // consume the commit request
		// Noise first: wrong type, wrong tick, garbage. Then the answer.
		fmt.Fprintln(w, `{"type":"reveal","tick":7,"actions":[],"nonce":"x"}`)
		fmt.Fprintln(w, `{"type":"commit","tick":6,"commit":"stale"}`)
		fmt.Fprintln(w, `not json at all`)
		hash := sdk.CommitHash([]bots.ActionPayload{}, "n")
		fmt.Fprintf(w, `{"type":"commit","tick":7,"commit":"%s"}`+"\n", hash)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	commit, ok := ch.Commit(ctx, 7, playerObservation(1))
	if !ok {
		t.Fatalf("expected the matching frame to be found behind the noise")
	}
	if commit != sdk.CommitHash([]bots.ActionPayload{}, "n") {
		t.Fatalf("wrong frame accepted: %q", commit)
	}
}

func TestSilentAgentTimesOut(t *testing.T) {
	ch := pipeChannel(t, func(r io.Reader, w io.Writer) {
		io.Copy(io.Discard, r) // read forever, answer never
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := ch.Commit(ctx, 0, playerObservation(0)); ok {
		t.Fatalf("expected timeout, got a commitment")
	}
}

func TestNonListActionsRejected(t *testing.T) {
	ch := pipeChannel(t, func(r io.Reader, w io.Writer) {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			var msg struct {
				Type string `json:"type"`
				Tick int    `json:"tick"`
			}
			json.Unmarshal(scanner.Bytes(), &msg)
			if msg.Type == "commit" {
				fmt.Fprintf(w, `{"type":"commit","tick":%d,"commit":"deadbeef"}`+"\n", msg.Tick)
			} else {
				fmt.Fprintf(w, `{"type":"reveal","tick":%d,"actions":{"not":"a list"},"nonce":"n"}`+"\n", msg.Tick)
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok := ch.Commit(ctx, 0, playerObservation(0)); !ok {
		t.Fatalf("commit should succeed")
	}
	if _, _, ok := ch.Reveal(ctx, 0); ok {
		t.Fatalf("an object where a list belongs must be dropped")
	}
}
