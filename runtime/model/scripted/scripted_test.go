package scripted

import (
	"context"
	"errors"
	"testing"

	"goa.design/steer/runtime/model"
)

func TestScoreNextFollowsTheScript(t *testing.T) {
	b := Script("hello")
	ctx := context.Background()

	tok, err := b.ScoreNext(ctx, "he", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Text != "l" {
		t.Fatalf("token = %q, want \"l\"", tok.Text)
	}
	if got := b.ScoredPrefixes(); len(got) != 1 || got[0] != "he" {
		t.Fatalf("recorded prefixes = %v", got)
	}
}

func TestScoreNextRespectsAdmissibility(t *testing.T) {
	b := Script("49 years")
	ctx := context.Background()

	digits := func(tok model.Token) bool {
		for _, r := range tok.Text {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}

	tok, err := b.ScoreNext(ctx, "", digits)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Text != "4" {
		t.Fatalf("token = %q, want \"4\"", tok.Text)
	}
	// After "49" the script offers a space, which the predicate rejects.
	_, err = b.ScoreNext(ctx, "49", digits)
	if !errors.Is(err, model.ErrNoAdmissibleToken) {
		t.Fatalf("err = %v, want ErrNoAdmissibleToken", err)
	}
}

func TestScoreNextShrinksChunksAtBoundaries(t *testing.T) {
	b, err := New(Options{Targets: []string{"age("}, ChunkRunes: 4})
	if err != nil {
		t.Fatal(err)
	}
	noParen := func(tok model.Token) bool {
		for _, r := range tok.Text {
			if r == '(' {
				return false
			}
		}
		return true
	}
	tok, err := b.ScoreNext(context.Background(), "", noParen)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Text != "age" {
		t.Fatalf("token = %q, want \"age\"", tok.Text)
	}
}

func TestScoreNextExhaustedScript(t *testing.T) {
	b := Script("done")
	_, err := b.ScoreNext(context.Background(), "done", nil)
	if !errors.Is(err, model.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestCompleteStopsAtEarliestStop(t *testing.T) {
	b := Script("Thought 1: need the age\nAct 1: age(Leo)")
	got, err := b.Complete(context.Background(), model.CompletionRequest{
		Prefix: "Thought 1: ",
		Stop:   []string{"\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "need the age" {
		t.Fatalf("text = %q", got.Text)
	}
	if got.StopText != "\n" || got.Reason != model.StopReasonStop {
		t.Fatalf("stop = %q reason = %q", got.StopText, got.Reason)
	}
}

func TestCompleteTieBreaksByListOrder(t *testing.T) {
	b := Script("ab")
	got, err := b.Complete(context.Background(), model.CompletionRequest{
		Stop: []string{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "" || got.StopText != "a" {
		t.Fatalf("text = %q stop = %q, want empty text stopped on \"a\"", got.Text, got.StopText)
	}
}

func TestCompleteHonorsTokenBudget(t *testing.T) {
	b := Script("abcdefgh")
	got, err := b.Complete(context.Background(), model.CompletionRequest{MaxTokens: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "abc" || got.Reason != model.StopReasonMaxTokens {
		t.Fatalf("text = %q reason = %q", got.Text, got.Reason)
	}
}

func TestCompleteRunsToEndOfScript(t *testing.T) {
	b := Script("the answer")
	got, err := b.Complete(context.Background(), model.CompletionRequest{Prefix: "the "})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "answer" || got.Reason != model.StopReasonEnd {
		t.Fatalf("text = %q reason = %q", got.Text, got.Reason)
	}
}

func TestCompleteUnknownPrefixFails(t *testing.T) {
	b := Script("alpha")
	_, err := b.Complete(context.Background(), model.CompletionRequest{Prefix: "beta"})
	if !errors.Is(err, model.ErrEndOfStream) {
		t.Fatalf("err = %v, want wrapped ErrEndOfStream", err)
	}
}

func TestTargetsTriedInDeclarationOrder(t *testing.T) {
	b := Script("abx", "aby")
	tok, err := b.ScoreNext(context.Background(), "ab", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Text != "x" {
		t.Fatalf("token = %q, want first target's continuation", tok.Text)
	}
}

func TestCanceledContextPropagates(t *testing.T) {
	b := Script("abc")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ScoreNext(ctx, "", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("ScoreNext err = %v", err)
	}
	if _, err := b.Complete(ctx, model.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Complete err = %v", err)
	}
}
