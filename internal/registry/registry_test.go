package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/nefrols/fsedit/internal/token"
)

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func TestRegisterAccessBasic(t *testing.T) {
	r := New()
	lines := splitLines("a\nb\nc\nd\ne")
	crc := token.ComputeRangeCRC("irrelevant")

	tok := r.RegisterAccess("f.go", 2, 4, lines, len(lines), crc)
	if tok.Start != 2 || tok.End != 4 {
		t.Fatalf("RegisterAccess() = %+v, want Start=2 End=4", tok)
	}
	if want := token.ComputeRangeCRC("b\nc\nd"); tok.RangeCRC != want {
		t.Errorf("RangeCRC = %x, want %x", tok.RangeCRC, want)
	}
}

func TestRegisterAccessMergesOverlap(t *testing.T) {
	r := New()
	lines := splitLines("a\nb\nc\nd\ne\nf")
	crc := token.ComputeRangeCRC("same")

	first := r.RegisterAccess("f.go", 1, 3, lines, len(lines), crc)
	second := r.RegisterAccess("f.go", 3, 5, lines, len(lines), crc)

	// Both issued against the same file CRC and their ranges touch at line
	// 3, so the registry should have merged them into a single entry.
	toks := r.Tokens("f.go", len(lines))
	if len(toks) != 1 {
		t.Fatalf("Tokens() after overlapping registration = %d entries, want 1", len(toks))
	}
	merged := toks[0]
	if merged.Start != 1 || merged.End != 5 {
		t.Errorf("merged token = %+v, want Start=1 End=5", merged)
	}
	_ = first
	_ = second
}

func TestRegisterAccessDoesNotMergeDifferentCRC(t *testing.T) {
	r := New()
	lines := splitLines("a\nb\nc\nd\ne")

	r.RegisterAccess("f.go", 1, 2, lines, len(lines), 111)
	r.RegisterAccess("f.go", 3, 4, lines, len(lines), 222)

	toks := r.Tokens("f.go", len(lines))
	if len(toks) != 2 {
		t.Fatalf("Tokens() = %d entries, want 2 (different issueFileCRC must not merge)", len(toks))
	}
}

func TestMarkCreatedInTaskCoversEverything(t *testing.T) {
	r := New()
	r.MarkCreatedInTask("new.go")

	if !r.IsCreatedInTask("new.go") {
		t.Fatal("IsCreatedInTask() = false after MarkCreatedInTask")
	}
	if !r.Covers("new.go", token.Token{}, 1, 1000) {
		t.Error("Covers() on a created-in-task file should always be true")
	}
}

func TestUpdateAfterEditShiftsBelowAndKeepsAbove(t *testing.T) {
	r := New()
	lines := splitLines("a\nb\nc\nd\ne")
	crc := token.ComputeRangeCRC("x")

	r.RegisterAccess("f.go", 1, 1, lines, len(lines), crc) // above the edit
	r.RegisterAccess("f.go", 4, 5, lines, len(lines), crc) // below the edit

	// Edit replaces line range [2,3] with a single line: lineDelta = -1.
	newLines := splitLines("a\nX\nd\ne")
	toks := r.UpdateAfterEdit("f.go", 2, 3, -1, newLines, len(newLines))

	if len(toks) != 2 {
		t.Fatalf("UpdateAfterEdit() returned %d tokens, want 2", len(toks))
	}

	var above, below *token.Token
	for i := range toks {
		if toks[i].Start == 1 {
			above = &toks[i]
		}
		if toks[i].Start == 3 {
			below = &toks[i]
		}
	}
	if above == nil {
		t.Fatal("expected an unchanged token starting at line 1")
	}
	if below == nil {
		t.Fatal("expected the below-edit token shifted to start at line 3 (was 4, delta -1)")
	}
	if below.End != 4 {
		t.Errorf("shifted token End = %d, want 4 (was 5, delta -1)", below.End)
	}
}

func TestInvalidateFile(t *testing.T) {
	r := New()
	lines := splitLines("a\nb")
	r.RegisterAccess("f.go", 1, 2, lines, len(lines), 1)
	r.MarkCreatedInTask("f.go")

	r.InvalidateFile("f.go")

	if toks := r.Tokens("f.go", 2); len(toks) != 0 {
		t.Errorf("Tokens() after InvalidateFile = %d, want 0", len(toks))
	}
	if r.IsCreatedInTask("f.go") {
		t.Error("IsCreatedInTask() after InvalidateFile should be false")
	}
}

func TestLiveFileCount(t *testing.T) {
	r := New()
	if n := r.LiveFileCount(); n != 0 {
		t.Fatalf("LiveFileCount() on empty registry = %d, want 0", n)
	}

	lines := splitLines("a\nb")
	r.RegisterAccess("a.go", 1, 2, lines, len(lines), 1)
	r.RegisterAccess("b.go", 1, 2, lines, len(lines), 1)
	if n := r.LiveFileCount(); n != 2 {
		t.Errorf("LiveFileCount() = %d, want 2", n)
	}

	r.InvalidateFile("a.go")
	if n := r.LiveFileCount(); n != 1 {
		t.Errorf("LiveFileCount() after InvalidateFile = %d, want 1", n)
	}
}

func TestMoveTokensTransfersEntries(t *testing.T) {
	r := New()
	lines := splitLines("a\nb\nc")
	r.RegisterAccess("old.go", 1, 2, lines, len(lines), 1)
	r.MarkCreatedInTask("old.go")

	r.MoveTokens("old.go", "new.go")

	if toks := r.Tokens("old.go", 3); len(toks) != 0 {
		t.Errorf("Tokens(old path) after move = %d, want 0", len(toks))
	}
	if toks := r.Tokens("new.go", 3); len(toks) != 1 {
		t.Errorf("Tokens(new path) after move = %d, want 1", len(toks))
	}
	if !r.IsCreatedInTask("new.go") {
		t.Error("created-in-task flag should transfer on move")
	}
}

// TestMoveTokensNoDeadlockOnCrossedMoves exercises two moves in opposite
// directions (a<->b) concurrently; the canonical lock-ordering in
// MoveTokens must prevent them from deadlocking against each other.
func TestMoveTokensNoDeadlockOnCrossedMoves(t *testing.T) {
	r := New()
	lines := splitLines("a\nb")
	r.RegisterAccess("a.go", 1, 1, lines, len(lines), 1)
	r.RegisterAccess("b.go", 1, 1, lines, len(lines), 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.MoveTokens("a.go", "b.go") }()
	go func() { defer wg.Done(); r.MoveTokens("b.go", "a.go") }()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("MoveTokens deadlocked on crossed concurrent moves")
	}
}
