package log

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

func TestRoundLogger_SessionRoundTrip(t *testing.T) {
	g := genome.Defaults()
	g.Mode = genome.ModeCollect
	g.Rules.Rounds = 3
	g.Rules.TargetCount = 2
	g.Rules.TrapChance = 0.02
	g.Rules.PowerUpChance = 0.1
	tu := tuning.Defaults()

	id := "3f0c2a8e-5b7d-4c1e-9a46-0d2b8e7f6a11"
	p := RoundLogPath(t.TempDir(), id)
	g.Normalize()
	rl, err := NewRoundLogger(p, SessionHeader{SessionID: id, Genome: g, Tuning: tu, FixedStep: 0.02}, nil)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	s := round.NewSession(g, tu, round.WithID(id), round.WithSinks(rl))
	rep, err := s.RunHeadless(context.Background(), 0.02)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := rl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rl.Err() != nil {
		t.Fatalf("write error: %v", rl.Err())
	}

	got, err := ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Genome != s.Genome() || got.Header.Tuning != s.Tuning() || got.Header.SessionID != s.ID() {
		t.Fatalf("header: %+v", got.Header)
	}
	if len(got.Rounds) != 3 {
		t.Fatalf("rounds: %d", len(got.Rounds))
	}
	for i, r := range got.Rounds {
		if r.Round != i+1 || r.Digest == "" || r.SessionID != id {
			t.Fatalf("round %d: %+v", i, r)
		}
		if r.Outcome != rep.Rounds[i] {
			t.Fatalf("round %d outcome: %+v vs %+v", i, r.Outcome, rep.Rounds[i])
		}
	}
	if got.Report == nil || got.Report.Wins != rep.Wins || got.Report.TotalRounds != 3 {
		t.Fatalf("report: %+v", got.Report)
	}
}

func TestRead_NoHeader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.jsonl.zst")
	w := NewJSONLZstdWriter(p)
	if err := w.Write(Entry{Type: EntryRound, Round: &round.RoundEnd{Round: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := ReadFile(p); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestJSONLZstdWriter_AppendsFrames(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "log.jsonl.zst")
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(p)
		if err := w.Write(Entry{Type: EntrySession, Session: &SessionHeader{SessionID: "s"}}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("stat: %v", err)
	}
	got, err := ReadFile(p)
	if err != nil || got.Header.SessionID != "s" {
		t.Fatalf("read appended frames: %+v %v", got.Header, err)
	}
}
