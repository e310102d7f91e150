package report

import (
	"os"
	"path/filepath"
	"testing"

	"gridarena.ai/internal/sim/metrics"
)

func TestWriteFile_ReplacesAndRoundTrips(t *testing.T) {
	path := Path(t.TempDir(), "abc")

	agg := metrics.NewAggregator(2)
	agg.Record(metrics.Outcome{Round: 1, Cause: metrics.CauseWin, Elapsed: 2.5})
	first := agg.Report()
	first.SessionID = "abc"
	if err := WriteFile(path, first); err != nil {
		t.Fatalf("write: %v", err)
	}

	agg.Record(metrics.Outcome{Round: 2, Cause: metrics.CauseTimeout, Elapsed: 20})
	second := agg.Report()
	second.SessionID = "abc"
	if err := WriteFile(path, second); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SessionID != "abc" || got.Wins != 1 || got.Timeouts != 1 || len(got.Rounds) != 2 {
		t.Fatalf("unexpected report: %+v", got)
	}

	ents, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) != 1 || ents[0].Name() != FileName {
		t.Fatalf("temp files left behind: %v", ents)
	}
}

func TestSink_WritesOnSessionEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", FileName)
	s := NewSink(path, nil)
	s.SessionEnded(metrics.Report{SessionID: "x", TotalRounds: 1})
	if s.Err() != nil {
		t.Fatalf("sink err: %v", s.Err())
	}
	r, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.TotalRounds != 1 {
		t.Fatalf("total_rounds=%d", r.TotalRounds)
	}
}

func TestReadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatalf("expected error")
	}
}
