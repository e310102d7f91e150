package indexdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqRound}

	s.RoundEnded(round.RoundEnd{SessionID: "a", Round: 2})
	s.SessionEnded(metrics.Report{SessionID: "a"})

	st := s.Stats()
	if st.DropRoundTotal != 1 {
		t.Fatalf("DropRoundTotal=%d want=1", st.DropRoundTotal)
	}
	if st.DropSessionTotal != 1 {
		t.Fatalf("DropSessionTotal=%d want=1", st.DropSessionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_SessionRoundsAndEvolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	g := genome.Defaults()
	g.Mode = genome.ModeCollect
	g.Agent.Speed = 7
	g.Rules.EnemySpeed = 3
	g.Obstacles.Count = 12
	g.Rules.TimeLimit = 30
	g.Normalize()

	ctx := context.Background()
	if err := idx.BeginSession(ctx, "s1", g, tuning.Defaults()); err != nil {
		t.Fatalf("begin session: %v", err)
	}

	agg := metrics.NewAggregator(2)
	for i, c := range []metrics.Cause{metrics.CauseWin, metrics.CauseCaught} {
		o := metrics.Outcome{Round: i + 1, Cause: c, Elapsed: float64(i + 3), Collected: 1}
		agg.Record(o)
		idx.RoundEnded(round.RoundEnd{
			SessionID: "s1",
			Round:     i + 1,
			Seed:      int64(100 + i),
			Digest:    "d",
			Ticks:     10,
			Solvable:  true,
			Attempts:  1,
			Outcome:   o,
		})
	}
	rep := agg.Report()
	rep.SessionID = "s1"
	idx.SessionEnded(rep)

	// Close drains the queue and commits.
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	rounds, err := idx.ListRounds(ctx, "s1")
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("rounds=%d want 2", len(rounds))
	}
	if rounds[0].Cause != "win" || rounds[1].Cause != "caught" || rounds[1].Seed != 101 || !rounds[0].Solvable {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}

	evo, err := idx.ListEvolution(ctx, 10)
	if err != nil {
		t.Fatalf("list evolution: %v", err)
	}
	if len(evo) != 1 {
		t.Fatalf("evolution rows=%d want 1", len(evo))
	}
	e := evo[0]
	if e.SessionID != "s1" || e.GameMode != "Collect" || e.WinRate != 0.5 {
		t.Fatalf("unexpected evolution row: %+v", e)
	}
	if e.AgentSpeed != 7 || e.EnemySpeed != 3 || e.ObstaclesCount != 12 || e.TimeLimit != 30 {
		t.Fatalf("genome columns: %+v", e)
	}
	if e.Report != rep.Summary() {
		t.Fatalf("report=%q", e.Report)
	}
	var got metrics.Report
	if err := json.Unmarshal(e.Metrics, &got); err != nil {
		t.Fatalf("metrics json: %v", err)
	}
	if got.Wins != 1 || got.Caught != 1 {
		t.Fatalf("metrics json mismatch: %+v", got)
	}

	var ended string
	if err := idx.db.QueryRowContext(ctx, `SELECT ended_at FROM sessions WHERE id='s1'`).Scan(&ended); err != nil {
		t.Fatalf("session row: %v", err)
	}
	if ended == "" {
		t.Fatalf("session not marked ended")
	}
}

func TestSQLiteIndex_ClosedIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx.RoundEnded(round.RoundEnd{SessionID: "x"})
	idx.SessionEnded(metrics.Report{SessionID: "x"})
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
