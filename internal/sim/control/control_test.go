package control

import (
	"testing"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/genome"
)

var corridor = []string{
	"#######",
	"#.....#",
	"#.###.#",
	"#.....#",
	"#######",
}

func newIndexWithGoal(goal arena.Cell) *entity.Index {
	ix := entity.NewIndex()
	ix.Add(entity.Entity{Kind: entity.KindGoal, Cell: goal})
	return ix
}

func runUntil(t *testing.T, a *Agent, g *arena.Grid, ix *entity.Index, dt float64, maxTicks int) (Signal, int) {
	t.Helper()
	for i := 1; i <= maxTicks; i++ {
		if s := a.Tick(g, ix, dt); s != SignalNone {
			return s, i
		}
	}
	return SignalNone, maxTicks
}

func TestAgent_AutonomousReachesGoal(t *testing.T) {
	g := arena.FromRows(corridor, 1)
	ix := newIndexWithGoal(arena.Cell{X: 5, Y: 3})
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 5, Acceleration: 15, StopDistance: 0.5, ArriveEpsilon: 0.1})
	a.Spawn(g, arena.Cell{X: 1, Y: 1})

	if s := a.Tick(g, ix, 0.1); s != SignalNone || a.State() != AgentIdle {
		t.Fatalf("idle agent must not move: %v %v", s, a.State())
	}
	a.Start()
	s, _ := runUntil(t, a, g, ix, 0.02, 1000)
	if s != SignalWin {
		t.Fatalf("expected win, got %v", s)
	}
	if a.State() != AgentFinished || a.Cell != (arena.Cell{X: 5, Y: 3}) {
		t.Fatalf("state %v cell %v", a.State(), a.Cell)
	}
	if a.InTransit() || a.Path() != nil {
		t.Fatalf("finishing must cancel the in-flight step")
	}
	if s := a.Tick(g, ix, 0.02); s != SignalNone {
		t.Fatalf("finished agent ticks are no-ops, got %v", s)
	}
}

func TestAgent_AdjacentGoalOneTick(t *testing.T) {
	g := arena.FromRows([]string{"..."}, 1)
	ix := newIndexWithGoal(arena.Cell{X: 1, Y: 0})
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 5, Acceleration: 15, StopDistance: 0.5})
	a.Spawn(g, arena.Cell{X: 0, Y: 0})
	a.Start()
	if s := a.Tick(g, ix, 1); s != SignalWin {
		t.Fatalf("expected win in one tick, got %v", s)
	}
}

func TestAgent_CollectTargetsNearest(t *testing.T) {
	g := arena.FromRows([]string{"......."}, 1)
	ix := entity.NewIndex()
	ix.Add(entity.Entity{Kind: entity.KindCollectible, Cell: arena.Cell{X: 6, Y: 0}})
	near := ix.Add(entity.Entity{Kind: entity.KindCollectible, Cell: arena.Cell{X: 1, Y: 0}})
	a := NewAgent(AgentConfig{Mode: genome.ModeCollect, Speed: 5})
	a.Spawn(g, arena.Cell{X: 3, Y: 0})
	if c, ok := a.Target(ix); !ok || c != near.Cell {
		t.Fatalf("target: %v %v", c, ok)
	}
	a.Start()
	for i := 0; i < 200 && a.Cell != near.Cell; i++ {
		if s := a.Tick(g, ix, 0.02); s != SignalNone {
			t.Fatalf("collect agents never raise win themselves, got %v", s)
		}
	}
	if a.Cell != near.Cell {
		t.Fatalf("agent should have walked to %v, at %v", near.Cell, a.Cell)
	}
}

type fixedInput struct {
	dir  arena.Dir
	held bool
}

func (f *fixedInput) Direction() (arena.Dir, bool) { return f.dir, f.held }

func TestAgent_ManualIgnoresBlockedAndSamplesWhenCentered(t *testing.T) {
	g := arena.FromRows(corridor, 1)
	ix := newIndexWithGoal(arena.Cell{X: 5, Y: 3})
	in := &fixedInput{dir: arena.DirUp, held: true}
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 2, Manual: true, Input: in})
	a.Spawn(g, arena.Cell{X: 1, Y: 1})
	a.Start()

	if s := a.Tick(g, ix, 0.1); s != SignalNone {
		t.Fatalf("signal %v", s)
	}
	if a.InTransit() || a.Cell != (arena.Cell{X: 1, Y: 1}) || a.State() != AgentNavigating {
		t.Fatalf("move into wall must be ignored: cell %v transit %v", a.Cell, a.InTransit())
	}

	in.dir = arena.DirRight
	a.Tick(g, ix, 0.1)
	next, ok := a.Next()
	if !ok || next != (arena.Cell{X: 2, Y: 1}) {
		t.Fatalf("expected heading right, got %v %v", next, ok)
	}
	in.dir = arena.DirDown
	a.Tick(g, ix, 0.1)
	if next, _ := a.Next(); next != (arena.Cell{X: 2, Y: 1}) {
		t.Fatalf("input must not change direction mid-cell, heading %v", next)
	}
	for i := 0; i < 20 && a.InTransit(); i++ {
		a.Tick(g, ix, 0.1)
	}
	if a.Cell != (arena.Cell{X: 2, Y: 1}) {
		t.Fatalf("expected commit at (2,1), got %v", a.Cell)
	}
}

func TestAgent_ManualReachesGoal(t *testing.T) {
	g := arena.FromRows([]string{"..."}, 1)
	ix := newIndexWithGoal(arena.Cell{X: 2, Y: 0})
	in := &HeldInput{}
	in.Set(arena.DirRight)
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 4, Manual: true, Input: in})
	a.Spawn(g, arena.Cell{X: 0, Y: 0})
	a.Start()
	s, _ := runUntil(t, a, g, ix, 0.05, 100)
	if s != SignalWin {
		t.Fatalf("expected win, got %v", s)
	}
	in.Release()
	if _, held := in.Direction(); held {
		t.Fatalf("release should clear the held direction")
	}
}

func TestAgent_StuckWhenPathButNoProgress(t *testing.T) {
	g := arena.FromRows(corridor, 1)
	ix := newIndexWithGoal(arena.Cell{X: 5, Y: 3})
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 0, StuckEpsilon: 0.05, StuckSeconds: 1})
	a.Spawn(g, arena.Cell{X: 1, Y: 1})
	a.Start()

	s, ticks := runUntil(t, a, g, ix, 0.1, 100)
	if s != SignalStuck {
		t.Fatalf("expected stuck, got %v", s)
	}
	if ticks != 11 {
		t.Fatalf("stuck after %d ticks, want 11 (strictly more than 1s)", ticks)
	}
	if a.State() != AgentNavigating {
		t.Fatalf("stuck does not finish the agent by itself")
	}
	s, ticks = runUntil(t, a, g, ix, 0.1, 100)
	if s != SignalStuck || ticks != 11 {
		t.Fatalf("timer should reset after raising: %v after %d", s, ticks)
	}
}

func TestAgent_NoPathHoldsWithoutStuck(t *testing.T) {
	g := arena.FromRows([]string{".#."}, 1)
	ix := newIndexWithGoal(arena.Cell{X: 2, Y: 0})
	a := NewAgent(AgentConfig{Mode: genome.ModePointToPoint, Speed: 5, StuckEpsilon: 0.05, StuckSeconds: 0.5})
	a.Spawn(g, arena.Cell{X: 0, Y: 0})
	a.Start()
	if s, _ := runUntil(t, a, g, ix, 0.1, 50); s != SignalNone {
		t.Fatalf("unreachable goal is ordinary control flow, got %v", s)
	}
	if a.Cell != (arena.Cell{X: 0, Y: 0}) {
		t.Fatalf("agent should hold position, at %v", a.Cell)
	}
}

func TestAdversary_CatchesAndOnlyReadsQuarry(t *testing.T) {
	g := arena.FromRows(corridor, 1)
	quarry := arena.Cell{X: 5, Y: 3}
	adv := NewAdversary(AdversaryConfig{Speed: 3})
	adv.Spawn(g, arena.Cell{X: 1, Y: 1})
	var s Signal
	for i := 0; i < 500 && s == SignalNone; i++ {
		s = adv.Tick(g, quarry, 0.05)
	}
	if s != SignalCaught || adv.Cell != quarry {
		t.Fatalf("expected caught at %v, got %v at %v", quarry, s, adv.Cell)
	}
}

func TestAdversary_FollowsMovingQuarry(t *testing.T) {
	g := arena.FromRows([]string{"........."}, 1)
	adv := NewAdversary(AdversaryConfig{Speed: 2})
	adv.Spawn(g, arena.Cell{X: 0, Y: 0})
	quarry := arena.Cell{X: 8, Y: 0}
	for i := 0; i < 30; i++ {
		adv.Tick(g, quarry, 0.1)
	}
	if adv.Cell.X == 0 {
		t.Fatalf("adversary should have advanced")
	}
	quarry = arena.Cell{X: 0, Y: 0}
	before := adv.Cell.X
	for i := 0; i < 30; i++ {
		adv.Tick(g, quarry, 0.1)
	}
	if adv.Cell.X >= before {
		t.Fatalf("adversary should turn back toward the live target: %d -> %d", before, adv.Cell.X)
	}
}
