package pathfind

import (
	"sync"
	"testing"

	"gridarena.ai/internal/sim/arena"
)

func TestFindPath_Corridor(t *testing.T) {
	g := arena.FromRows([]string{
		".....",
		"####.",
		".....",
	}, 1)
	p, ok := FindPath(g, arena.Cell{X: 0, Y: 0}, arena.Cell{X: 0, Y: 2})
	if !ok {
		t.Fatalf("expected a path")
	}
	if len(p) != 11 {
		t.Fatalf("path len=%d want 11: %v", len(p), p)
	}
	if p[0] != (arena.Cell{X: 0, Y: 0}) || p[len(p)-1] != (arena.Cell{X: 0, Y: 2}) {
		t.Fatalf("path endpoints wrong: %v", p)
	}
	for i := 1; i < len(p); i++ {
		d := p[i].DistSq(p[i-1])
		if d != 1 || g.IsBlocked(p[i]) {
			t.Fatalf("invalid step %v -> %v", p[i-1], p[i])
		}
	}
}

func TestFindPath_BlockedEndsAndDisconnected(t *testing.T) {
	g := arena.FromRows([]string{
		"..#..",
		"..#..",
		"..#..",
	}, 1)
	if _, ok := FindPath(g, arena.Cell{X: 0, Y: 0}, arena.Cell{X: 4, Y: 0}); ok {
		t.Fatalf("disconnected pair should have no path")
	}
	if _, ok := FindPath(g, arena.Cell{X: 2, Y: 0}, arena.Cell{X: 0, Y: 0}); ok {
		t.Fatalf("blocked start should have no path")
	}
	if _, ok := FindPath(g, arena.Cell{X: 0, Y: 0}, arena.Cell{X: -1, Y: 0}); ok {
		t.Fatalf("out-of-bounds goal should have no path")
	}
}

func TestFindPath_SameCell(t *testing.T) {
	g := arena.FromRows([]string{"..."}, 1)
	p, ok := FindPath(g, arena.Cell{X: 1}, arena.Cell{X: 1})
	if !ok || len(p) != 1 {
		t.Fatalf("same-cell path=%v ok=%v", p, ok)
	}
}

func TestFindPath_TieBreakVerticalFirst(t *testing.T) {
	g := arena.FromRows([]string{
		"...",
		"...",
		"...",
	}, 1)
	p, ok := FindPath(g, arena.Cell{X: 0, Y: 1}, arena.Cell{X: 2, Y: 1})
	if !ok || len(p) != 3 {
		t.Fatalf("path=%v", p)
	}
	if p[1] != (arena.Cell{X: 1, Y: 1}) {
		t.Fatalf("only the straight path has length 3, got %v", p)
	}
	// Two shortest paths exist here; expanding vertical moves before horizontal picks the left column.
	p2, _ := FindPath(g, arena.Cell{X: 0, Y: 2}, arena.Cell{X: 1, Y: 0})
	if len(p2) != 4 || p2[1] != (arena.Cell{X: 0, Y: 1}) {
		t.Fatalf("expected first step up, got %v", p2)
	}
}

func TestFindPath_ExpandsPositiveYFirst(t *testing.T) {
	g := arena.FromRows([]string{
		"...",
		".#.",
		"...",
	}, 1)
	p, ok := FindPath(g, arena.Cell{X: 0, Y: 1}, arena.Cell{X: 2, Y: 1})
	if !ok || len(p) != 5 {
		t.Fatalf("path=%v ok=%v", p, ok)
	}
	// Both detours are four steps; +Y is expanded first, which is world +Z.
	if p[1] != (arena.Cell{X: 0, Y: 2}) || p[2] != (arena.Cell{X: 1, Y: 2}) {
		t.Fatalf("expected the +Y detour, got %v", p)
	}
	if w := g.GridToWorld(p[1]); w.Z <= g.GridToWorld(p[0]).Z {
		t.Fatalf("first step should move toward +Z: %v", w)
	}
}

func TestFindPath_MatchesBFSDistanceOnCarvedArenas(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		g := arena.Build(14, 14, 1, 70, seed)
		open := g.OpenCells()
		start := g.Center()
		dist := bfsDistances(g, start)
		for _, goal := range open {
			p, ok := FindPath(g, start, goal)
			if !ok {
				t.Fatalf("seed=%d: carved arena must connect %v to %v", seed, start, goal)
			}
			if len(p)-1 != dist[goal] {
				t.Fatalf("seed=%d goal=%v len=%d want %d", seed, goal, len(p)-1, dist[goal])
			}
		}
	}
}

func TestFindPath_ConcurrentCallers(t *testing.T) {
	g := arena.Build(20, 20, 1, 120, 5)
	open := g.OpenCells()
	want := make([]int, len(open))
	for i, c := range open {
		want[i] = Distance(g, g.Center(), c)
	}
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, c := range open {
				if got := Distance(g, g.Center(), c); got != want[i] {
					errs <- c.String()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("concurrent search disagreed at %s", e)
	}
}

func TestReachable(t *testing.T) {
	g := arena.FromRows([]string{
		"..#.",
		"..#.",
	}, 1)
	r := Reachable(g, arena.Cell{})
	if len(r) != 4 {
		t.Fatalf("reachable=%d want 4", len(r))
	}
	if len(Reachable(g, arena.Cell{X: 2})) != 0 {
		t.Fatalf("blocked start reaches nothing")
	}
}

func bfsDistances(g *arena.Grid, start arena.Cell) map[arena.Cell]int {
	dist := map[arena.Cell]int{start: 0}
	queue := []arena.Cell{start}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, d := range arena.Dirs {
			n := cur.Add(d)
			if _, ok := dist[n]; ok || g.IsBlocked(n) {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
		}
	}
	return dist
}
