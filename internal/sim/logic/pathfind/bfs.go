package pathfind

import "gridarena.ai/internal/sim/arena"

// Blocker is the only view of the grid a search needs. *arena.Grid satisfies it.
type Blocker interface {
	IsBlocked(c arena.Cell) bool
}

// Neighbours are expanded +Y, -Y, -X, +X. GridToWorld maps +Y to +Z, so in world
// space this is up, down, left, right. It is not arena.Dirs order: arena.DirUp is -Y,
// the row above in the ASCII rendering.
var neighbours = [4]arena.Cell{{X: 0, Y: 1}, {X: 0, Y: -1}, {X: -1, Y: 0}, {X: 1, Y: 0}}

// FindPath returns a shortest 4-neighbour path from start to goal, both ends included.
// Neighbours are visited in the fixed order above, so among equal-length paths the
// result is deterministic. It returns false when either end is blocked or out
// of bounds, or when goal is unreachable.
//
// All search state is local to the call; concurrent callers may share one grid.
func FindPath(g Blocker, start, goal arena.Cell) ([]arena.Cell, bool) {
	if g.IsBlocked(start) || g.IsBlocked(goal) {
		return nil, false
	}
	if start == goal {
		return []arena.Cell{start}, true
	}

	cameFrom := make(map[arena.Cell]arena.Cell, 256)
	cameFrom[start] = start
	queue := make([]arena.Cell, 0, 256)
	queue = append(queue, start)

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, d := range neighbours {
			next := arena.Cell{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, seen := cameFrom[next]; seen {
				continue
			}
			if g.IsBlocked(next) {
				continue
			}
			cameFrom[next] = cur
			if next == goal {
				return unwind(cameFrom, start, goal), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// Distance is the BFS step count between two cells, or -1 when unreachable.
func Distance(g Blocker, start, goal arena.Cell) int {
	p, ok := FindPath(g, start, goal)
	if !ok {
		return -1
	}
	return len(p) - 1
}

// Reachable floods from start and returns every open cell it can reach.
func Reachable(g Blocker, start arena.Cell) map[arena.Cell]bool {
	seen := map[arena.Cell]bool{}
	if g.IsBlocked(start) {
		return seen
	}
	seen[start] = true
	queue := []arena.Cell{start}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, d := range neighbours {
			next := arena.Cell{X: cur.X + d.X, Y: cur.Y + d.Y}
			if seen[next] || g.IsBlocked(next) {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return seen
}

func unwind(cameFrom map[arena.Cell]arena.Cell, start, goal arena.Cell) []arena.Cell {
	var rev []arena.Cell
	for c := goal; c != start; c = cameFrom[c] {
		rev = append(rev, c)
	}
	rev = append(rev, start)
	out := make([]arena.Cell, len(rev))
	for i, c := range rev {
		out[len(rev)-1-i] = c
	}
	return out
}
