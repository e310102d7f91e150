// Package spawn allocates non-overlapping entity cells for a round.
package spawn

import (
	"math/rand"

	"gridarena.ai/internal/sim/arena"
)

// DefaultAttempts bounds rejection sampling before the fallback cell is used.
const DefaultAttempts = 100

// Occupied is the round-scoped set of cells already handed out.
type Occupied map[arena.Cell]bool

type Allocator struct {
	Attempts int
}

// AllocateSpawn draws uniformly random cells until one is open and unoccupied, records
// it in occupied and returns it with exclusive=true. When the attempt bound runs out
// it returns the grid center if open, else the first open cell in row-major order;
// that cell may already be occupied and exclusive is false. ok is false only when the
// grid has no open cell at all; c is then the blocked center and must not be used
// as a walkable position.
func (a Allocator) AllocateSpawn(g *arena.Grid, rng *rand.Rand, occupied Occupied) (c arena.Cell, exclusive, ok bool) {
	attempts := a.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for i := 0; i < attempts; i++ {
		c := arena.Cell{X: rng.Intn(g.Width()), Y: rng.Intn(g.Height())}
		if g.IsBlocked(c) || occupied[c] {
			continue
		}
		occupied[c] = true
		return c, true, true
	}
	c, ok = fallback(g)
	if !ok {
		return c, false, false
	}
	occupied[c] = true
	return c, false, true
}

func fallback(g *arena.Grid) (arena.Cell, bool) {
	if c := g.Center(); !g.IsBlocked(c) {
		return c, true
	}
	if c, ok := g.FirstOpen(); ok {
		return c, true
	}
	return g.Center(), false
}
