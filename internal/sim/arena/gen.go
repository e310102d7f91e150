package arena

import (
	"fmt"
	"math/rand"
	"strings"

	"gridarena.ai/internal/sim/logic/mathx"
)

// Generator selects the arena generation algorithm.
type Generator int

const (
	// GenCarve is a random walk from the center that opens cells until the open
	// target is met. Every open cell lies on the walker's trace, so the open region is
	// connected by construction.
	GenCarve Generator = iota
	// GenFill blocks each cell independently. Legacy; results must be validated.
	GenFill
)

func (g Generator) String() string {
	switch g {
	case GenCarve:
		return "carve"
	case GenFill:
		return "fill"
	default:
		return fmt.Sprintf("generator(%d)", int(g))
	}
}

// Connected reports whether the generator guarantees a single open component.
func (g Generator) Connected() bool { return g == GenCarve }

func ParseGenerator(s string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "carve":
		return GenCarve, nil
	case "fill":
		return GenFill, nil
	default:
		return GenCarve, fmt.Errorf("unknown generator %q", s)
	}
}

func (g Generator) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *Generator) UnmarshalText(b []byte) error {
	v, err := ParseGenerator(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Build carves a width x height arena leaving obstacleTarget cells blocked (at least
// one cell is always open).
func Build(width, height int, cellSize float64, obstacleTarget int, seed int64) *Grid {
	return Carve(width, height, cellSize, obstacleTarget, seed)
}

// Generate dispatches on the generator kind.
func Generate(kind Generator, width, height int, cellSize float64, obstacleTarget int, seed int64) *Grid {
	switch kind {
	case GenFill:
		return Fill(width, height, cellSize, obstacleTarget, seed)
	default:
		return Carve(width, height, cellSize, obstacleTarget, seed)
	}
}

func Carve(width, height int, cellSize float64, obstacleTarget int, seed int64) *Grid {
	g := newGrid(width, height, cellSize, true)
	target := g.width*g.height - obstacleTarget
	if target < 1 {
		target = 1
	}
	if target > g.width*g.height {
		target = g.width * g.height
	}

	rng := rand.New(rand.NewSource(seed))
	cur := g.Center()
	g.setOpen(cur)
	open := 1

	for open < target {
		next := cur.Add(Dirs[rng.Intn(4)])
		if !g.InBounds(next) {
			continue
		}
		cur = next
		if g.IsBlocked(cur) {
			g.setOpen(cur)
			open++
		}
	}
	return g
}

// Fill blocks each cell with probability obstacleTarget/(width*height), row-major.
func Fill(width, height int, cellSize float64, obstacleTarget int, seed int64) *Grid {
	g := newGrid(width, height, cellSize, false)
	rate := mathx.Clamp(float64(obstacleTarget)/float64(g.width*g.height), 0, 1)
	rng := rand.New(rand.NewSource(seed))
	for i := range g.blocked {
		g.blocked[i] = rng.Float64() < rate
	}
	return g
}

// ObstacleScale is the presentation scale of a blocked cell. It depends only on the
// seed and the cell, so renderers can recompute it.
func ObstacleScale(seed int64, c Cell, minScale, maxScale float64) float64 {
	if maxScale < minScale {
		minScale, maxScale = maxScale, minScale
	}
	return mathx.Lerp(minScale, maxScale, mathx.Unit(mathx.Hash2(seed, c.X, c.Y)))
}
