package round

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/logic/mathx"
	"gridarena.ai/internal/sim/logic/pathfind"
	"gridarena.ai/internal/sim/spawn"
	"gridarena.ai/internal/sim/tuning"
)

// Layout is one round's generated arena and spawn plan.
type Layout struct {
	Grid     *arena.Grid
	Plan     spawn.Plan
	Seed     int64 // seed of the attempt that produced Grid
	Attempts int
	Solvable bool
}

// LayoutFunc builds the layout for a round from its seed.
type LayoutFunc func(round int, seed int64) Layout

// BuildLayout generates the arena and populates it. Generators without a
// connectivity guarantee are retried with seed+attempt until every target is
// reachable from the agent or the attempt budget runs out; the last attempt is
// returned either way.
func BuildLayout(g genome.Genome, tu tuning.Tuning, seed int64) Layout {
	kind := g.Arena.Generator
	attempts := 1
	if !kind.Connected() {
		attempts = tu.ValidationAttempts
		if attempts < 1 {
			attempts = 1
		}
	}
	alloc := spawn.Allocator{Attempts: tu.SpawnAttempts}
	req := spawn.RequestFor(g)

	var l Layout
	for i := 0; i < attempts; i++ {
		s := seed + int64(i)
		grid := arena.Generate(kind, g.Arena.Width, g.Arena.Height, g.Arena.CellSize, g.Obstacles.Count, s)
		plan := alloc.Populate(grid, rand.New(rand.NewSource(spawnSeed(s))), req)
		l = Layout{Grid: grid, Plan: plan, Seed: s, Attempts: i + 1}
		if kind.Connected() || solvable(grid, plan) {
			l.Solvable = true
			return l
		}
	}
	return l
}

func spawnSeed(s int64) int64 {
	return int64(mathx.Hash2(s, -1, -1) & math.MaxInt64)
}

func solvable(g *arena.Grid, p spawn.Plan) bool {
	if g.IsBlocked(p.Agent) {
		return false
	}
	reach := pathfind.Reachable(g, p.Agent)
	for _, c := range p.Targets() {
		if !reach[c] {
			return false
		}
	}
	return true
}

// LayoutDigest hashes the grid and every spawn cell. Two layouts with the same
// digest are byte-identical for the simulation.
func LayoutDigest(l Layout) string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeCell := func(c arena.Cell) {
		writeU64(uint64(int64(c.X)))
		writeU64(uint64(int64(c.Y)))
	}

	g := l.Grid
	writeU64(uint64(g.Width()))
	writeU64(uint64(g.Height()))
	writeU64(math.Float64bits(g.CellSize()))
	h.Write(g.Bits())

	p := l.Plan
	writeCell(p.Agent)
	if p.HasAdversary {
		writeU64(1)
		writeCell(p.Adversary)
	} else {
		writeU64(0)
	}
	writeU64(uint64(len(p.PowerUps)))
	for _, pu := range p.PowerUps {
		writeCell(pu.Cell)
		writeU64(uint64(pu.Kind))
	}
	if p.HasGoal {
		writeU64(1)
		writeCell(p.Goal)
	} else {
		writeU64(0)
	}
	writeU64(uint64(len(p.Collectibles)))
	for _, c := range p.Collectibles {
		writeCell(c)
	}
	writeU64(uint64(len(p.Traps)))
	for _, c := range p.Traps {
		writeCell(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}
