package spawn

import (
	"math/rand"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/genome"
)

// Request is how many entities of each kind a round needs.
type Request struct {
	Adversary    bool
	Collectibles int // zero places a single goal instead
	PowerUps     int
	Traps        int
}

// RequestFor derives the per-round entity counts from a genome and its arena size.
func RequestFor(g genome.Genome) Request {
	area := float64(g.Arena.Width * g.Arena.Height)
	r := Request{Adversary: g.HasAdversary()}
	switch g.Mode {
	case genome.ModeCollect:
		r.Collectibles = g.Rules.TargetCount
	case genome.ModePointToPoint:
	}
	if g.Rules.PowerUpChance > 0 {
		r.PowerUps = int(area * g.Rules.PowerUpChance * 0.1)
		if r.PowerUps < 1 {
			r.PowerUps = 1
		}
	}
	if g.Rules.TrapChance > 0 {
		r.Traps = int(area * g.Rules.TrapChance)
	}
	return r
}

type PowerUpSpawn struct {
	Cell arena.Cell         `json:"cell"`
	Kind entity.PowerUpKind `json:"kind"`
}

// Plan is the ordered result of populating one round.
type Plan struct {
	Agent        arena.Cell     `json:"agent"`
	HasAdversary bool           `json:"has_adversary"`
	Adversary    arena.Cell     `json:"adversary"`
	PowerUps     []PowerUpSpawn `json:"power_ups,omitempty"`
	HasGoal      bool           `json:"has_goal"`
	Goal         arena.Cell     `json:"goal"`
	Collectibles []arena.Cell   `json:"collectibles,omitempty"`
	Traps        []arena.Cell   `json:"traps,omitempty"`

	// Overlaps counts allocations that fell back to a possibly shared cell.
	Overlaps int `json:"overlaps,omitempty"`
	// NoOpenCell is set when the grid had nowhere to stand; every cell in the
	// plan is then the blocked center.
	NoOpenCell bool `json:"no_open_cell,omitempty"`
}

// Cells lists every allocated cell in allocation order.
func (p Plan) Cells() []arena.Cell {
	out := []arena.Cell{p.Agent}
	if p.HasAdversary {
		out = append(out, p.Adversary)
	}
	for _, pu := range p.PowerUps {
		out = append(out, pu.Cell)
	}
	if p.HasGoal {
		out = append(out, p.Goal)
	}
	out = append(out, p.Collectibles...)
	return append(out, p.Traps...)
}

// Targets lists the cells the agent must be able to reach.
func (p Plan) Targets() []arena.Cell {
	if p.HasGoal {
		return []arena.Cell{p.Goal}
	}
	return p.Collectibles
}

// Overlay draws the plan onto ASCII grid rows: A agent, E adversary, G goal,
// C collectible, P power-up, T trap. Later kinds in that list are drawn first.
func (p Plan) Overlay(rows []string) []string {
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = []byte(r)
	}
	mark := func(c arena.Cell, b byte) {
		if c.Y >= 0 && c.Y < len(out) && c.X >= 0 && c.X < len(out[c.Y]) {
			out[c.Y][c.X] = b
		}
	}
	for _, c := range p.Traps {
		mark(c, 'T')
	}
	for _, pu := range p.PowerUps {
		mark(pu.Cell, 'P')
	}
	for _, c := range p.Collectibles {
		mark(c, 'C')
	}
	if p.HasGoal {
		mark(p.Goal, 'G')
	}
	if p.HasAdversary {
		mark(p.Adversary, 'E')
	}
	mark(p.Agent, 'A')

	res := make([]string, len(out))
	for i, b := range out {
		res[i] = string(b)
	}
	return res
}

// Populate allocates in a fixed order (agent, adversary, power-ups, goal or
// collectibles, traps) from one occupied set and one rng.
func (a Allocator) Populate(g *arena.Grid, rng *rand.Rand, req Request) Plan {
	occ := Occupied{}
	var p Plan
	next := func() arena.Cell {
		c, exclusive, ok := a.AllocateSpawn(g, rng, occ)
		if !ok {
			p.NoOpenCell = true
		} else if !exclusive {
			p.Overlaps++
		}
		return c
	}

	p.Agent = next()
	if req.Adversary {
		p.HasAdversary = true
		p.Adversary = next()
	}
	for i := 0; i < req.PowerUps; i++ {
		c := next()
		kind := entity.PowerUpTime
		if rng.Intn(2) == 1 {
			kind = entity.PowerUpSpeed
		}
		p.PowerUps = append(p.PowerUps, PowerUpSpawn{Cell: c, Kind: kind})
	}
	if req.Collectibles > 0 {
		for i := 0; i < req.Collectibles; i++ {
			p.Collectibles = append(p.Collectibles, next())
		}
	} else {
		p.HasGoal = true
		p.Goal = next()
	}
	for i := 0; i < req.Traps; i++ {
		p.Traps = append(p.Traps, next())
	}
	return p
}
