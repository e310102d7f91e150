package control

import "gridarena.ai/internal/sim/arena"

type AdversaryConfig struct {
	Speed         float64
	ArriveEpsilon float64
}

// Adversary pursues the agent's live cell. It only reads the agent's position.
type Adversary struct {
	Mover
}

func NewAdversary(cfg AdversaryConfig) *Adversary {
	return &Adversary{Mover: newMover(cfg.Speed, 0, cfg.ArriveEpsilon)}
}

func (a *Adversary) Spawn(g *arena.Grid, c arena.Cell) {
	a.Place(g, c)
}

// Tick re-plans toward quarry and steps along the path. It returns SignalCaught
// when its logical cell equals quarry after moving.
func (a *Adversary) Tick(g *arena.Grid, quarry arena.Cell, dt float64) Signal {
	a.replan(g, quarry)
	if !a.hasNext && len(a.path) >= 2 {
		a.head(a.path[1])
	}
	a.advance(g, dt, 0)
	if a.Cell == quarry {
		return SignalCaught
	}
	return SignalNone
}
