package round

import (
	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/entity"
)

// Snapshot returns the current read-only view of the session.
func (s *Session) Snapshot() Frame {
	f := Frame{
		SessionID: s.id,
		Tick:      s.tick,
		Round:     s.round,
		Rounds:    s.genome.Rules.Rounds,
		State:     s.state,
		Mode:      s.genome.Mode.String(),
		Manual:    s.agent.Manual(),
		TimeLimit: s.genome.Rules.TimeLimit,
		Remaining: s.remaining,
		Collected: s.collected,
		Target:    s.genome.Rules.TargetCount,
		Wins:      s.agg.Wins(),
	}
	if s.grid == nil || s.agentEnt == nil {
		return f
	}
	f.Agent = &AgentView{
		MoverView:       moverView(&s.agent.Mover),
		State:           s.agent.State(),
		SpeedMultiplier: 1,
	}
	for _, e := range s.effects {
		f.Effects = append(f.Effects, EffectView{Kind: e.kind, Multiplier: e.multiplier, ExpiresAt: e.expiresAt})
		if e.kind == entity.PowerUpSpeed {
			f.Agent.SpeedMultiplier = e.multiplier
		}
	}
	if s.adversary != nil {
		v := moverView(&s.adversary.Mover)
		f.Adversary = &v
	}
	f.Entities = s.entitySnapshot(true)
	return f
}

func (s *Session) emitFrame() {
	if len(s.sinks) == 0 {
		return
	}
	f := s.Snapshot()
	for _, sink := range s.sinks {
		sink.Frame(f)
	}
}

func moverView(m *control.Mover) MoverView {
	v := MoverView{Cell: m.Cell, Pos: m.Pos, Speed: m.MeasuredSpeed()}
	if p := m.Path(); len(p) > 0 {
		v.Path = append([]arena.Cell(nil), p...)
	}
	return v
}

// entitySnapshot copies the round's entities. Removed ones are skipped when
// liveOnly is set.
func (s *Session) entitySnapshot(liveOnly bool) []entity.Entity {
	all := s.index.All()
	out := make([]entity.Entity, 0, len(all))
	for _, e := range all {
		if liveOnly && e.Removed {
			continue
		}
		out = append(out, *e)
	}
	return out
}

func (s *Session) arenaView() ArenaView {
	g := s.grid
	v := ArenaView{
		Width:    g.Width(),
		Height:   g.Height(),
		CellSize: g.CellSize(),
		Walls:    s.genome.Arena.Walls,
		Rows:     g.Rows(),
	}
	o := s.genome.Obstacles
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			c := arena.Cell{X: x, Y: y}
			if g.IsBlocked(c) {
				v.Obstacles = append(v.Obstacles, ObstacleView{Cell: c, Scale: arena.ObstacleScale(s.layout.Seed, c, o.MinScale, o.MaxScale)})
			}
		}
	}
	return v
}
