// Package control holds the per-tick decision machines for the mobile entities: the
// navigating agent and the pursuing adversary.
package control

import (
	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/logic/pathfind"
)

// Signal is what a controller reports to the round scheduler after a tick.
type Signal int

const (
	SignalNone Signal = iota
	SignalWin
	SignalCaught
	SignalStuck
)

func (s Signal) String() string {
	switch s {
	case SignalWin:
		return "win"
	case SignalCaught:
		return "caught"
	case SignalStuck:
		return "stuck"
	default:
		return "none"
	}
}

// Mover is the continuous-motion state shared by both controllers. The logical cell
// only changes when the mover arrives at the next cell's center.
type Mover struct {
	Cell arena.Cell
	Pos  arena.Vec2

	speed    float64
	measured float64

	next       arena.Cell
	hasNext    bool
	path       []arena.Cell
	arriveEps  float64
	accel      float64
	baseSpeed  float64
	multiplier float64
}

func newMover(baseSpeed, accel, arriveEps float64) Mover {
	if arriveEps <= 0 {
		arriveEps = 0.1
	}
	return Mover{baseSpeed: baseSpeed, accel: accel, arriveEps: arriveEps, multiplier: 1}
}

// Place puts the mover at rest on c and drops any in-flight commitment.
func (m *Mover) Place(g *arena.Grid, c arena.Cell) {
	m.Cell = c
	m.Pos = g.GridToWorld(c)
	m.speed = 0
	m.measured = 0
	m.hasNext = false
	m.path = nil
}

// Cancel drops the in-flight step and planned path; the logical cell is kept.
func (m *Mover) Cancel() {
	m.hasNext = false
	m.path = nil
	m.speed = 0
	m.measured = 0
}

// MaxSpeed is the current top speed including any active multiplier.
func (m *Mover) MaxSpeed() float64 { return m.baseSpeed * m.multiplier }

// MeasuredSpeed is the distance covered in the last tick divided by its duration.
func (m *Mover) MeasuredSpeed() float64 { return m.measured }

// Path is the most recent plan from the logical cell, or nil.
func (m *Mover) Path() []arena.Cell { return m.path }

// InTransit reports whether the mover is between two cells.
func (m *Mover) InTransit() bool { return m.hasNext }

// Next returns the cell the mover is heading to, if any.
func (m *Mover) Next() (arena.Cell, bool) { return m.next, m.hasNext }

// Centered reports whether the mover sits on its logical cell's center.
func (m *Mover) Centered(g *arena.Grid) bool {
	return !m.hasNext && m.Pos.Dist(g.GridToWorld(m.Cell)) <= m.arriveEps
}

func (m *Mover) setMultiplier(v float64) {
	if v <= 0 {
		v = 1
	}
	m.multiplier = v
}

// replan searches from the logical cell to goal and keeps the result.
func (m *Mover) replan(g *arena.Grid, goal arena.Cell) bool {
	p, ok := pathfind.FindPath(g, m.Cell, goal)
	if !ok {
		m.path = nil
		return false
	}
	m.path = p
	return true
}

func (m *Mover) head(c arena.Cell) {
	m.next = c
	m.hasNext = true
}

// advance moves toward the pending cell and commits it on arrival. It reports
// whether the logical cell changed this tick.
func (m *Mover) advance(g *arena.Grid, dt, commitWithin float64) bool {
	if !m.hasNext || dt <= 0 {
		m.measured = 0
		return false
	}
	top := m.MaxSpeed()
	if m.accel > 0 {
		m.speed += m.accel * dt
		if m.speed > top {
			m.speed = top
		}
	} else {
		m.speed = top
	}
	target := g.GridToWorld(m.next)
	prev := m.Pos
	m.Pos = m.Pos.MoveTowards(target, m.speed*dt)
	m.measured = prev.Dist(m.Pos) / dt

	if commitWithin < m.arriveEps {
		commitWithin = m.arriveEps
	}
	if m.Pos.Dist(target) > commitWithin {
		return false
	}
	m.Cell = m.next
	m.Pos = target
	m.hasNext = false
	return true
}

type stuckDetector struct {
	eps     float64
	limit   float64
	elapsed float64
}

// observe returns true once the mover has had somewhere to go yet moved slower than
// eps for longer than limit; the timer then restarts.
func (s *stuckDetector) observe(active bool, speed, dt float64) bool {
	if s.limit <= 0 || !active || speed >= s.eps {
		s.elapsed = 0
		return false
	}
	s.elapsed += dt
	if s.elapsed > s.limit {
		s.elapsed = 0
		return true
	}
	return false
}
