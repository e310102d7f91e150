package control

import (
	"fmt"
	"sync"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/genome"
)

type AgentState int

const (
	AgentIdle AgentState = iota
	AgentNavigating
	AgentFinished
)

func (s AgentState) String() string {
	switch s {
	case AgentIdle:
		return "idle"
	case AgentNavigating:
		return "navigating"
	case AgentFinished:
		return "finished"
	default:
		return "unknown"
	}
}

func (s AgentState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AgentState) UnmarshalText(b []byte) error {
	for _, v := range []AgentState{AgentIdle, AgentNavigating, AgentFinished} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown agent state %q", b)
}

// InputSource supplies the held direction for manual control.
type InputSource interface {
	Direction() (arena.Dir, bool)
}

// HeldInput is an InputSource fed from another goroutine; the latest Set wins.
type HeldInput struct {
	mu   sync.Mutex
	dir  arena.Dir
	held bool
}

func (h *HeldInput) Set(d arena.Dir) {
	h.mu.Lock()
	h.dir, h.held = d, true
	h.mu.Unlock()
}

func (h *HeldInput) Release() {
	h.mu.Lock()
	h.held = false
	h.mu.Unlock()
}

func (h *HeldInput) Direction() (arena.Dir, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dir, h.held
}

type AgentConfig struct {
	Mode          genome.Mode
	Speed         float64
	Acceleration  float64
	StopDistance  float64
	Manual        bool
	Input         InputSource
	ArriveEpsilon float64
	StuckEpsilon  float64
	StuckSeconds  float64
}

// Agent drives the navigating entity. Autonomous agents re-plan toward their
// target every tick; manual agents follow the held input one cell at a time.
type Agent struct {
	Mover

	cfg   AgentConfig
	state AgentState
	stuck stuckDetector
}

func NewAgent(cfg AgentConfig) *Agent {
	return &Agent{
		Mover: newMover(cfg.Speed, cfg.Acceleration, cfg.ArriveEpsilon),
		cfg:   cfg,
		stuck: stuckDetector{eps: cfg.StuckEpsilon, limit: cfg.StuckSeconds},
	}
}

func (a *Agent) State() AgentState { return a.state }

func (a *Agent) Manual() bool { return a.cfg.Manual }

// Spawn places the agent for a new round in the Idle state.
func (a *Agent) Spawn(g *arena.Grid, c arena.Cell) {
	a.Place(g, c)
	a.state = AgentIdle
	a.stuck.elapsed = 0
	a.setMultiplier(1)
}

// Start moves an Idle agent to Navigating.
func (a *Agent) Start() {
	if a.state == AgentIdle {
		a.state = AgentNavigating
	}
}

// Finish ends navigation for the round and cancels any in-flight step.
func (a *Agent) Finish() {
	a.state = AgentFinished
	a.Cancel()
}

// SetSpeedMultiplier scales the top speed; the scheduler owns timed effects.
func (a *Agent) SetSpeedMultiplier(v float64) { a.setMultiplier(v) }

// Tick advances the agent by dt against the round's grid and entity index.
func (a *Agent) Tick(g *arena.Grid, ix *entity.Index, dt float64) Signal {
	if a.state != AgentNavigating {
		return SignalNone
	}
	if a.reachedGoal(ix) {
		a.Finish()
		return SignalWin
	}
	if a.cfg.Manual {
		a.tickManual(g, dt)
	} else {
		a.tickAutonomous(g, ix, dt)
	}
	if a.reachedGoal(ix) {
		a.Finish()
		return SignalWin
	}
	active := a.hasNext || len(a.path) >= 2
	if a.stuck.observe(active, a.MeasuredSpeed(), dt) {
		return SignalStuck
	}
	return SignalNone
}

// Target is the cell autonomous navigation currently aims for.
func (a *Agent) Target(ix *entity.Index) (arena.Cell, bool) {
	switch a.cfg.Mode {
	case genome.ModeCollect:
		e, ok := ix.NearestCollectible(a.Cell)
		if !ok {
			return arena.Cell{}, false
		}
		return e.Cell, true
	case genome.ModePointToPoint:
		if goal := ix.First(entity.KindGoal); goal != nil {
			return goal.Cell, true
		}
	}
	return arena.Cell{}, false
}

func (a *Agent) reachedGoal(ix *entity.Index) bool {
	if a.cfg.Mode != genome.ModePointToPoint {
		return false
	}
	goal := ix.First(entity.KindGoal)
	return goal != nil && goal.Cell == a.Cell
}

func (a *Agent) tickAutonomous(g *arena.Grid, ix *entity.Index, dt float64) {
	target, ok := a.Target(ix)
	if !ok || !a.replan(g, target) {
		a.path = nil
	}
	if !a.hasNext && len(a.path) >= 2 {
		a.head(a.path[1])
	}
	commitWithin := 0.0
	if a.cfg.Mode == genome.ModePointToPoint && len(a.path) == 2 && a.hasNext && a.next == target {
		commitWithin = a.cfg.StopDistance
	}
	a.advance(g, dt, commitWithin)
}

func (a *Agent) tickManual(g *arena.Grid, dt float64) {
	if !a.hasNext && a.Centered(g) && a.cfg.Input != nil {
		if d, ok := a.cfg.Input.Direction(); ok {
			if next := a.Cell.Add(d); !g.IsBlocked(next) {
				a.head(next)
			}
		}
	}
	a.advance(g, dt, 0)
}
