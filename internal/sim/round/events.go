package round

import (
	"fmt"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/spawn"
)

type State int

const (
	StateSetup State = iota
	StateActive
	StateResolved
	StateSessionEnd
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateActive:
		return "active"
	case StateResolved:
		return "resolved"
	case StateSessionEnd:
		return "session_end"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{StateSetup, StateActive, StateResolved, StateSessionEnd} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Sink receives session events on the ticking goroutine. Implementations must not
// block; slow consumers should buffer or drop.
type Sink interface {
	RoundStarted(RoundStart)
	Frame(Frame)
	RoundEnded(RoundEnd)
	SessionEnded(metrics.Report)
}

// NopSink can be embedded by sinks interested in a subset of events.
type NopSink struct{}

func (NopSink) RoundStarted(RoundStart)     {}
func (NopSink) Frame(Frame)                 {}
func (NopSink) RoundEnded(RoundEnd)         {}
func (NopSink) SessionEnded(metrics.Report) {}

type ObstacleView struct {
	Cell  arena.Cell `json:"cell"`
	Scale float64    `json:"scale"`
}

// ArenaView is the static part of a round for renderers.
type ArenaView struct {
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	CellSize  float64        `json:"cell_size"`
	Walls     bool           `json:"walls"`
	Rows      []string       `json:"rows"`
	Obstacles []ObstacleView `json:"obstacles,omitempty"`
}

type RoundStart struct {
	SessionID string          `json:"session_id"`
	Round     int             `json:"round"`
	Rounds    int             `json:"rounds"`
	Mode      string          `json:"mode"`
	Seed      int64           `json:"seed"`
	Attempts  int             `json:"attempts"`
	Solvable  bool            `json:"solvable"`
	Digest    string          `json:"digest"`
	TimeLimit float64         `json:"time_limit"`
	Arena     ArenaView       `json:"arena"`
	Plan      spawn.Plan      `json:"plan"`
	Entities  []entity.Entity `json:"entities"`
}

type MoverView struct {
	Cell  arena.Cell   `json:"cell"`
	Pos   arena.Vec2   `json:"pos"`
	Speed float64      `json:"speed"`
	Path  []arena.Cell `json:"path,omitempty"`
}

type AgentView struct {
	MoverView
	State           control.AgentState `json:"state"`
	SpeedMultiplier float64            `json:"speed_multiplier"`
}

type EffectView struct {
	Kind       entity.PowerUpKind `json:"kind"`
	Multiplier float64            `json:"multiplier"`
	ExpiresAt  float64            `json:"expires_at"`
}

// Frame is the read-only per-tick view: the HUD values plus live entities.
type Frame struct {
	SessionID string  `json:"session_id"`
	Tick      uint64  `json:"tick"`
	Round     int     `json:"round"`
	Rounds    int     `json:"rounds"`
	State     State   `json:"state"`
	Mode      string  `json:"mode"`
	Manual    bool    `json:"manual"`
	TimeLimit float64 `json:"time_limit"`
	Remaining float64 `json:"remaining"`
	Collected int     `json:"collected"`
	Target    int     `json:"target"`
	Wins      int     `json:"wins"`

	Agent     *AgentView      `json:"agent,omitempty"`
	Adversary *MoverView      `json:"adversary,omitempty"`
	Entities  []entity.Entity `json:"entities,omitempty"`
	Effects   []EffectView    `json:"effects,omitempty"`
}

type RoundEnd struct {
	SessionID string          `json:"session_id"`
	Round     int             `json:"round"`
	Seed      int64           `json:"seed"`
	Attempts  int             `json:"attempts"`
	Solvable  bool            `json:"solvable"`
	Digest    string          `json:"digest"`
	Ticks     int             `json:"ticks"`
	Outcome   metrics.Outcome `json:"outcome"`
	Plan      spawn.Plan      `json:"plan"`
}
