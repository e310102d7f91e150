// Package genome resolves named parameter bundles ("genomes") into the concrete
// per-session configuration consumed by the simulation.
package genome

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"gridarena.ai/internal/sim/arena"
)

// Mode is the closed set of rule engines a genome can select.
type Mode int

const (
	ModePointToPoint Mode = iota
	ModeCollect
)

func (m Mode) String() string {
	switch m {
	case ModePointToPoint:
		return "PointToPoint"
	case ModeCollect:
		return "Collect"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pointtopoint", "point_to_point", "p2p":
		return ModePointToPoint, nil
	case "collect":
		return ModeCollect, nil
	default:
		return ModePointToPoint, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type Arena struct {
	HalfSize  float64         `yaml:"halfSize" json:"halfSize"`
	Width     int             `yaml:"width,omitempty" json:"width,omitempty"`
	Height    int             `yaml:"height,omitempty" json:"height,omitempty"`
	CellSize  float64         `yaml:"cellSize" json:"cellSize"`
	Walls     bool            `yaml:"walls" json:"walls"`
	Generator arena.Generator `yaml:"generator" json:"generator"`
}

type Agent struct {
	Speed        float64 `yaml:"speed" json:"speed"`
	Acceleration float64 `yaml:"acceleration" json:"acceleration"`
	StopDistance float64 `yaml:"stopDistance" json:"stopDistance"`
	UserControl  bool    `yaml:"userControl" json:"userControl"`
}

type Obstacles struct {
	Count    int     `yaml:"count" json:"count"`
	MinScale float64 `yaml:"minScale" json:"minScale"`
	MaxScale float64 `yaml:"maxScale" json:"maxScale"`
	Type     string  `yaml:"type,omitempty" json:"type,omitempty"`
}

type Rules struct {
	TimeLimit     float64 `yaml:"timeLimit" json:"timeLimit"`
	Rounds        int     `yaml:"rounds" json:"rounds"`
	TargetCount   int     `yaml:"targetCount" json:"targetCount"`
	EnemySpeed    float64 `yaml:"enemySpeed" json:"enemySpeed"`
	PowerUpChance float64 `yaml:"powerUpChance" json:"powerUpChance"`
	TrapChance    float64 `yaml:"trapChance" json:"trapChance"`
	TrapPenalty   float64 `yaml:"trapPenalty" json:"trapPenalty"`
}

// Genome is one playable mode's rules. Treat values as immutable once resolved.
type Genome struct {
	Mode      Mode      `yaml:"mode" json:"mode"`
	Seed      int64     `yaml:"seed" json:"seed"`
	Arena     Arena     `yaml:"arena" json:"arena"`
	Agent     Agent     `yaml:"agent" json:"agent"`
	Obstacles Obstacles `yaml:"obstacles" json:"obstacles"`
	Rules     Rules     `yaml:"rules" json:"rules"`
}

// Defaults leaves Arena.Width and Arena.Height zero; Normalize derives them from HalfSize.
func Defaults() Genome {
	return Genome{
		Mode: ModePointToPoint,
		Seed: 42,
		Arena: Arena{
			HalfSize:  8,
			CellSize:  1,
			Walls:     true,
			Generator: arena.GenCarve,
		},
		Agent: Agent{
			Speed:        5,
			Acceleration: 15,
			StopDistance: 0.5,
		},
		Obstacles: Obstacles{
			Count:    8,
			MinScale: 1,
			MaxScale: 2.5,
			Type:     "Static",
		},
		Rules: Rules{
			TimeLimit:   20,
			Rounds:      5,
			TargetCount: 1,
			TrapPenalty: 2,
		},
	}
}

// UnmarshalYAML starts from Defaults so partial documents keep every missing field.
func (g *Genome) UnmarshalYAML(n *yaml.Node) error {
	type plain Genome
	d := plain(Defaults())
	if err := n.Decode(&d); err != nil {
		return err
	}
	*g = Genome(d)
	return nil
}

func (g *Genome) UnmarshalJSON(b []byte) error {
	type plain Genome
	d := plain(Defaults())
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*g = Genome(d)
	return nil
}

// Normalize clamps degenerate values into their documented ranges.
func (g *Genome) Normalize() {
	a := &g.Arena
	if a.HalfSize <= 0 {
		a.HalfSize = 8
	}
	if a.CellSize <= 0 {
		a.CellSize = 1
	}
	if a.Width <= 0 {
		a.Width = int(a.HalfSize * 2)
	}
	if a.Height <= 0 {
		a.Height = int(a.HalfSize * 2)
	}
	if a.Width < 1 {
		a.Width = 1
	}
	if a.Height < 1 {
		a.Height = 1
	}

	if g.Agent.Speed < 0 {
		g.Agent.Speed = 0
	}
	if g.Agent.Acceleration < 0 {
		g.Agent.Acceleration = 0
	}
	if g.Agent.StopDistance < 0 {
		g.Agent.StopDistance = 0
	}

	o := &g.Obstacles
	if o.Count < 0 {
		o.Count = 0
	}
	if o.MinScale <= 0 {
		o.MinScale = 1
	}
	if o.MaxScale <= 0 {
		o.MaxScale = o.MinScale
	}
	if o.MaxScale < o.MinScale {
		o.MinScale, o.MaxScale = o.MaxScale, o.MinScale
	}

	r := &g.Rules
	if r.TimeLimit <= 0 {
		r.TimeLimit = 20
	}
	if r.Rounds < 1 {
		r.Rounds = 1
	}
	if r.TargetCount < 1 {
		r.TargetCount = 1
	}
	if r.EnemySpeed < 0 {
		r.EnemySpeed = 0
	}
	r.PowerUpChance = clamp01(r.PowerUpChance)
	r.TrapChance = clamp01(r.TrapChance)
	if r.TrapPenalty < 0 {
		r.TrapPenalty = 0
	}
}

// Validate reports settings that Normalize cannot repair.
func (g Genome) Validate() error {
	if g.Arena.Width*g.Arena.Height > MaxCells {
		return fmt.Errorf("arena %dx%d exceeds %d cells", g.Arena.Width, g.Arena.Height, MaxCells)
	}
	return nil
}

// MaxCells bounds arena area so a bad genome cannot exhaust memory.
const MaxCells = 1 << 20

// HasAdversary reports whether rounds spawn a pursuer.
func (g Genome) HasAdversary() bool { return g.Rules.EnemySpeed > 0 }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
