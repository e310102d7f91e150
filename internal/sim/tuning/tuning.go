package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning holds engine constants that are not part of a genome.
type Tuning struct {
	TickRateHz int     `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	FixedStep  float64 `yaml:"fixed_step" json:"fixed_step"`

	ArriveEpsilon float64 `yaml:"arrive_epsilon" json:"arrive_epsilon"`
	StuckEpsilon  float64 `yaml:"stuck_epsilon" json:"stuck_epsilon"`
	StuckSeconds  float64 `yaml:"stuck_seconds" json:"stuck_seconds"`

	TimeBoostSeconds     float64 `yaml:"time_boost_seconds" json:"time_boost_seconds"`
	SpeedBoostMultiplier float64 `yaml:"speed_boost_multiplier" json:"speed_boost_multiplier"`
	SpeedBoostSeconds    float64 `yaml:"speed_boost_seconds" json:"speed_boost_seconds"`

	SpawnAttempts      int  `yaml:"spawn_attempts" json:"spawn_attempts"`
	ValidationAttempts int  `yaml:"validation_attempts" json:"validation_attempts"`
	SameArenaEachRound bool `yaml:"same_arena_each_round" json:"same_arena_each_round"`

	// FrameEveryTicks publishes one observer frame per N ticks.
	FrameEveryTicks int `yaml:"frame_every_ticks" json:"frame_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:           50,
		FixedStep:            0.02,
		ArriveEpsilon:        0.1,
		StuckEpsilon:         0.05,
		StuckSeconds:         2,
		TimeBoostSeconds:     5,
		SpeedBoostMultiplier: 1.5,
		SpeedBoostSeconds:    3,
		SpawnAttempts:        100,
		ValidationAttempts:   10,
		FrameEveryTicks:      1,
	}
}

// Load reads a tuning file on top of Defaults. An empty path returns Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Defaults(), fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.FixedStep <= 0 {
		t.FixedStep = 1 / float64(t.TickRateHz)
	}
	if t.ArriveEpsilon <= 0 {
		t.ArriveEpsilon = d.ArriveEpsilon
	}
	if t.StuckEpsilon < 0 {
		t.StuckEpsilon = 0
	}
	if t.StuckSeconds < 0 {
		t.StuckSeconds = 0
	}
	if t.TimeBoostSeconds < 0 {
		t.TimeBoostSeconds = 0
	}
	if t.SpeedBoostMultiplier <= 0 {
		t.SpeedBoostMultiplier = 1
	}
	if t.SpeedBoostSeconds < 0 {
		t.SpeedBoostSeconds = 0
	}
	if t.SpawnAttempts <= 0 {
		t.SpawnAttempts = d.SpawnAttempts
	}
	if t.ValidationAttempts <= 0 {
		t.ValidationAttempts = 1
	}
	if t.FrameEveryTicks <= 0 {
		t.FrameEveryTicks = 1
	}
}
