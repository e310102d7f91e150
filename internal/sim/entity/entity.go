// Package entity holds the round-scoped entity records and the index the scheduler
// drives its single update pass from.
package entity

import (
	"fmt"

	"gridarena.ai/internal/sim/arena"
)

type Kind int

const (
	KindAgent Kind = iota
	KindAdversary
	KindGoal
	KindCollectible
	KindPowerUp
	KindTrap

	numKinds
)

var kindNames = [numKinds]string{"agent", "adversary", "goal", "collectible", "powerup", "trap"}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown entity kind %q", b)
}

// Mobile kinds move every tick and are not tracked in the cell index.
func (k Kind) Mobile() bool { return k == KindAgent || k == KindAdversary }

type PowerUpKind int

const (
	PowerUpNone PowerUpKind = iota
	PowerUpTime
	PowerUpSpeed
)

func (p PowerUpKind) String() string {
	switch p {
	case PowerUpNone:
		return ""
	case PowerUpTime:
		return "time"
	case PowerUpSpeed:
		return "speed"
	default:
		return fmt.Sprintf("powerup(%d)", int(p))
	}
}

func (p PowerUpKind) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PowerUpKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*p = PowerUpNone
	case "time":
		*p = PowerUpTime
	case "speed":
		*p = PowerUpSpeed
	default:
		return fmt.Errorf("unknown power-up %q", b)
	}
	return nil
}

type ID int

type Entity struct {
	ID   ID         `json:"id"`
	Kind Kind       `json:"kind"`
	Cell arena.Cell `json:"cell"`

	PowerUp   PowerUpKind `json:"power_up,omitempty"`
	Penalty   float64     `json:"penalty,omitempty"`
	Triggered bool        `json:"triggered,omitempty"`
	Removed   bool        `json:"removed,omitempty"`
}
