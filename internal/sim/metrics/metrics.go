// Package metrics accumulates round outcomes and computes the session report.
package metrics

import "fmt"

type Cause int

const (
	CauseWin Cause = iota + 1
	CauseTimeout
	CauseCaught
	CauseStuck
)

func (c Cause) String() string {
	switch c {
	case 0:
		return ""
	case CauseWin:
		return "win"
	case CauseTimeout:
		return "timeout"
	case CauseCaught:
		return "caught"
	case CauseStuck:
		return "stuck"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

func (c Cause) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Cause) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	for _, v := range []Cause{CauseWin, CauseTimeout, CauseCaught, CauseStuck} {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown cause %q", b)
}

type Outcome struct {
	Round     int     `json:"round"`
	Cause     Cause   `json:"cause"`
	Elapsed   float64 `json:"elapsed"`
	Collected int     `json:"collected"`
}

type Report struct {
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Seed      int64  `json:"seed"`

	TotalRounds         int     `json:"total_rounds"`
	Wins                int     `json:"wins"`
	Timeouts            int     `json:"timeouts"`
	StuckOrCaughtEvents int     `json:"stuck_or_caught_events"`
	Caught              int     `json:"caught"`
	Stuck               int     `json:"stuck"`
	WinRate             float64 `json:"win_rate"`
	AvgTimeToGoal       float64 `json:"avg_time_to_goal"`
	TotalCollected      int     `json:"total_collected"`

	Rounds []Outcome `json:"rounds,omitempty"`
}

// Aggregator is owned by a single session; it is not safe for concurrent use.
type Aggregator struct {
	totalRounds int
	wins        int
	timeouts    int
	caught      int
	stuck       int
	collected   int
	winTimes    []float64
	outcomes    []Outcome
}

// NewAggregator clamps totalRounds to at least 1.
func NewAggregator(totalRounds int) *Aggregator {
	if totalRounds < 1 {
		totalRounds = 1
	}
	return &Aggregator{totalRounds: totalRounds}
}

func (a *Aggregator) Record(o Outcome) {
	switch o.Cause {
	case CauseWin:
		a.wins++
		a.winTimes = append(a.winTimes, o.Elapsed)
	case CauseTimeout:
		a.timeouts++
	case CauseCaught:
		a.caught++
	case CauseStuck:
		a.stuck++
	}
	a.collected += o.Collected
	a.outcomes = append(a.outcomes, o)
}

func (a *Aggregator) Wins() int { return a.wins }

func (a *Aggregator) Outcomes() []Outcome { return append([]Outcome(nil), a.outcomes...) }

func (a *Aggregator) Report() Report {
	r := Report{
		TotalRounds:         a.totalRounds,
		Wins:                a.wins,
		Timeouts:            a.timeouts,
		StuckOrCaughtEvents: a.caught + a.stuck,
		Caught:              a.caught,
		Stuck:               a.stuck,
		TotalCollected:      a.collected,
		Rounds:              a.Outcomes(),
	}
	if a.totalRounds > 0 {
		r.WinRate = float64(a.wins) / float64(a.totalRounds)
	}
	if len(a.winTimes) > 0 {
		sum := 0.0
		for _, v := range a.winTimes {
			sum += v
		}
		r.AvgTimeToGoal = sum / float64(len(a.winTimes))
	}
	return r
}

// Summary is a one-line human readable digest of the report.
func (r Report) Summary() string {
	return fmt.Sprintf("%d/%d wins (%.0f%%), %d timeouts, %d caught, %d stuck, avg time to goal %.2fs, %d collected",
		r.Wins, r.TotalRounds, r.WinRate*100, r.Timeouts, r.Caught, r.Stuck, r.AvgTimeToGoal, r.TotalCollected)
}
