// Package replay re-runs a logged session headless and checks it reproduces the
// logged rounds.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math"

	persistlog "gridarena.ai/internal/persistence/log"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
)

// ErrManual is returned for sessions whose agent was driven by live input.
var ErrManual = errors.New("session used manual control and cannot be replayed")

const elapsedTolerance = 1e-9

type Mismatch struct {
	Round int    `json:"round"`
	Field string `json:"field"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("round %d %s: want=%s got=%s", m.Round, m.Field, m.Want, m.Got)
}

type Result struct {
	Checked    int            `json:"checked"`
	Mismatches []Mismatch     `json:"mismatches,omitempty"`
	Report     metrics.Report `json:"report"`
}

func (r Result) OK() bool { return len(r.Mismatches) == 0 }

type collector struct {
	round.NopSink
	rounds []round.RoundEnd
}

func (c *collector) RoundEnded(e round.RoundEnd) { c.rounds = append(c.rounds, e) }

// Verify re-runs l's session with its recorded genome, tuning and step, then
// compares every logged round. Rounds missing from an interrupted log are not checked.
func Verify(ctx context.Context, l persistlog.Log) (Result, error) {
	h := l.Header
	if h.Genome.Agent.UserControl {
		return Result{}, ErrManual
	}
	c := &collector{}
	sess := round.NewSession(h.Genome, h.Tuning, round.WithID(h.SessionID), round.WithSinks(c))
	rep, err := sess.RunHeadless(ctx, h.FixedStep)
	if err != nil {
		return Result{}, err
	}

	res := Result{Report: rep}
	for i, want := range l.Rounds {
		if i >= len(c.rounds) {
			res.Mismatches = append(res.Mismatches, Mismatch{Round: want.Round, Field: "round", Want: "present", Got: "missing"})
			continue
		}
		res.Checked++
		res.Mismatches = append(res.Mismatches, compare(want, c.rounds[i])...)
	}
	if l.Report != nil && len(l.Rounds) == len(c.rounds) {
		if l.Report.Wins != rep.Wins {
			res.Mismatches = append(res.Mismatches, Mismatch{Field: "report.wins", Want: fmt.Sprint(l.Report.Wins), Got: fmt.Sprint(rep.Wins)})
		}
		if math.Abs(l.Report.WinRate-rep.WinRate) > elapsedTolerance {
			res.Mismatches = append(res.Mismatches, Mismatch{Field: "report.win_rate", Want: fmt.Sprint(l.Report.WinRate), Got: fmt.Sprint(rep.WinRate)})
		}
	}
	return res, nil
}

func compare(want, got round.RoundEnd) []Mismatch {
	var out []Mismatch
	add := func(field string, w, g any) {
		out = append(out, Mismatch{Round: want.Round, Field: field, Want: fmt.Sprint(w), Got: fmt.Sprint(g)})
	}
	if want.Round != got.Round {
		add("round", want.Round, got.Round)
	}
	if want.Seed != got.Seed {
		add("seed", want.Seed, got.Seed)
	}
	if want.Digest != got.Digest {
		add("digest", want.Digest, got.Digest)
	}
	if want.Attempts != got.Attempts {
		add("attempts", want.Attempts, got.Attempts)
	}
	if want.Ticks != got.Ticks {
		add("ticks", want.Ticks, got.Ticks)
	}
	if want.Outcome.Cause != got.Outcome.Cause {
		add("cause", want.Outcome.Cause, got.Outcome.Cause)
	}
	if want.Outcome.Collected != got.Outcome.Collected {
		add("collected", want.Outcome.Collected, got.Outcome.Collected)
	}
	if math.Abs(want.Outcome.Elapsed-got.Outcome.Elapsed) > elapsedTolerance {
		add("elapsed", want.Outcome.Elapsed, got.Outcome.Elapsed)
	}
	return out
}
