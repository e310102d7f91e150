// Package round owns the session lifecycle: round setup, the per-tick update pass,
// outcome classification and metrics hand-off.
package round

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/logic/mathx"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/tuning"
)

var ErrSessionEnded = errors.New("session ended")

type Option func(*Session)

func WithLogger(l *log.Logger) Option { return func(s *Session) { s.log = l } }

// WithLayout replaces arena generation and spawning.
func WithLayout(fn LayoutFunc) Option { return func(s *Session) { s.layoutFn = fn } }

func WithSinks(sinks ...Sink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sinks...) }
}

// WithID overrides the generated session id.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// WithInput sets the direction source for manually controlled agents.
func WithInput(in control.InputSource) Option { return func(s *Session) { s.input = in } }

type effect struct {
	kind       entity.PowerUpKind
	multiplier float64
	expiresAt  float64
}

// Session is the explicit context for one run of rounds. All methods must be called
// from one goroutine; sinks are how other goroutines observe it.
type Session struct {
	id     string
	genome genome.Genome
	tune   tuning.Tuning
	log    *log.Logger
	sinks  []Sink
	input  control.InputSource

	layoutFn LayoutFunc
	agg      *metrics.Aggregator

	state      State
	round      int
	tick       uint64
	roundTicks int

	layout    Layout
	digest    string
	grid      *arena.Grid
	index     *entity.Index
	agent     *control.Agent
	adversary *control.Adversary
	agentEnt  *entity.Entity
	advEnt    *entity.Entity
	// stranded rounds have no open cell for the agent and can only time out.
	stranded bool

	remaining float64
	pending   float64
	clock     float64
	collected int
	effects   []effect
	overlaps  [][2]entity.ID
	notices   []Notice
	outcome   metrics.Outcome

	report    metrics.Report
	hasReport bool
}

func NewSession(g genome.Genome, tu tuning.Tuning, opts ...Option) *Session {
	g.Normalize()
	tu.Normalize()
	s := &Session{
		genome: g,
		tune:   tu,
		agg:    metrics.NewAggregator(g.Rules.Rounds),
		index:  entity.NewIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	if s.layoutFn == nil {
		s.layoutFn = func(_ int, seed int64) Layout { return BuildLayout(s.genome, s.tune, seed) }
	}
	s.agent = control.NewAgent(control.AgentConfig{
		Mode:          g.Mode,
		Speed:         g.Agent.Speed,
		Acceleration:  g.Agent.Acceleration,
		StopDistance:  g.Agent.StopDistance,
		Manual:        g.Agent.UserControl,
		Input:         s.input,
		ArriveEpsilon: tu.ArriveEpsilon,
		StuckEpsilon:  tu.StuckEpsilon,
		StuckSeconds:  tu.StuckSeconds,
	})
	if g.HasAdversary() {
		s.adversary = control.NewAdversary(control.AdversaryConfig{
			Speed:         g.Rules.EnemySpeed,
			ArriveEpsilon: tu.ArriveEpsilon,
		})
	}
	return s
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Genome() genome.Genome    { return s.genome }
func (s *Session) Tuning() tuning.Tuning    { return s.tune }
func (s *Session) State() State             { return s.state }
func (s *Session) Round() int               { return s.round }
func (s *Session) Remaining() float64       { return s.remaining }
func (s *Session) Collected() int           { return s.collected }
func (s *Session) Grid() *arena.Grid        { return s.grid }
func (s *Session) Layout() Layout           { return s.layout }
func (s *Session) Agent() *control.Agent    { return s.agent }
func (s *Session) Outcome() metrics.Outcome { return s.outcome }
func (s *Session) Outcomes() []metrics.Outcome {
	return s.agg.Outcomes()
}

// Report returns the final report once the session has ended.
func (s *Session) Report() (metrics.Report, bool) { return s.report, s.hasReport }

// RoundSeed is the arena seed for round r (1-based).
func (s *Session) RoundSeed(r int) int64 {
	if s.tune.SameArenaEachRound {
		return s.genome.Seed
	}
	return mathx.RoundSeed(s.genome.Seed, r)
}

// Start sets up the first round. Calling it again is a no-op.
func (s *Session) Start() {
	if s.state == StateSetup && s.round == 0 {
		s.round = 1
		s.setup()
	}
}

// ReportOverlap queues an overlap reported by an external collision layer. It is
// translated during the next tick; unknown ids and ignored pairs report false.
func (s *Session) ReportOverlap(a, b entity.ID) bool {
	if s.state != StateActive {
		return false
	}
	ea, eb := s.index.Get(a), s.index.Get(b)
	if ea == nil || eb == nil {
		return false
	}
	if _, ok := Translate(ea.Kind, eb.Kind); !ok {
		return false
	}
	s.overlaps = append(s.overlaps, [2]entity.ID{a, b})
	return true
}

// Tick advances the session by dt seconds of simulation time. A Resolved round stays
// visible for exactly one tick; the following tick tears it down and sets up the
// next round or ends the session.
func (s *Session) Tick(dt float64) error {
	if dt < 0 {
		dt = 0
	}
	switch s.state {
	case StateSessionEnd:
		return ErrSessionEnded
	case StateSetup:
		s.Start()
		return nil
	case StateResolved:
		s.teardown()
		if s.round < s.genome.Rules.Rounds {
			s.round++
			s.setup()
		} else {
			s.finish()
		}
		return nil
	}

	s.tick++
	s.roundTicks++
	s.clock += dt

	s.remaining += s.pending
	s.pending = 0
	s.remaining -= dt
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.expireEffects()

	var cause metrics.Cause
	done := false
	if s.stranded {
		s.overlaps = s.overlaps[:0]
	} else {
		switch s.agent.Tick(s.grid, s.index, dt) {
		case control.SignalWin:
			s.raise(Notice{Kind: NoticeWin})
		case control.SignalStuck:
			s.raise(Notice{Kind: NoticeStuck})
		}
		s.agentEnt.Cell = s.agent.Cell

		if s.adversary != nil {
			if s.adversary.Tick(s.grid, s.agent.Cell, dt) == control.SignalCaught {
				s.raise(Notice{Kind: NoticeCaught, Entity: s.advEnt.ID})
			}
			s.advEnt.Cell = s.adversary.Cell
		}

		s.collectOverlaps()
		cause, done = s.resolveNotices()
	}
	if !done && s.remaining <= 0 {
		cause, done = metrics.CauseTimeout, true
	}
	if done {
		s.resolve(cause)
	}
	if s.state == StateResolved || s.roundTicks%s.tune.FrameEveryTicks == 0 {
		s.emitFrame()
	}
	return nil
}

func (s *Session) raise(n Notice) { s.notices = append(s.notices, n) }

// collectOverlaps turns queued external overlaps and same-cell contacts into
// notices, external reports first.
func (s *Session) collectOverlaps() {
	for _, pair := range s.overlaps {
		a, b := s.index.Get(pair[0]), s.index.Get(pair[1])
		if a == nil || b == nil {
			continue
		}
		k, ok := Translate(a.Kind, b.Kind)
		if !ok {
			continue
		}
		other := b
		if b.Kind == entity.KindAgent {
			other = a
		}
		s.raise(Notice{Kind: k, Entity: other.ID})
	}
	s.overlaps = s.overlaps[:0]

	for _, e := range s.index.At(s.agent.Cell) {
		if k, ok := Translate(entity.KindAgent, e.Kind); ok {
			s.raise(Notice{Kind: k, Entity: e.ID})
		}
	}
	if s.adversary != nil && s.adversary.Cell == s.agent.Cell {
		s.raise(Notice{Kind: NoticeCaught, Entity: s.advEnt.ID})
	}
}

// resolveNotices applies this tick's notices in raise order. The first terminal
// notice decides the cause; later side effects still apply.
func (s *Session) resolveNotices() (metrics.Cause, bool) {
	var cause metrics.Cause
	done := false
	for _, n := range s.notices {
		switch n.Kind {
		case NoticeCollect:
			e := s.index.Get(n.Entity)
			if e == nil || e.Removed || e.Kind != entity.KindCollectible {
				continue
			}
			s.index.Remove(e)
			s.collected++
			if s.collected >= s.genome.Rules.TargetCount && !done {
				cause, done = metrics.CauseWin, true
			}
		case NoticeTrapTriggered:
			e := s.index.Get(n.Entity)
			if e == nil || e.Triggered {
				continue
			}
			e.Triggered = true
			s.pending -= e.Penalty
			s.log.Printf("session=%s round=%d trap at %v: -%.1fs", s.id, s.round, e.Cell, e.Penalty)
		case NoticePowerUpApplied:
			e := s.index.Get(n.Entity)
			if e == nil || e.Removed {
				continue
			}
			s.index.Remove(e)
			s.applyPowerUp(e.PowerUp)
		default:
			if c, ok := n.Kind.terminal(); ok && !done {
				cause, done = c, true
			}
		}
	}
	s.notices = s.notices[:0]
	return cause, done
}

func (s *Session) applyPowerUp(kind entity.PowerUpKind) {
	switch kind {
	case entity.PowerUpTime:
		s.pending += s.tune.TimeBoostSeconds
	case entity.PowerUpSpeed:
		exp := s.clock + s.tune.SpeedBoostSeconds
		for i := range s.effects {
			if s.effects[i].kind == entity.PowerUpSpeed {
				s.effects[i].expiresAt = exp
				return
			}
		}
		s.effects = append(s.effects, effect{kind: kind, multiplier: s.tune.SpeedBoostMultiplier, expiresAt: exp})
		s.agent.SetSpeedMultiplier(s.tune.SpeedBoostMultiplier)
	}
}

func (s *Session) expireEffects() {
	kept := s.effects[:0]
	for _, e := range s.effects {
		if s.clock >= e.expiresAt {
			if e.kind == entity.PowerUpSpeed {
				s.agent.SetSpeedMultiplier(1)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.effects = kept
}

func (s *Session) setup() {
	seed := s.RoundSeed(s.round)
	l := s.layoutFn(s.round, seed)
	if l.Grid == nil {
		l = BuildLayout(s.genome, s.tune, seed)
	}
	if l.Attempts == 0 {
		l.Attempts = 1
	}
	s.layout = l
	s.grid = l.Grid
	s.digest = LayoutDigest(l)
	if !l.Solvable {
		s.log.Printf("WARN session=%s round=%d: arena may be unsolvable after %d attempts (seed=%d)", s.id, s.round, l.Attempts, l.Seed)
	}
	if l.Plan.Overlaps > 0 {
		s.log.Printf("WARN session=%s round=%d: %d spawns share a cell", s.id, s.round, l.Plan.Overlaps)
	}

	s.index.Reset()
	p := l.Plan
	s.agentEnt = s.index.Add(entity.Entity{Kind: entity.KindAgent, Cell: p.Agent})
	s.agent.Spawn(s.grid, p.Agent)
	s.advEnt = nil
	if s.adversary != nil {
		c := p.Adversary
		if !p.HasAdversary {
			c = p.Agent
		}
		s.advEnt = s.index.Add(entity.Entity{Kind: entity.KindAdversary, Cell: c})
		s.adversary.Spawn(s.grid, c)
	}
	for _, pu := range p.PowerUps {
		s.index.Add(entity.Entity{Kind: entity.KindPowerUp, Cell: pu.Cell, PowerUp: pu.Kind})
	}
	if p.HasGoal {
		s.index.Add(entity.Entity{Kind: entity.KindGoal, Cell: p.Goal})
	}
	for _, c := range p.Collectibles {
		s.index.Add(entity.Entity{Kind: entity.KindCollectible, Cell: c})
	}
	for _, c := range p.Traps {
		s.index.Add(entity.Entity{Kind: entity.KindTrap, Cell: c, Penalty: s.genome.Rules.TrapPenalty})
	}

	s.remaining = s.genome.Rules.TimeLimit
	s.pending = 0
	s.clock = 0
	s.collected = 0
	s.roundTicks = 0
	s.effects = nil
	s.overlaps = nil
	s.notices = nil
	s.outcome = metrics.Outcome{}

	s.stranded = p.NoOpenCell || s.grid.IsBlocked(p.Agent)
	if s.stranded {
		s.log.Printf("WARN session=%s round=%d: no open cell for the agent, round can only time out", s.id, s.round)
	} else {
		s.agent.Start()
	}
	s.state = StateActive

	ev := RoundStart{
		SessionID: s.id,
		Round:     s.round,
		Rounds:    s.genome.Rules.Rounds,
		Mode:      s.genome.Mode.String(),
		Seed:      l.Seed,
		Attempts:  l.Attempts,
		Solvable:  l.Solvable,
		Digest:    s.digest,
		TimeLimit: s.genome.Rules.TimeLimit,
		Arena:     s.arenaView(),
		Plan:      p,
		Entities:  s.entitySnapshot(false),
	}
	for _, sink := range s.sinks {
		sink.RoundStarted(ev)
	}
}

func (s *Session) resolve(cause metrics.Cause) {
	elapsed := mathx.Clamp(s.genome.Rules.TimeLimit-s.remaining, 0, s.genome.Rules.TimeLimit)
	s.outcome = metrics.Outcome{Round: s.round, Cause: cause, Elapsed: elapsed, Collected: s.collected}
	s.agg.Record(s.outcome)
	s.state = StateResolved

	s.agent.Finish()
	if s.adversary != nil {
		s.adversary.Cancel()
	}
	if len(s.effects) > 0 {
		s.effects = nil
		s.agent.SetSpeedMultiplier(1)
	}
	s.log.Printf("session=%s round=%d/%d resolved cause=%s elapsed=%.2fs collected=%d", s.id, s.round, s.genome.Rules.Rounds, cause, elapsed, s.collected)

	ev := RoundEnd{
		SessionID: s.id,
		Round:     s.round,
		Seed:      s.layout.Seed,
		Attempts:  s.layout.Attempts,
		Solvable:  s.layout.Solvable,
		Digest:    s.digest,
		Ticks:     s.roundTicks,
		Outcome:   s.outcome,
		Plan:      s.layout.Plan,
	}
	for _, sink := range s.sinks {
		sink.RoundEnded(ev)
	}
}

func (s *Session) teardown() {
	s.index.Reset()
	s.agentEnt, s.advEnt = nil, nil
	s.stranded = false
	s.notices = nil
	s.overlaps = nil
}

func (s *Session) finish() {
	s.state = StateSessionEnd
	r := s.agg.Report()
	r.SessionID = s.id
	r.Mode = s.genome.Mode.String()
	r.Seed = s.genome.Seed
	s.report, s.hasReport = r, true
	s.log.Printf("session=%s ended: wins=%d/%d win_rate=%.2f avg_time_to_goal=%.2fs", s.id, r.Wins, r.TotalRounds, r.WinRate, r.AvgTimeToGoal)
	for _, sink := range s.sinks {
		sink.SessionEnded(r)
	}
}

// RunHeadless ticks with a fixed step as fast as possible until the session ends
// or ctx is cancelled.
func (s *Session) RunHeadless(ctx context.Context, dt float64) (metrics.Report, error) {
	if dt <= 0 {
		dt = s.tune.FixedStep
	}
	s.Start()
	for n := 0; ; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return metrics.Report{}, err
			}
		}
		if err := s.Tick(dt); err != nil || s.state == StateSessionEnd {
			return s.report, nil
		}
	}
}

// Run ticks at the tuning tick rate in wall-clock time with the fixed step.
func (s *Session) Run(ctx context.Context) (metrics.Report, error) {
	interval := time.Second / time.Duration(s.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Start()
	for {
		select {
		case <-ctx.Done():
			return metrics.Report{}, ctx.Err()
		case <-ticker.C:
			if err := s.Tick(s.tune.FixedStep); err != nil || s.state == StateSessionEnd {
				return s.report, nil
			}
		}
	}
}
