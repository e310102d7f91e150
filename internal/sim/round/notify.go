package round

import (
	"fmt"

	"gridarena.ai/internal/sim/entity"
	"gridarena.ai/internal/sim/metrics"
)

// NoticeKind is a domain notification raised during a tick.
type NoticeKind int

const (
	NoticeWin NoticeKind = iota + 1
	NoticeCollect
	NoticeCaught
	NoticeTrapTriggered
	NoticePowerUpApplied
	NoticeStuck
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeWin:
		return "win"
	case NoticeCollect:
		return "collect"
	case NoticeCaught:
		return "caught"
	case NoticeTrapTriggered:
		return "trap_triggered"
	case NoticePowerUpApplied:
		return "power_up_applied"
	case NoticeStuck:
		return "stuck"
	default:
		return fmt.Sprintf("notice(%d)", int(k))
	}
}

// terminal maps round-ending notices to their outcome cause.
func (k NoticeKind) terminal() (metrics.Cause, bool) {
	switch k {
	case NoticeWin:
		return metrics.CauseWin, true
	case NoticeCaught:
		return metrics.CauseCaught, true
	case NoticeStuck:
		return metrics.CauseStuck, true
	default:
		return 0, false
	}
}

type Notice struct {
	Kind   NoticeKind
	Entity entity.ID // the non-agent party, zero when none
}

// Translate maps an overlapping kind pair to a notification. Pairs that do not
// involve the agent, or that the rules ignore, report false.
func Translate(a, b entity.Kind) (NoticeKind, bool) {
	if b == entity.KindAgent {
		a, b = b, a
	}
	if a != entity.KindAgent {
		return 0, false
	}
	switch b {
	case entity.KindGoal:
		return NoticeWin, true
	case entity.KindCollectible:
		return NoticeCollect, true
	case entity.KindAdversary:
		return NoticeCaught, true
	case entity.KindTrap:
		return NoticeTrapTriggered, true
	case entity.KindPowerUp:
		return NoticePowerUpApplied, true
	default:
		return 0, false
	}
}
