// Package survival implements the self-funding accountant: the lifecycle
// state transition function and the death gate.
package survival

import (
	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

// Thresholds holds the state transition thresholds (spec §4.10 table).
type Thresholds struct {
	DeathBalance money.Money // default 0
	LowFuel      money.Money // default 10
}

// DefaultThresholds mirrors the spec's defaults.
var DefaultThresholds = Thresholds{
	DeathBalance: money.Zero(),
	LowFuel:      money.FromInt(10),
}

// NextState computes the lifecycle state as a single-valued function of
// bankroll, unrealized P&L, and the projected cost of the next cycle —
// the first matching row of the spec's transition table wins.
func NextState(bankroll, unrealizedPnL, nextCycleCost money.Money, t Thresholds) domain.AgentState {
	survivalValue := bankroll.Add(unrealizedPnL)

	switch {
	case survivalValue.LessThanOrEqual(t.DeathBalance):
		return domain.StateDead
	case bankroll.LessThan(nextCycleCost):
		return domain.StateCriticalSurvival
	case bankroll.LessThan(t.LowFuel):
		return domain.StateLowFuel
	default:
		return domain.StateAlive
	}
}

// rank orders states from most to least alive, so Monotone can detect a
// forbidden re-entry into Alive (P7).
var rank = map[domain.AgentState]int{
	domain.StateAlive:            3,
	domain.StateLowFuel:          2,
	domain.StateCriticalSurvival: 1,
	domain.StateDead:             0,
}

// Monotone enforces P7: once in CriticalSurvival or Dead, the agent never
// re-enters Alive without an explicit balance increase from a resolution.
// balanceIncreased should be true only when the new computation reflects a
// resolution credit since the previous state was recorded.
func Monotone(previous, next domain.AgentState, balanceIncreased bool) domain.AgentState {
	if rank[next] > rank[previous] && !balanceIncreased {
		return previous
	}
	return next
}
