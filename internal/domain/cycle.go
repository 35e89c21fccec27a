package domain

import (
	"time"

	"github.com/edgebot/agent/internal/money"
)

// AgentState is the lifecycle controller's current survival posture.
type AgentState string

const (
	StateAlive            AgentState = "ALIVE"
	StateLowFuel          AgentState = "LOW_FUEL"
	StateCriticalSurvival AgentState = "CRITICAL_SURVIVAL"
	StateDead             AgentState = "DEAD"
)

// StateScale is the Kelly-sizer multiplier attached to each lifecycle
// state (spec §4.7).
func (s AgentState) StateScale() float64 {
	switch s {
	case StateAlive:
		return 1.0
	case StateLowFuel:
		return 0.25
	default:
		return 0.0
	}
}

// CycleRecord is the persisted summary of one heartbeat iteration.
type CycleRecord struct {
	CycleNumber        int64
	MarketsScanned     int
	OpportunitiesFound int
	TradesPlaced       int
	APICost            money.Money
	ClosingBankroll    money.Money
	UnrealizedPnL      money.Money
	AgentState         AgentState
	DurationMS         int64
	Timestamp          time.Time
}

// APICostRecord is one oracle (or other metered provider) HTTP call's
// accounted cost.
type APICostRecord struct {
	ID           int64
	Provider     string
	Endpoint     string
	InputTokens  int64
	OutputTokens int64
	Cost         money.Money
	Cycle        int64
	Timestamp    time.Time
}
