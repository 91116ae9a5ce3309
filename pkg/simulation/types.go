package simulation

import (
	"time"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName  string                 `json:"scenario_name"`
	Duration      time.Duration          `json:"duration"`
	TotalActions  uint64                 `json:"total_actions"`
	TotalApplied  uint64                 `json:"total_applied"`
	TotalRejected uint64                 `json:"total_rejected"`
	TotalPending  uint64                 `json:"total_pending"`
	TotalErrors   uint64                 `json:"total_errors"`
	PairsChecked  uint64                 `json:"pairs_checked"`
	Mismatches    uint64                 `json:"mismatches"`
	AgentStats    map[string]*AgentStats `json:"agent_stats"`
	Invariants    []InvariantResult      `json:"invariants"`
	Success       bool                   `json:"success"`
}

// AgentStats counts outcomes. Rejected actions were refused by a lifecycle
// rule (already connected, no such request) and are expected under random
// load; Errors are transport failures or server faults.
type AgentStats struct {
	Actions  uint64 `json:"actions"`
	Applied  uint64 `json:"applied"`
	Rejected uint64 `json:"rejected"`
	Pending  uint64 `json:"pending"`
	Errors   uint64 `json:"errors"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "< 0.01"
	Actual   string `json:"actual"`   // e.g. "0.0000"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Duration    time.Duration `json:"duration"`
	Seed        int64         `json:"seed"` // Deterministic seed
	Users       Users         `json:"users"`
	Agents      []AgentConfig `json:"agents"`
	Invariants  []Invariant   `json:"invariants,omitempty"`
}

// Users is the population the agents act on: ids Base+1 .. Base+Count.
type Users struct {
	Base  int64 `json:"base"`
	Count int   `json:"count"`
}

type Invariant struct {
	Metric    string  `json:"metric"`    // applied_rate, rejection_rate, error_rate, pending_rate, mismatches
	Condition string  `json:"condition"` // e.g., ">", "<", ">=", "<=", "=="
	Value     float64 `json:"value"`
	Scope     string  `json:"scope"` // "global" or specific agent name
}

type AgentConfig struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Behavior BehaviorType  `json:"behavior"`
	Rate     int           `json:"rate"` // Actions per second
	Burst    int           `json:"burst"`
	Jitter   time.Duration `json:"jitter"`
	Mix      ActionMix     `json:"mix"`
}

// ActionMix weighs the lifecycle operations an agent picks from. A zero mix
// means DefaultMix.
type ActionMix struct {
	Request int `json:"request"`
	Accept  int `json:"accept"`
	Reject  int `json:"reject"`
	Remove  int `json:"remove"`
}

// DefaultMix favors growth so the graph fills up during short runs.
var DefaultMix = ActionMix{Request: 5, Accept: 3, Reject: 1, Remove: 1}

func (m ActionMix) total() int { return m.Request + m.Accept + m.Reject + m.Remove }

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorGreedy   BehaviorType = "greedy"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)
