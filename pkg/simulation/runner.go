package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmax-ai/linkd/pkg/client"
	"github.com/rmax-ai/linkd/pkg/errs"
)

// Action is one lifecycle operation an agent can attempt.
type Action string

const (
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionRemove  Action = "remove"
)

// ReadyTimeout bounds the wait for the person projection to see every user.
const ReadyTimeout = 10 * time.Second

// RunScenario seeds the users, drives the agents for s.Duration and then
// checks that every pair reads the same from both sides.
func RunScenario(ctx context.Context, s Scenario, apiURL string) (SimulationResult, error) {
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if s.Users.Count < 2 {
		return SimulationResult{}, fmt.Errorf("scenario needs at least 2 users, got %d", s.Users.Count)
	}

	slog.Info("simulation_started", "scenario", s.Name, "seed", s.Seed, "users", s.Users.Count)

	api := client.NewClient(apiURL)
	if err := seedUsers(ctx, api, s.Users); err != nil {
		return SimulationResult{}, err
	}

	res := SimulationResult{
		ScenarioName: s.Name,
		Duration:     s.Duration,
		AgentStats:   make(map[string]*AgentStats),
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for agentIdx, agentCfg := range s.Agents {
		stats := &AgentStats{}
		res.AgentStats[agentCfg.Name] = stats // Group stats by Agent Config Name

		for i := 0; i < agentCfg.Count; i++ {
			wg.Add(1)
			agentSeed := s.Seed + int64(agentIdx*1000) + int64(i)
			go func(cfg AgentConfig, seed int64) {
				defer wg.Done()
				runAgent(runCtx, api, s.Users, cfg, seed, &res, stats)
			}(agentCfg, agentSeed)
		}
	}
	wg.Wait()

	if err := checkConsistency(ctx, api, s.Users, &res); err != nil {
		return res, err
	}

	evaluateInvariants(&res, s.Invariants)

	res.Success = res.Mismatches == 0
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	slog.Info("simulation_finished", "scenario", s.Name, "actions", res.TotalActions, "mismatches", res.Mismatches, "success", res.Success)
	return res, nil
}

// seedUsers reports every user and waits until the graph knows all of them.
func seedUsers(ctx context.Context, api *client.Client, u Users) error {
	for i := 1; i <= u.Count; i++ {
		id := u.Base + int64(i)
		if _, err := api.ReportUserCreated(ctx, client.UserCreated{UserID: id, Name: fmt.Sprintf("sim-user-%d", id)}); err != nil {
			return fmt.Errorf("seed user %d: %w", id, err)
		}
	}

	deadline := time.Now().Add(ReadyTimeout)
	for {
		ready, err := projected(ctx, api, u)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("users not projected after %s", ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// projected reports whether the first two users each see every other seeded
// user, whatever their relation.
func projected(ctx context.Context, api *client.Client, u Users) (bool, error) {
	for _, id := range []int64{u.Base + 1, u.Base + 2} {
		seen := map[int64]bool{id: true}
		lists := []func() ([]client.Person, error){
			func() ([]client.Person, error) { return api.Suggestions(ctx, id, 0) },
			func() ([]client.Person, error) { return api.FirstDegreeConnections(ctx, id) },
			func() ([]client.Person, error) { return api.PendingReceived(ctx, id) },
			func() ([]client.Person, error) { return api.PendingSent(ctx, id) },
		}
		for _, list := range lists {
			persons, err := list()
			if err != nil {
				return false, err
			}
			for _, p := range persons {
				seen[p.UserID] = true
			}
		}
		for i := 1; i <= u.Count; i++ {
			if !seen[u.Base+int64(i)] {
				return false, nil
			}
		}
	}
	return true, nil
}

func pickAction(rng *rand.Rand, mix ActionMix) Action {
	if mix.total() <= 0 {
		mix = DefaultMix
	}
	n := rng.Intn(mix.total())
	switch {
	case n < mix.Request:
		return ActionRequest
	case n < mix.Request+mix.Accept:
		return ActionAccept
	case n < mix.Request+mix.Accept+mix.Reject:
		return ActionReject
	default:
		return ActionRemove
	}
}

func pickPair(rng *rand.Rand, u Users) (actor, other int64) {
	a := rng.Intn(u.Count)
	b := rng.Intn(u.Count - 1)
	if b >= a {
		b++
	}
	return u.Base + int64(a) + 1, u.Base + int64(b) + 1
}

func perform(ctx context.Context, api *client.Client, action Action, actor, other int64) (client.Result, error) {
	switch action {
	case ActionAccept:
		return api.AcceptRequest(ctx, actor, other)
	case ActionReject:
		return api.RejectRequest(ctx, actor, other)
	case ActionRemove:
		return api.RemoveConnection(ctx, actor, other)
	default:
		return api.SendRequest(ctx, actor, other)
	}
}

func runAgent(ctx context.Context, api *client.Client, u Users, cfg AgentConfig, seed int64, global *SimulationResult, stats *AgentStats) {
	rng := rand.New(rand.NewSource(seed))

	track := func(res client.Result, err error) {
		if err != nil && ctx.Err() != nil {
			return // cut off by the end of the run
		}
		atomic.AddUint64(&global.TotalActions, 1)
		atomic.AddUint64(&stats.Actions, 1)
		switch {
		case err == nil:
			atomic.AddUint64(&global.TotalApplied, 1)
			atomic.AddUint64(&stats.Applied, 1)
			if res.EventsPending {
				atomic.AddUint64(&global.TotalPending, 1)
				atomic.AddUint64(&stats.Pending, 1)
			}
		case errs.Is(err, errs.KindBadRequest), errs.Is(err, errs.KindNotFound):
			atomic.AddUint64(&global.TotalRejected, 1)
			atomic.AddUint64(&stats.Rejected, 1)
		default:
			slog.Debug("simulation_action_failed", "agent", cfg.Name, "error", err)
			atomic.AddUint64(&global.TotalErrors, 1)
			atomic.AddUint64(&stats.Errors, 1)
		}
	}

	action := func() {
		actor, other := pickPair(rng, u)
		track(perform(ctx, api, pickAction(rng, cfg.Mix), actor, other))
	}

	switch cfg.Behavior {
	case BehaviorGreedy:
		for {
			select {
			case <-ctx.Done():
				return
			default:
				action()
			}
		}
	case BehaviorPoisson:
		lambda := float64(max(cfg.Rate, 1))
		for {
			interval := -math.Log(1-rng.Float64()) / lambda
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(interval * float64(time.Second))):
				action()
			}
		}
	case BehaviorBursty:
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for k := 0; k < cfg.Burst; k++ {
					action()
				}
			}
		}
	case BehaviorPeriodic:
		fallthrough
	default:
		interval := time.Second / time.Duration(max(cfg.Rate, 1))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.Jitter > 0 {
					time.Sleep(time.Duration(rng.Int63n(int64(cfg.Jitter))))
				}
				action()
			}
		}
	}
}

// checkConsistency compares every pair from both sides and against the
// first-degree listings.
func checkConsistency(ctx context.Context, api *client.Client, u Users, res *SimulationResult) error {
	connected := make(map[int64]map[int64]bool, u.Count)
	for i := 1; i <= u.Count; i++ {
		id := u.Base + int64(i)
		persons, err := api.FirstDegreeConnections(ctx, id)
		if err != nil {
			return fmt.Errorf("list connections of %d: %w", id, err)
		}
		connected[id] = make(map[int64]bool, len(persons))
		for _, p := range persons {
			connected[id][p.UserID] = true
		}
	}

	for i := 1; i <= u.Count; i++ {
		for j := i + 1; j <= u.Count; j++ {
			a, b := u.Base+int64(i), u.Base+int64(j)
			ab, err := api.Relation(ctx, a, b)
			if err != nil {
				return fmt.Errorf("relation %d-%d: %w", a, b, err)
			}
			ba, err := api.Relation(ctx, b, a)
			if err != nil {
				return fmt.Errorf("relation %d-%d: %w", b, a, err)
			}
			res.PairsChecked++

			isConnected := ab.State == "CONNECTED"
			if ab != ba || connected[a][b] != isConnected || connected[b][a] != isConnected {
				res.Mismatches++
				slog.Warn("simulation_mismatch", "user_a", a, "user_b", b, "a_sees", ab.State, "b_sees", ba.State)
			}
		}
	}
	return nil
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var stats AgentStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = AgentStats{
				Actions:  res.TotalActions,
				Applied:  res.TotalApplied,
				Rejected: res.TotalRejected,
				Pending:  res.TotalPending,
				Errors:   res.TotalErrors,
			}
		} else if s, ok := res.AgentStats[inv.Scope]; ok {
			stats = *s
		} else {
			res.Invariants = append(res.Invariants, InvariantResult{
				Metric: inv.Metric, Scope: inv.Scope, Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value), Actual: "N/A", Passed: false,
			})
			continue
		}

		var actual float64
		rate := func(n uint64) float64 {
			if stats.Actions == 0 {
				return 0
			}
			return float64(n) / float64(stats.Actions)
		}
		switch inv.Metric {
		case "applied_rate":
			actual = rate(stats.Applied)
		case "rejection_rate":
			actual = rate(stats.Rejected)
		case "pending_rate":
			actual = rate(stats.Pending)
		case "error_rate":
			actual = rate(stats.Errors)
		case "mismatches":
			actual = float64(res.Mismatches)
		}

		var passed bool
		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
