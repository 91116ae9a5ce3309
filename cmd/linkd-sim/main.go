package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rmax-ai/linkd/pkg/client"
	"github.com/rmax-ai/linkd/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		jsonOutput   bool
		outputFile   string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario JSON file")
	flag.StringVar(&apiURL, "api", client.DefaultEndpoint, "Base URL of the linkd API")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	scenario, err := loadScenario(scenarioFile)
	if err != nil {
		slog.Error("invalid_scenario", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := simulation.RunScenario(ctx, scenario, apiURL)
	if err != nil {
		slog.Error("simulation_failed", "error", err)
		os.Exit(1)
	}

	if err := writeReport(result, jsonOutput, outputFile); err != nil {
		slog.Error("failed_to_write_report", "error", err)
		os.Exit(1)
	}

	if !result.Success {
		os.Exit(1)
	}
}

func loadScenario(path string) (simulation.Scenario, error) {
	if path == "" {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
		return defaultScenario(), nil
	}

	var scenario simulation.Scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return scenario, fmt.Errorf("read scenario file: %w", err)
	}
	if err := json.Unmarshal(data, &scenario); err != nil {
		return scenario, fmt.Errorf("parse scenario file: %w", err)
	}
	if scenario.Duration <= 0 {
		return scenario, fmt.Errorf("scenario duration must be positive")
	}
	return scenario, nil
}

func defaultScenario() simulation.Scenario {
	return simulation.Scenario{
		Name:        "Default Demo",
		Description: "Periodic lifecycle traffic over a small population",
		Duration:    10 * time.Second,
		Users:       simulation.Users{Base: 1_000_000, Count: 20},
		Agents: []simulation.AgentConfig{
			{
				Name:     "agent-default",
				Count:    5,
				Behavior: simulation.BehaviorPeriodic,
				Rate:     5,
			},
		},
		Invariants: []simulation.Invariant{
			{Metric: "error_rate", Condition: "<", Value: 0.01, Scope: "global"},
		},
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string) error {
	var output []byte

	if jsonFmt {
		var err error
		if output, err = json.MarshalIndent(res, "", "  "); err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
	} else {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "\n--- Simulation Report: %s ---\n", res.ScenarioName)
		fmt.Fprintf(&buf, "Duration: %s\n", res.Duration)
		fmt.Fprintf(&buf, "Actions: %d | Applied: %d | Rejected: %d | Pending: %d | Errors: %d\n",
			res.TotalActions, res.TotalApplied, res.TotalRejected, res.TotalPending, res.TotalErrors)
		fmt.Fprintf(&buf, "Pairs checked: %d | Mismatches: %d\n", res.PairsChecked, res.Mismatches)

		names := make([]string, 0, len(res.AgentStats))
		for name := range res.AgentStats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := res.AgentStats[name]
			fmt.Fprintf(&buf, "  %s: %d actions, %d applied, %d rejected, %d errors\n", name, st.Actions, st.Applied, st.Rejected, st.Errors)
		}

		if len(res.Invariants) > 0 {
			buf.WriteString("\nInvariants:\n")
			for _, inv := range res.Invariants {
				status := "FAIL"
				if inv.Passed {
					status = "PASS"
				}
				fmt.Fprintf(&buf, "[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual)
			}
		}
		output = buf.Bytes()
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			return fmt.Errorf("write report to %s: %w", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
		return nil
	}
	fmt.Println(string(output))
	return nil
}
