package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rmax-ai/linkd/pkg/simulation"
)

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.json")
	body := `{"name":"file","duration":2000000000,"users":{"base":10,"count":4},"agents":[{"name":"a","count":1,"rate":2}]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := loadScenario(path)
	if err != nil {
		t.Fatalf("loadScenario failed: %v", err)
	}
	if s.Name != "file" || s.Duration != 2*time.Second || s.Users.Count != 4 {
		t.Errorf("unexpected scenario %+v", s)
	}

	if err := os.WriteFile(path, []byte(`{"name":"bad"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadScenario(path); err == nil || !strings.Contains(err.Error(), "duration must be positive") {
		t.Errorf("expected duration error, got %v", err)
	}

	s, err = loadScenario("")
	if err != nil || s.Name != "Default Demo" {
		t.Errorf("expected default scenario, got %+v, %v", s, err)
	}
}

func TestWriteReport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.txt")
	res := simulation.SimulationResult{
		ScenarioName: "demo",
		TotalActions: 3,
		AgentStats:   map[string]*simulation.AgentStats{"a": {Actions: 3}},
		Invariants:   []simulation.InvariantResult{{Metric: "mismatches", Expected: "== 0.00", Actual: "0.0000", Passed: true}},
	}
	if err := writeReport(res, false, out); err != nil {
		t.Fatalf("writeReport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Simulation Report: demo", "Actions: 3", "[PASS] mismatches"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("report missing %q:\n%s", want, data)
		}
	}
}
