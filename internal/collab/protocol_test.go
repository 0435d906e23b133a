package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/executor"
)

func newTestRuntime(sim *executor.Simulated) *Runtime {
	return &Runtime{Exec: sim, Consensus: consensus.New()}
}

func testAgents(ids ...string) []Agent {
	agents := make([]Agent, len(ids))
	for i, id := range ids {
		agents[i] = Agent{ID: id, Type: "worker", Name: id}
	}
	return agents
}

func TestOptionsGetters(t *testing.T) {
	opts := Options{
		"rounds":    float64(5), // JSON numbers decode as float64
		"exact":     2,
		"ratio":     0.75,
		"enabled":   true,
		"strategy":  "vote",
		"empty_str": "",
	}

	if got := opts.Int("rounds", 3); got != 5 {
		t.Errorf("Int from float64: %d", got)
	}
	if got := opts.Int("exact", 3); got != 2 {
		t.Errorf("Int from int: %d", got)
	}
	if got := opts.Int("missing", 3); got != 3 {
		t.Errorf("Int default: %d", got)
	}
	if got := opts.Float("ratio", 0.5); got != 0.75 {
		t.Errorf("Float: %f", got)
	}
	if got := opts.Float("exact", 0.5); got != 2.0 {
		t.Errorf("Float from int: %f", got)
	}
	if got := opts.Bool("enabled", false); !got {
		t.Error("Bool")
	}
	if got := opts.Bool("missing", true); !got {
		t.Error("Bool default")
	}
	if got := opts.String("strategy", "x"); got != "vote" {
		t.Errorf("String: %s", got)
	}
	if got := opts.String("empty_str", "fallback"); got != "fallback" {
		t.Errorf("empty string must fall back: %s", got)
	}
}

func TestValidateAgents(t *testing.T) {
	agents := testAgents("a", "b", "c")

	if err := validateAgents(agents, 2, 0); err != nil {
		t.Errorf("3 agents with min 2: %v", err)
	}
	if err := validateAgents(agents, 4, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for min 4, got %v", err)
	}
	if err := validateAgents(agents, 1, 2); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for max 2, got %v", err)
	}
}

func TestRegistryCatalog(t *testing.T) {
	r := NewRegistry(newTestRuntime(executor.NewSimulated()))

	infos := r.List()
	want := []string{"debate", "ensemble", "pipeline", "swarm", "critique"}
	if len(infos) != len(want) {
		t.Fatalf("expected %d protocols, got %d", len(want), len(infos))
	}
	for i, name := range want {
		if infos[i].Name != name {
			t.Errorf("catalog[%d]: expected %s, got %s", i, name, infos[i].Name)
		}
		if infos[i].Description == "" {
			t.Errorf("%s has no description", name)
		}
	}

	if _, ok := r.Get("pipeline"); !ok {
		t.Error("expected pipeline in catalog")
	}
	if _, ok := r.Get("quorum"); ok {
		t.Error("unexpected protocol in catalog")
	}
}

func TestRegistryRun(t *testing.T) {
	r := NewRegistry(newTestRuntime(executor.NewSimulated()))

	result, err := r.Run(context.Background(), "ensemble",
		Task{Description: "pick a color"}, testAgents("a", "b"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.ID == "" {
		t.Error("expected run id assigned")
	}
	if result.Protocol != "ensemble" {
		t.Errorf("unexpected protocol %s", result.Protocol)
	}

	if _, err := r.Run(context.Background(), "quorum", Task{Description: "x"}, testAgents("a"), nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown protocol, got %v", err)
	}
}
