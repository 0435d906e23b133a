package collab

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pliakos/crewd/internal/executor"
)

func TestPipelineRequiresTwoAgents(t *testing.T) {
	p := &Pipeline{rt: newTestRuntime(executor.NewSimulated())}
	_, err := p.Execute(context.Background(), Task{Description: "x"}, testAgents("solo"), nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPipelineChainsOutputs(t *testing.T) {
	sim := executor.NewSimulated()
	sim.SetDefault(func(_ context.Context, agentID string, in executor.Input) (string, error) {
		return in.Description + " -> " + agentID, nil
	})
	p := &Pipeline{rt: newTestRuntime(sim)}

	result, err := p.Execute(context.Background(), Task{Description: "start"},
		testAgents("s1", "s2", "s3"), Options{"handoff_format": "natural"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "start -> s1 -> s2 -> s3" {
		t.Errorf("unexpected final output %q", result.Output)
	}
}

func TestPipelineStructuredHandoffEnvelope(t *testing.T) {
	var secondInput string
	sim := executor.NewSimulated()
	sim.Handle("s1", scriptedOutput("stage one result"))
	sim.Handle("s2", func(_ context.Context, _ string, in executor.Input) (string, error) {
		secondInput = in.Description
		return "done", nil
	})
	p := &Pipeline{rt: newTestRuntime(sim)}

	if _, err := p.Execute(context.Background(), Task{Description: "start"},
		testAgents("s1", "s2"), nil); err != nil {
		t.Fatal(err)
	}

	var h handoff
	if err := json.Unmarshal([]byte(secondInput), &h); err != nil {
		t.Fatalf("expected structured envelope, got %q", secondInput)
	}
	// The content is the previous stage's output verbatim.
	if h.Stage != 2 || h.Content != "stage one result" {
		t.Errorf("unexpected envelope %+v", h)
	}
}

func TestPipelineBacktrackSkipsFailedStage(t *testing.T) {
	var thirdInput string
	sim := executor.NewSimulated()
	sim.Handle("s1", scriptedOutput("good output"))
	sim.Handle("s2", func(_ context.Context, _ string, _ executor.Input) (string, error) {
		return "", errors.New("stage blew up")
	})
	sim.Handle("s3", func(_ context.Context, _ string, in executor.Input) (string, error) {
		thirdInput = in.Description
		return "final", nil
	})
	p := &Pipeline{rt: newTestRuntime(sim)}

	result, err := p.Execute(context.Background(), Task{Description: "start"},
		testAgents("s1", "s2", "s3"),
		Options{"allow_backtrack": true, "handoff_format": "natural"})
	if err != nil {
		t.Fatal(err)
	}

	// Stage 3 continues from stage 1's output, not the failure payload.
	if thirdInput != "good output" {
		t.Errorf("expected stage 1 output, got %q", thirdInput)
	}
	if result.Output != "final" {
		t.Errorf("unexpected final output %q", result.Output)
	}
	if result.Metadata["failed_stages"] != 1 {
		t.Errorf("expected 1 failed stage, got %v", result.Metadata["failed_stages"])
	}
	stages := result.Metadata["stages"].([]pipelineStage)
	if stages[2].Input != "good output" {
		t.Errorf("recorded stage 3 input %q", stages[2].Input)
	}
}

func TestPipelineNoBacktrackPropagatesFailure(t *testing.T) {
	var thirdInput string
	sim := executor.NewSimulated()
	sim.Handle("s1", scriptedOutput("good output"))
	sim.Handle("s2", func(_ context.Context, _ string, _ executor.Input) (string, error) {
		return "", errors.New("stage blew up")
	})
	sim.Handle("s3", func(_ context.Context, _ string, in executor.Input) (string, error) {
		thirdInput = in.Description
		return "final", nil
	})
	p := &Pipeline{rt: newTestRuntime(sim)}

	if _, err := p.Execute(context.Background(), Task{Description: "start"},
		testAgents("s1", "s2", "s3"), Options{"handoff_format": "natural"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(thirdInput, "stage 2 failed") {
		t.Errorf("expected failure payload without backtrack, got %q", thirdInput)
	}
}

func TestPipelineFailedLastStage(t *testing.T) {
	sim := executor.NewSimulated()
	sim.Handle("s1", scriptedOutput("kept"))
	sim.Handle("s2", func(_ context.Context, _ string, _ executor.Input) (string, error) {
		return "", errors.New("last stage down")
	})
	p := &Pipeline{rt: newTestRuntime(sim)}

	result, err := p.Execute(context.Background(), Task{Description: "start"},
		testAgents("s1", "s2"),
		Options{"allow_backtrack": true, "handoff_format": "natural"})
	if err != nil {
		t.Fatal(err)
	}
	// With backtracking, the last good output survives as the final result.
	if result.Output != "kept" {
		t.Errorf("expected last good output, got %q", result.Output)
	}
}
