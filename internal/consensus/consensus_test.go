package consensus

import (
	"errors"
	"math"
	"testing"
)

func TestReachEmpty(t *testing.T) {
	e := New()
	if _, err := e.Reach(nil, Majority, 0.5); !errors.Is(err, ErrNoOpinions) {
		t.Fatalf("expected ErrNoOpinions, got %v", err)
	}
}

func TestReachUnknownStrategy(t *testing.T) {
	e := New()
	ops := []Opinion{{AgentID: "a", Decision: "yes", Confidence: 1}}
	if _, err := e.Reach(ops, Strategy("quorum"), 0.5); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestMajority(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "yes", Confidence: 0.9},
		{AgentID: "b", Decision: "no", Confidence: 0.8},
		{AgentID: "c", Decision: "yes", Confidence: 0.6},
	}
	r, err := e.Reach(ops, Majority, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "yes" {
		t.Errorf("expected yes, got %s", r.Decision)
	}
	if math.Abs(r.Confidence-2.0/3.0) > 0.001 {
		t.Errorf("expected confidence 2/3, got %f", r.Confidence)
	}
	if len(r.Agents) != 2 || r.Agents[0] != "a" || r.Agents[1] != "c" {
		t.Errorf("unexpected supporter list %v", r.Agents)
	}
}

func TestMajorityTieKeepsFirstSeen(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "left", Confidence: 0.5},
		{AgentID: "b", Decision: "right", Confidence: 0.9},
	}
	r, err := e.Reach(ops, Majority, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "left" {
		t.Errorf("tie must resolve to first-seen label, got %s", r.Decision)
	}
}

func TestWeighted(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "yes", Confidence: 0.9, Weight: 1},
		{AgentID: "b", Decision: "no", Confidence: 0.6, Weight: 1},
		{AgentID: "c", Decision: "yes", Confidence: 0.8, Weight: 0.5},
	}
	r, err := e.Reach(ops, Weighted, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "yes" {
		t.Errorf("expected yes, got %s", r.Decision)
	}
	// (0.9 + 0.4) / (0.9 + 0.6 + 0.4)
	if math.Abs(r.Confidence-0.684) > 0.001 {
		t.Errorf("expected confidence 0.684, got %f", r.Confidence)
	}
}

func TestWeightedEngineOverride(t *testing.T) {
	e := New()
	e.SetAgentWeight("b", 10)
	ops := []Opinion{
		{AgentID: "a", Decision: "yes", Confidence: 0.9},
		{AgentID: "b", Decision: "no", Confidence: 0.6},
	}
	r, err := e.Reach(ops, Weighted, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "no" {
		t.Errorf("registered weight must override, got %s", r.Decision)
	}
}

func TestWeightedDefaultsZeroWeight(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "yes", Confidence: 0.4},
		{AgentID: "b", Decision: "no", Confidence: 0.3},
	}
	r, err := e.Reach(ops, Weighted, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	// With both weights defaulted to 1.0, "yes" wins 0.4 vs 0.3.
	if r.Decision != "yes" {
		t.Errorf("expected yes, got %s", r.Decision)
	}
}

func TestUnanimousAgreement(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "approve", Confidence: 0.7},
		{AgentID: "b", Decision: "approve", Confidence: 0.8},
		{AgentID: "c", Decision: "approve", Confidence: 0.9},
	}
	r, err := e.Reach(ops, Unanimous, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "approve" {
		t.Errorf("expected approve, got %s", r.Decision)
	}
	if math.Abs(r.Confidence-0.8) > 0.001 {
		t.Errorf("expected mean confidence 0.8, got %f", r.Confidence)
	}
	if r.Metadata["disagreement"] != false {
		t.Error("expected disagreement=false")
	}
}

func TestUnanimousDisagreement(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "approve", Confidence: 0.6},
		{AgentID: "b", Decision: "reject", Confidence: 0.9},
	}
	r, err := e.Reach(ops, Unanimous, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "reject" {
		t.Errorf("expected highest-confidence label, got %s", r.Decision)
	}
	if r.Confidence != 0.0 {
		t.Errorf("disagreement confidence must be exactly 0.0, got %f", r.Confidence)
	}
	if r.Metadata["disagreement"] != true {
		t.Error("expected disagreement=true")
	}
}

func TestThresholdMet(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "go", Confidence: 1},
		{AgentID: "b", Decision: "go", Confidence: 1},
		{AgentID: "c", Decision: "stop", Confidence: 1},
	}
	r, err := e.Reach(ops, Threshold, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	if r.Decision != "go" {
		t.Errorf("expected go, got %s", r.Decision)
	}
	if r.Metadata["threshold_met"] != true {
		t.Error("2/3 must meet a 0.6 threshold")
	}
}

func TestThresholdMissedKeepsDecision(t *testing.T) {
	e := New()
	ops := []Opinion{
		{AgentID: "a", Decision: "go", Confidence: 1},
		{AgentID: "b", Decision: "go", Confidence: 1},
		{AgentID: "c", Decision: "stop", Confidence: 1},
	}
	r, err := e.Reach(ops, Threshold, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	// The decision stands even when the threshold is missed; only the
	// metadata records the miss.
	if r.Decision != "go" {
		t.Errorf("expected go, got %s", r.Decision)
	}
	if r.Metadata["threshold_met"] != false {
		t.Error("2/3 must miss a 0.9 threshold")
	}
}

func TestConfidenceBounds(t *testing.T) {
	e := New()
	strategies := []Strategy{Majority, Weighted, Unanimous, Threshold}
	ops := []Opinion{
		{AgentID: "a", Decision: "x", Confidence: 0.2},
		{AgentID: "b", Decision: "y", Confidence: 0.7},
		{AgentID: "c", Decision: "x", Confidence: 0.5},
	}
	for _, s := range strategies {
		r, err := e.Reach(ops, s, 0.5)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			t.Errorf("%s: confidence %f out of [0,1]", s, r.Confidence)
		}
	}
}
