// Package consensus combines independent agent opinions into one decision
// through a pluggable voting strategy.
package consensus

import (
	"errors"
	"fmt"
	"sync"
)

type Strategy string

const (
	// Majority picks the label with the most votes; ties keep the label
	// seen first in opinion order.
	Majority Strategy = "majority"

	// Weighted scores each label by the sum of weight x confidence of its
	// supporters and normalizes against the total over all opinions.
	Weighted Strategy = "weighted"

	// Unanimous succeeds only when every opinion names the same label.
	// On disagreement it surfaces the highest-confidence opinion's label
	// with confidence forced to zero, an explicit "no consensus" signal.
	Unanimous Strategy = "unanimous"

	// Threshold tallies like Majority and records in metadata whether the
	// winning confidence met the threshold. The decision itself is not
	// altered when the threshold is missed.
	Threshold Strategy = "threshold"
)

// ErrNoOpinions rejects an empty opinion set.
var ErrNoOpinions = errors.New("no opinions")

// Opinion is one agent's vote. Weight defaults to 1.0 and may be overridden
// by an engine-registered per-agent weight.
type Opinion struct {
	AgentID    string  `json:"agent_id"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
}

type Result struct {
	Decision   string         `json:"decision"`
	Confidence float64        `json:"confidence"`
	Agents     []string       `json:"agents"`
	Opinions   []Opinion      `json:"opinions"`
	Strategy   Strategy       `json:"strategy"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Engine struct {
	mu      sync.RWMutex
	weights map[string]float64
}

func New() *Engine {
	return &Engine{weights: make(map[string]float64)}
}

// SetAgentWeight overrides the weight of every opinion that agent submits.
func (e *Engine) SetAgentWeight(agentID string, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights[agentID] = weight
}

// Reach produces one decision from the given opinions. The threshold
// argument only matters to the Threshold strategy.
func (e *Engine) Reach(opinions []Opinion, strategy Strategy, threshold float64) (*Result, error) {
	if len(opinions) == 0 {
		return nil, fmt.Errorf("reach consensus: %w", ErrNoOpinions)
	}

	normalized := e.normalize(opinions)

	switch strategy {
	case Majority:
		return majority(normalized), nil
	case Weighted:
		return weighted(normalized), nil
	case Unanimous:
		return unanimous(normalized), nil
	case Threshold:
		r := majority(normalized)
		r.Strategy = Threshold
		r.Metadata["threshold"] = threshold
		r.Metadata["threshold_met"] = r.Confidence >= threshold
		return r, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// normalize copies opinions, defaulting zero weights to 1.0 and applying
// engine-registered per-agent overrides.
func (e *Engine) normalize(opinions []Opinion) []Opinion {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Opinion, len(opinions))
	for i, op := range opinions {
		if op.Weight == 0 {
			op.Weight = 1.0
		}
		if w, ok := e.weights[op.AgentID]; ok {
			op.Weight = w
		}
		out[i] = op
	}
	return out
}

// tally groups opinions per label, preserving first-seen label order so
// ties resolve deterministically.
type tally struct {
	labels   []string
	count    map[string]int
	score    map[string]float64
	agents   map[string][]string
}

func newTally(opinions []Opinion) *tally {
	t := &tally{
		count:  make(map[string]int),
		score:  make(map[string]float64),
		agents: make(map[string][]string),
	}
	for _, op := range opinions {
		if _, seen := t.count[op.Decision]; !seen {
			t.labels = append(t.labels, op.Decision)
		}
		t.count[op.Decision]++
		t.score[op.Decision] += op.Weight * op.Confidence
		t.agents[op.Decision] = append(t.agents[op.Decision], op.AgentID)
	}
	return t
}

func majority(opinions []Opinion) *Result {
	t := newTally(opinions)

	winner := t.labels[0]
	for _, label := range t.labels[1:] {
		if t.count[label] > t.count[winner] {
			winner = label
		}
	}

	return &Result{
		Decision:   winner,
		Confidence: clamp(float64(t.count[winner]) / float64(len(opinions))),
		Agents:     t.agents[winner],
		Opinions:   opinions,
		Strategy:   Majority,
		Metadata: map[string]any{
			"votes": t.count,
		},
	}
}

func weighted(opinions []Opinion) *Result {
	t := newTally(opinions)

	total := 0.0
	for _, label := range t.labels {
		total += t.score[label]
	}

	winner := t.labels[0]
	for _, label := range t.labels[1:] {
		if t.score[label] > t.score[winner] {
			winner = label
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = t.score[winner] / total
	}

	return &Result{
		Decision:   winner,
		Confidence: clamp(confidence),
		Agents:     t.agents[winner],
		Opinions:   opinions,
		Strategy:   Weighted,
		Metadata: map[string]any{
			"scores":      t.score,
			"total_score": total,
		},
	}
}

func unanimous(opinions []Opinion) *Result {
	agreed := true
	for _, op := range opinions[1:] {
		if op.Decision != opinions[0].Decision {
			agreed = false
			break
		}
	}

	if agreed {
		sum := 0.0
		agents := make([]string, len(opinions))
		for i, op := range opinions {
			sum += op.Confidence
			agents[i] = op.AgentID
		}
		return &Result{
			Decision:   opinions[0].Decision,
			Confidence: clamp(sum / float64(len(opinions))),
			Agents:     agents,
			Opinions:   opinions,
			Strategy:   Unanimous,
			Metadata: map[string]any{
				"disagreement": false,
			},
		}
	}

	// No consensus: surface the most confident opinion but force the
	// confidence to zero so callers cannot mistake it for agreement.
	top := opinions[0]
	for _, op := range opinions[1:] {
		if op.Confidence > top.Confidence {
			top = op
		}
	}

	return &Result{
		Decision:   top.Decision,
		Confidence: 0.0,
		Agents:     []string{top.AgentID},
		Opinions:   opinions,
		Strategy:   Unanimous,
		Metadata: map[string]any{
			"disagreement": true,
		},
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
