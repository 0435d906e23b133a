package collab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/executor"
)

// Ensemble runs every agent against the identical task and merges the
// outputs: by vote, by numeric averaging, or by taking the highest-confidence
// vote as a synthesis placeholder.
type Ensemble struct {
	rt *Runtime
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) Description() string {
	return "all agents answer the same task independently; outputs are merged by vote, average or synthesis"
}

const (
	MergeVote      = "vote"
	MergeAverage   = "average"
	MergeSynthesis = "llm_synthesis"
)

type ensembleVote struct {
	AgentID    string  `json:"agent_id"`
	Output     string  `json:"output,omitempty"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func (e *Ensemble) Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error) {
	if err := validateAgents(agents, 2, 0); err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}

	merge := opts.String("merge_strategy", MergeVote)
	parallel := opts.Bool("parallel_execution", true)
	minAgreement := opts.Float("min_agreement", 0)

	result := newResult(e.Name(), task, agents)

	// Votes stay indexed by participant order so tallying is deterministic
	// regardless of goroutine completion order.
	votes := make([]ensembleVote, len(agents))
	run := func(i int, a Agent) {
		out, err := e.rt.runAgent(ctx, a.ID, executor.Input{
			TaskID:       task.ID,
			Description:  task.Description,
			Requirements: task.Requirements,
			Metadata:     task.Metadata,
		})
		v := ensembleVote{AgentID: a.ID, Confidence: 1.0}
		if err != nil {
			v.Error = err.Error()
			v.Confidence = 0
		} else {
			v.Output = out
		}
		votes[i] = v
	}

	if parallel {
		var wg sync.WaitGroup
		for i, a := range agents {
			wg.Add(1)
			go func(i int, a Agent) {
				defer wg.Done()
				run(i, a)
			}(i, a)
		}
		wg.Wait()
	} else {
		for i, a := range agents {
			run(i, a)
		}
	}

	var valid []ensembleVote
	for _, v := range votes {
		if v.Error == "" {
			result.Outputs[v.AgentID] = v.Output
			valid = append(valid, v)
		}
	}

	output, agreement := e.merge(merge, valid)
	result.Output = output
	result.Metadata["merge_strategy"] = merge
	result.Metadata["agreement"] = agreement
	result.Metadata["votes"] = votes
	if minAgreement > 0 {
		result.Metadata["min_agreement"] = minAgreement
		result.Metadata["min_agreement_met"] = agreement >= minAgreement
	}
	return result.finish(), nil
}

// merge combines the valid votes. Agreement is the share of votes backing
// the most common output.
func (e *Ensemble) merge(strategy string, votes []ensembleVote) (string, float64) {
	if len(votes) == 0 {
		return "", 0
	}

	switch strategy {
	case MergeAverage:
		if out, ok := average(votes); ok {
			_, agreement := e.voteMerge(votes)
			return out, agreement
		}
		return e.voteMerge(votes)
	case MergeSynthesis:
		// Placeholder for true synthesis: the highest-confidence vote wins,
		// earliest participant on ties.
		best := votes[0]
		for _, v := range votes[1:] {
			if v.Confidence > best.Confidence {
				best = v
			}
		}
		_, agreement := e.voteMerge(votes)
		return best.Output, agreement
	default:
		return e.voteMerge(votes)
	}
}

// voteMerge picks the most frequent output through the consensus engine;
// first-seen order breaks ties.
func (e *Ensemble) voteMerge(votes []ensembleVote) (string, float64) {
	opinions := make([]consensus.Opinion, len(votes))
	for i, v := range votes {
		opinions[i] = consensus.Opinion{AgentID: v.AgentID, Decision: v.Output, Confidence: 1.0}
	}
	r, err := e.rt.engine().Reach(opinions, consensus.Majority, 0.5)
	if err != nil {
		return votes[0].Output, 0
	}
	return r.Decision, r.Confidence
}

// average returns the arithmetic mean when every output parses as a number.
func average(votes []ensembleVote) (string, bool) {
	sum := 0.0
	for _, v := range votes {
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Output), 64)
		if err != nil {
			return "", false
		}
		sum += f
	}
	mean := sum / float64(len(votes))
	return strconv.FormatFloat(mean, 'g', -1, 64), true
}
