package collab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pliakos/crewd/internal/executor"
)

// Critique iterates a primary agent against a panel of critics: the primary
// produces or revises an output, the critics score it in [0,1], and the loop
// stops once the mean score reaches the approval threshold or the iteration
// budget runs out.
type Critique struct {
	rt *Runtime
}

func (c *Critique) Name() string { return "critique" }

func (c *Critique) Description() string {
	return "a primary agent revises its output under critic review until the mean score passes the approval threshold"
}

type critiqueReview struct {
	AgentID  string  `json:"agent_id"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type critiqueIteration struct {
	Iteration int              `json:"iteration"`
	Output    string           `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	Reviews   []critiqueReview `json:"reviews,omitempty"`
	MeanScore float64          `json:"mean_score"`
}

func (c *Critique) Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error) {
	if err := validateAgents(agents, 2, 0); err != nil {
		return nil, fmt.Errorf("critique: %w", err)
	}

	maxIterations := opts.Int("max_iterations", 3)
	if maxIterations < 1 {
		maxIterations = 1
	}
	threshold := opts.Float("approval_threshold", 0.8)
	parallel := opts.Bool("parallel_review", false)

	primary := agents[0]
	critics := agents[1:]

	result := newResult(c.Name(), task, agents)
	var iterations []critiqueIteration
	var feedback []string
	approved := false
	finalOutput := ""
	finalScore := 0.0

	for i := 1; i <= maxIterations; i++ {
		iter := critiqueIteration{Iteration: i}

		out, err := c.rt.runAgent(ctx, primary.ID, executor.Input{
			TaskID:      task.ID,
			Description: revisionPrompt(task.Description, i, feedback),
			Metadata:    task.Metadata,
		})
		if err != nil {
			// A failed revision consumes the iteration; critics have
			// nothing to review.
			iter.Error = err.Error()
			iterations = append(iterations, iter)
			continue
		}
		iter.Output = out
		finalOutput = out
		result.Outputs[primary.ID] = out

		iter.Reviews = c.review(ctx, task, critics, out, parallel)
		iter.MeanScore = meanScore(iter.Reviews)
		finalScore = iter.MeanScore

		feedback = feedback[:0]
		for _, r := range iter.Reviews {
			if r.Error == "" && r.Feedback != "" {
				feedback = append(feedback, r.Feedback)
			}
			if r.Error == "" {
				result.Outputs[r.AgentID] = r.Feedback
			}
		}

		iterations = append(iterations, iter)
		if iter.MeanScore >= threshold {
			approved = true
			break
		}
	}

	result.Output = finalOutput
	result.Metadata["approved"] = approved
	result.Metadata["iterations"] = len(iterations)
	result.Metadata["final_score"] = finalScore
	result.Metadata["approval_threshold"] = threshold
	result.Metadata["history"] = iterations
	return result.finish(), nil
}

// review collects one scored review per critic, in parallel or in panel
// order. A failed review is recorded with score 0 and excluded from the mean.
func (c *Critique) review(ctx context.Context, task Task, critics []Agent, output string, parallel bool) []critiqueReview {
	reviews := make([]critiqueReview, len(critics))
	run := func(i int, a Agent) {
		out, err := c.rt.runAgent(ctx, a.ID, executor.Input{
			TaskID:      task.ID,
			Description: fmt.Sprintf("score this answer to %q in [0,1] and give feedback:\n%s", task.Description, output),
		})
		r := critiqueReview{AgentID: a.ID}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Score, r.Feedback = parseReview(out)
		}
		reviews[i] = r
	}

	if parallel {
		var wg sync.WaitGroup
		for i, a := range critics {
			wg.Add(1)
			go func(i int, a Agent) {
				defer wg.Done()
				run(i, a)
			}(i, a)
		}
		wg.Wait()
	} else {
		for i, a := range critics {
			run(i, a)
		}
	}
	return reviews
}

// parseReview extracts the leading numeric score from a critic's output; the
// remainder is feedback. An unparsable review scores a neutral 0.5 with the
// whole output as feedback.
func parseReview(out string) (float64, string) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return 0.5, ""
	}
	score, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], ":"), 64)
	if err != nil {
		return 0.5, out
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), fields[0]))
}

func meanScore(reviews []critiqueReview) float64 {
	sum := 0.0
	n := 0
	for _, r := range reviews {
		if r.Error != "" {
			continue
		}
		sum += r.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func revisionPrompt(description string, iteration int, feedback []string) string {
	if iteration == 1 || len(feedback) == 0 {
		return description
	}
	var b strings.Builder
	fmt.Fprintf(&b, "revise your answer to: %s\naddress this feedback:\n", description)
	for _, f := range feedback {
		b.WriteString("- " + f + "\n")
	}
	return b.String()
}
