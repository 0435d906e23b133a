package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pliakos/crewd/internal/executor"
)

// Swarm decomposes the task into a bounded set of subtasks, hands them to the
// agents round-robin and runs them concurrently, with progress shared through
// a coordination strategy. The run converges once enough subtasks complete.
type Swarm struct {
	rt *Runtime
}

func (s *Swarm) Name() string { return "swarm" }

func (s *Swarm) Description() string {
	return "the task is split into subtasks claimed round-robin and executed concurrently until the completion ratio converges"
}

// maxSubtasks bounds the decomposition regardless of requirement count.
const maxSubtasks = 5

type swarmSubtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	AgentID     string `json:"agent_id"`
	Status      string `json:"status"` // completed, failed
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Swarm) Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error) {
	if err := validateAgents(agents, 1, 0); err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}

	if max := opts.Int("max_agents", 0); max > 0 && len(agents) > max {
		agents = agents[:max]
	}
	threshold := opts.Float("convergence_threshold", 0.8)
	coordination := newCoordination(opts.String("coordination", CoordinationBlackboard), task.ID, s.rt)

	result := newResult(s.Name(), task, agents)
	subtasks := decompose(task)

	// Round-robin claims, announced before execution so every participant
	// sees the full assignment on the shared log.
	for i := range subtasks {
		subtasks[i].AgentID = agents[i%len(agents)].ID
		coordination.Post(Note{
			AgentID: subtasks[i].AgentID,
			To:      subtasks[i].AgentID,
			Subtask: subtasks[i].ID,
			Kind:    "claimed",
		})
	}

	var wg sync.WaitGroup
	for i := range subtasks {
		wg.Add(1)
		go func(st *swarmSubtask) {
			defer wg.Done()
			out, err := s.rt.runAgent(ctx, st.AgentID, executor.Input{
				TaskID:      task.ID,
				Description: st.Description,
				Metadata:    task.Metadata,
			})
			if err != nil {
				st.Status = "failed"
				st.Error = err.Error()
				coordination.Post(Note{AgentID: st.AgentID, Subtask: st.ID, Kind: "failed", Content: st.Error})
				return
			}
			st.Status = "completed"
			st.Output = out
			coordination.Post(Note{AgentID: st.AgentID, Subtask: st.ID, Kind: "completed", Content: out})
		}(&subtasks[i])
	}
	wg.Wait()

	completed := 0
	var merged []string
	for _, st := range subtasks {
		if st.Status == "completed" {
			completed++
			merged = append(merged, st.Output)
			result.Outputs[st.AgentID] = st.Output
		}
	}
	ratio := float64(completed) / float64(len(subtasks))

	result.Output = strings.Join(merged, "\n")
	result.Metadata["subtasks"] = subtasks
	result.Metadata["coordination"] = coordination.Strategy()
	result.Metadata["notes"] = coordination.Notes()
	result.Metadata["completed"] = completed
	result.Metadata["completion_ratio"] = ratio
	result.Metadata["convergence_threshold"] = threshold
	result.Metadata["converged"] = ratio >= threshold
	return result.finish(), nil
}

// decompose splits a task into min(len(requirements)+2, 5) subtasks: one per
// requirement, padded with an analysis and an integration phase.
func decompose(task Task) []swarmSubtask {
	n := len(task.Requirements) + 2
	if n > maxSubtasks {
		n = maxSubtasks
	}

	subtasks := make([]swarmSubtask, 0, n)
	for i := 0; i < n; i++ {
		st := swarmSubtask{ID: fmt.Sprintf("subtask-%d", i+1)}
		switch {
		case i < len(task.Requirements) && i < n-2:
			st.Description = fmt.Sprintf("address requirement %q of: %s", task.Requirements[i], task.Description)
		case i == n-2:
			st.Description = fmt.Sprintf("analyze open aspects of: %s", task.Description)
		default:
			st.Description = fmt.Sprintf("integrate partial results for: %s", task.Description)
		}
		subtasks = append(subtasks, st)
	}
	return subtasks
}
