package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pliakos/crewd/internal/executor"
)

// Pipeline chains the agents in input order: each stage's output is the next
// stage's input. A failed stage is recorded, and with backtracking enabled
// the next stage receives the last successful output instead of the failure
// payload.
type Pipeline struct {
	rt *Runtime
}

func (p *Pipeline) Name() string { return "pipeline" }

func (p *Pipeline) Description() string {
	return "agents process the task in sequence, each stage handing its output to the next"
}

const (
	HandoffStructured = "structured"
	HandoffNatural    = "natural"
)

type pipelineStage struct {
	Stage   int    `json:"stage"`
	AgentID string `json:"agent_id"`
	Input   string `json:"input"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handoff is the structured envelope between stages.
type handoff struct {
	Stage   int    `json:"stage"`
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

func (p *Pipeline) Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error) {
	if err := validateAgents(agents, 2, 0); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	format := opts.String("handoff_format", HandoffStructured)
	backtrack := opts.Bool("allow_backtrack", false)
	stageLimit := time.Duration(opts.Int("timeout_per_stage_sec", 0)) * time.Second

	result := newResult(p.Name(), task, agents)
	stages := make([]pipelineStage, 0, len(agents))

	current := task.Description
	lastGood := task.Description
	failures := 0

	for i, a := range agents {
		stage := pipelineStage{Stage: i + 1, AgentID: a.ID, Input: current}

		stageCtx := ctx
		var cancel context.CancelFunc
		if stageLimit > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, stageLimit)
		}

		out, err := p.rt.runAgent(stageCtx, a.ID, executor.Input{
			TaskID:      task.ID,
			Description: stageInput(format, i+1, a.ID, current),
			Metadata:    task.Metadata,
		})
		if cancel != nil {
			cancel()
		}

		if err != nil {
			stage.Error = err.Error()
			failures++
			if backtrack {
				// The next stage continues from the last good handoff
				// instead of the failure payload.
				current = lastGood
			} else {
				current = fmt.Sprintf("stage %d failed: %s", i+1, err)
			}
		} else {
			stage.Output = out
			result.Outputs[a.ID] = out
			current = out
			lastGood = out
		}
		stages = append(stages, stage)
	}

	result.Output = current
	result.Metadata["handoff_format"] = format
	result.Metadata["allow_backtrack"] = backtrack
	result.Metadata["stages"] = stages
	result.Metadata["failed_stages"] = failures
	return result.finish(), nil
}

// stageInput frames the handoff for the next stage. The content itself is
// always the previous output verbatim; structured handoffs carry it in a
// JSON envelope, natural ones as plain text.
func stageInput(format string, stage int, agentID, content string) string {
	if format != HandoffStructured {
		return content
	}
	data, err := json.Marshal(handoff{Stage: stage, AgentID: agentID, Content: content})
	if err != nil {
		return content
	}
	return string(data)
}
