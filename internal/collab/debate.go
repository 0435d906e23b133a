package collab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/executor"
)

// Debate assigns alternating pro/con positions to the participants and runs
// a fixed number of argument rounds, each agent arguing against the previous
// round's opposing side. The winner is the position with the most recorded
// arguments; an optional judge agent writes the closing reasoning.
type Debate struct {
	rt *Runtime
}

func (d *Debate) Name() string { return "debate" }

func (d *Debate) Description() string {
	return "agents argue assigned pro/con positions over multiple rounds; the position with the most arguments wins"
}

type debateArgument struct {
	AgentID  string `json:"agent_id"`
	Position string `json:"position"`
	Round    int    `json:"round"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (d *Debate) Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error) {
	if err := validateAgents(agents, 2, 0); err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}

	rounds := opts.Int("rounds", 3)
	if rounds < 1 {
		rounds = 1
	}
	judgeID := opts.String("judge_agent_id", "")
	roundLimit := time.Duration(opts.Int("time_limit_per_round_sec", 0)) * time.Second

	// Positions alternate in input order; agent 0 always opens "pro".
	positions := make(map[string]string, len(agents))
	for i, a := range agents {
		if i%2 == 0 {
			positions[a.ID] = "pro"
		} else {
			positions[a.ID] = "con"
		}
	}

	result := newResult(d.Name(), task, agents)
	var arguments []debateArgument
	// Content of the previous round, per position, fed to the other side.
	prev := map[string][]string{}

	for round := 1; round <= rounds; round++ {
		roundCtx := ctx
		var cancel context.CancelFunc
		if roundLimit > 0 {
			roundCtx, cancel = context.WithTimeout(ctx, roundLimit)
		}

		current := map[string][]string{}
		for _, a := range agents {
			pos := positions[a.ID]
			opposing := prev[opponent(pos)]

			out, err := d.rt.runAgent(roundCtx, a.ID, executor.Input{
				TaskID:      task.ID,
				Description: debatePrompt(task.Description, pos, round, opposing),
				Metadata:    task.Metadata,
			})
			arg := debateArgument{AgentID: a.ID, Position: pos, Round: round}
			if err != nil {
				// A failed argument is recorded, never fatal.
				arg.Error = err.Error()
			} else {
				arg.Content = out
				current[pos] = append(current[pos], out)
				result.Outputs[a.ID] = out
			}
			arguments = append(arguments, arg)
		}

		if cancel != nil {
			cancel()
		}
		prev = current
	}

	winner, confidence := d.tally(arguments, positions[agents[0].ID])
	winningAgent := ""
	for _, a := range agents {
		if positions[a.ID] == winner {
			winningAgent = a.ID
			break
		}
	}

	reasoning := d.closingReasoning(ctx, task, judgeID, winner, arguments)
	result.Output = lastArgumentFor(arguments, winner)
	if result.Output == "" {
		result.Output = reasoning
	}

	result.Metadata["rounds"] = rounds
	result.Metadata["positions"] = positions
	result.Metadata["winner"] = winner
	result.Metadata["winning_agent_id"] = winningAgent
	result.Metadata["confidence"] = confidence
	result.Metadata["reasoning"] = reasoning
	result.Metadata["arguments"] = arguments
	return result.finish(), nil
}

// tally counts recorded arguments per position through the consensus engine.
// Opinions are ordered position-major starting from the first-assigned
// position, so a tie resolves to that position.
func (d *Debate) tally(arguments []debateArgument, firstPosition string) (string, float64) {
	var opinions []consensus.Opinion
	for _, pos := range []string{firstPosition, opponent(firstPosition)} {
		for _, arg := range arguments {
			if arg.Error != "" || arg.Position != pos {
				continue
			}
			opinions = append(opinions, consensus.Opinion{
				AgentID:    arg.AgentID,
				Decision:   arg.Position,
				Confidence: 1.0,
			})
		}
	}
	if len(opinions) == 0 {
		// Every argument failed; the opening position wins vacuously.
		return firstPosition, 0.0
	}

	r, err := d.rt.engine().Reach(opinions, consensus.Majority, 0.5)
	if err != nil {
		return firstPosition, 0.0
	}
	return r.Decision, r.Confidence
}

// closingReasoning asks the judge agent for a verdict when one is configured,
// otherwise summarizes the tally.
func (d *Debate) closingReasoning(ctx context.Context, task Task, judgeID, winner string, arguments []debateArgument) string {
	counted := 0
	for _, arg := range arguments {
		if arg.Error == "" && arg.Position == winner {
			counted++
		}
	}
	summary := fmt.Sprintf("position %q carried %d of %d recorded arguments on: %s",
		winner, counted, recordedArguments(arguments), task.Description)

	if judgeID == "" {
		return summary
	}

	var transcript strings.Builder
	for _, arg := range arguments {
		if arg.Error != "" {
			continue
		}
		fmt.Fprintf(&transcript, "[round %d, %s, %s] %s\n", arg.Round, arg.Position, arg.AgentID, arg.Content)
	}
	out, err := d.rt.runAgent(ctx, judgeID, executor.Input{
		TaskID:      task.ID,
		Description: fmt.Sprintf("judge this debate on %q and explain the verdict:\n%s", task.Description, transcript.String()),
	})
	if err != nil {
		return summary
	}
	return out
}

func recordedArguments(arguments []debateArgument) int {
	n := 0
	for _, arg := range arguments {
		if arg.Error == "" {
			n++
		}
	}
	return n
}

func lastArgumentFor(arguments []debateArgument, position string) string {
	for i := len(arguments) - 1; i >= 0; i-- {
		if arguments[i].Error == "" && arguments[i].Position == position {
			return arguments[i].Content
		}
	}
	return ""
}

func opponent(position string) string {
	if position == "pro" {
		return "con"
	}
	return "pro"
}

func debatePrompt(description, position string, round int, opposing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "argue the %s position on: %s (round %d)", position, description, round)
	if len(opposing) > 0 {
		b.WriteString("\nrebut the opposing arguments:\n")
		for _, o := range opposing {
			b.WriteString("- " + o + "\n")
		}
	}
	return b.String()
}
