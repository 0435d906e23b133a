// Package executor defines the execution capability injected into the
// orchestrator and the collaboration protocols: run one agent against one
// unit of work. Backends decide what "running an agent" means; callers only
// see a synchronous call that honors context cancellation.
package executor

import "context"

// Input carries everything a backend needs to run an agent once.
type Input struct {
	TaskID       string            `json:"task_id,omitempty"`
	Description  string            `json:"description"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Executor is the injected "run agent on input" capability. Execute blocks
// until the agent produced an output or failed; implementations must return
// promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, agentID string, in Input) (string, error)
}

// Error reports a failed execution for one unit of work. Timeout marks the
// hard per-call deadline firing, distinct from a backend-reported failure.
type Error struct {
	AgentID string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return "execute on agent " + e.AgentID + ": timed out"
	}
	return "execute on agent " + e.AgentID + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
