package orchestrator

import "time"

type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentPaused    AgentStatus = "paused"
	AgentError     AgentStatus = "error"
	AgentCompleted AgentStatus = "completed"
)

type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Agent is a registered worker. Invariant: CurrentTask is non-empty exactly
// when Status is AgentRunning. Only the orchestrator mutates an Agent.
type Agent struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Name           string      `json:"name"`
	Capabilities   []string    `json:"capabilities,omitempty"`
	Status         AgentStatus `json:"status"`
	CurrentTask    string      `json:"current_task,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
	TasksFailed    int         `json:"tasks_failed"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActive     time.Time   `json:"last_active"`

	// credential is the plaintext backend credential, handed to the
	// execution backend at dispatch. Never serialized.
	credential string

	// totalBusy accumulates execution time for load reporting.
	totalBusy time.Duration
}

// AgentSpec is the caller-supplied part of a registration.
type AgentSpec struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Credential   string   `json:"credential,omitempty"`
}

// Task is a unit of work. A task is ready when every dependency id names a
// task whose status is TaskCompleted; an unknown dependency id keeps it
// unready forever. Only the worker that owns a task mutates it.
type Task struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agent_id,omitempty"`
	Description  string            `json:"description"`
	Priority     int               `json:"priority"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Status       TaskStatus        `json:"status"`
	Result       string            `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`

	// seq is the submission order, the tiebreak between equal priorities.
	seq uint64
}

// TaskSpec is the caller-supplied part of a submission. AgentID pins the
// task to one specific agent; empty means any capable idle agent.
type TaskSpec struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agent_id,omitempty"`
	Description  string            `json:"description"`
	Priority     int               `json:"priority"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
