// Package collab implements bounded, synchronous multi-agent interactions:
// debate, ensemble, pipeline, swarm and critique. Protocols run outside the
// orchestrator's queue against an explicit participant list and bottom out in
// the same injected execution capability.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/executor"
	"github.com/pliakos/crewd/internal/natsbus"
	"github.com/pliakos/crewd/internal/store"
)

// ErrValidation marks a malformed invocation: too few or too many agents, or
// an unknown protocol name.
var ErrValidation = errors.New("invalid protocol invocation")

// Agent is a protocol participant. Protocols never mutate orchestrator state;
// callers pass an explicit snapshot of who takes part.
type Agent struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Task is the unit of work a protocol runs against.
type Task struct {
	ID           string            `json:"id,omitempty"`
	Description  string            `json:"description"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Options is the protocol configuration. Only the keys a protocol documents
// are meaningful; unrecognized keys are ignored.
type Options map[string]any

// Int reads an integer option, tolerating the float64 that JSON decoding
// produces for numbers.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Result is the immutable outcome of one protocol invocation.
type Result struct {
	ID          string            `json:"id"`
	Protocol    string            `json:"protocol"`
	Task        string            `json:"task"`
	Agents      []string          `json:"agents"`
	Output      string            `json:"output"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Duration    time.Duration     `json:"duration"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Runtime bundles the capabilities protocols draw on. Store and Client may be
// nil; persistence and coordination messaging degrade gracefully.
type Runtime struct {
	Exec      executor.Executor
	Consensus *consensus.Engine
	Store     *store.Store
	Client    *natsbus.Client
}

// Protocol is the common contract: validate participants, run the
// interaction, return one result. A single agent's failed step never fails
// the invocation; it is captured in the result instead.
type Protocol interface {
	Name() string
	Description() string
	Execute(ctx context.Context, task Task, agents []Agent, opts Options) (*Result, error)
}

// validateAgents enforces participant bounds. max <= 0 means unbounded.
func validateAgents(agents []Agent, min, max int) error {
	if len(agents) < min {
		return fmt.Errorf("requires at least %d agents, got %d: %w", min, len(agents), ErrValidation)
	}
	if max > 0 && len(agents) > max {
		return fmt.Errorf("allows at most %d agents, got %d: %w", max, len(agents), ErrValidation)
	}
	return nil
}

func agentIDs(agents []Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// newResult stamps the start of an invocation; finish completes it.
func newResult(protocol string, task Task, agents []Agent) *Result {
	return &Result{
		Protocol:  protocol,
		Task:      task.Description,
		Agents:    agentIDs(agents),
		Outputs:   make(map[string]string),
		Metadata:  make(map[string]any),
		StartedAt: time.Now().UTC(),
	}
}

func (r *Result) finish() *Result {
	r.CompletedAt = time.Now().UTC()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
	return r
}

// runAgent invokes the execution capability for one protocol step. The error
// is returned for the protocol to record, never to abort on.
func (rt *Runtime) runAgent(ctx context.Context, agentID string, in executor.Input) (string, error) {
	return rt.Exec.Execute(ctx, agentID, in)
}

// engine returns the consensus engine, lazily defaulting so protocols can
// always tally.
func (rt *Runtime) engine() *consensus.Engine {
	if rt.Consensus == nil {
		rt.Consensus = consensus.New()
	}
	return rt.Consensus
}
