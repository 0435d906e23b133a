package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pliakos/crewd/internal/natsbus"
	"github.com/pliakos/crewd/internal/store"
)

// Info is the catalog entry exposed for protocol listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the protocol catalog and runs invocations with persistence
// and event publishing around them.
type Registry struct {
	rt        *Runtime
	order     []string
	protocols map[string]Protocol
}

func NewRegistry(rt *Runtime) *Registry {
	r := &Registry{
		rt:        rt,
		protocols: make(map[string]Protocol),
	}
	for _, p := range []Protocol{
		&Debate{rt: rt},
		&Ensemble{rt: rt},
		&Pipeline{rt: rt},
		&Swarm{rt: rt},
		&Critique{rt: rt},
	} {
		r.order = append(r.order, p.Name())
		r.protocols[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Protocol, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

// List returns the catalog in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		p := r.protocols[name]
		out = append(out, Info{Name: p.Name(), Description: p.Description()})
	}
	return out
}

// Run executes a protocol by name, persists the run record and publishes a
// completion event. Persistence is best-effort; the result is authoritative.
func (r *Registry) Run(ctx context.Context, name string, task Task, agents []Agent, opts Options) (*Result, error) {
	p, ok := r.protocols[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q: %w", name, ErrValidation)
	}

	runID := uuid.New().String()
	slog.Info("collaboration started", "run", runID, "protocol", name, "agents", len(agents))

	result, err := p.Execute(ctx, task, agents, opts)
	if err != nil {
		r.persistRun(runID, name, task, agents, nil, "failed")
		slog.Warn("collaboration failed", "run", runID, "protocol", name, "error", err)
		return nil, err
	}
	result.ID = runID

	r.persistRun(runID, name, task, agents, result, "completed")
	r.publishRunEvent(result)
	slog.Info("collaboration completed", "run", runID, "protocol", name, "duration", result.Duration)
	return result, nil
}

func (r *Registry) persistRun(runID, name string, task Task, agents []Agent, result *Result, status string) {
	if r.rt.Store == nil {
		return
	}

	ids, _ := json.Marshal(agentIDs(agents))
	run := &store.CollabRun{
		ID:       runID,
		Protocol: name,
		Task:     task.Description,
		Agents:   ids,
		Status:   status,
	}
	if result != nil {
		run.Output = result.Output
		run.Outputs, _ = json.Marshal(result.Outputs)
		run.Metadata, _ = json.Marshal(result.Metadata)
		run.DurationMs = result.Duration.Milliseconds()
	}
	_ = r.rt.Store.SaveCollabRun(run)
}

func (r *Registry) publishRunEvent(result *Result) {
	if r.rt.Client == nil {
		return
	}

	event := map[string]any{
		"type":      "collab_completed",
		"run_id":    result.ID,
		"protocol":  result.Protocol,
		"agents":    result.Agents,
		"duration":  result.Duration.Milliseconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = r.rt.Client.Publish(natsbus.TopicEventsCollab(result.ID), data)
}
