package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/pliakos/crewd/internal/natsbus"
)

// Events mirror registry changes onto the bus so the web layer and external
// subscribers can follow along. Publishing is best-effort; a slow or absent
// bus never blocks scheduling.

func (o *Orchestrator) publishAgentEvent(a *Agent, eventType string) {
	if o.client == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"agent_id":  a.ID,
		"status":    a.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"name":            a.Name,
			"agent_type":      a.Type,
			"current_task":    a.CurrentTask,
			"tasks_completed": a.TasksCompleted,
			"tasks_failed":    a.TasksFailed,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = o.client.Publish(natsbus.TopicEventsAgent(a.ID), data)
}

func (o *Orchestrator) publishTaskEvent(t *Task, eventType string) {
	if o.client == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"task_id":   t.ID,
		"agent_id":  t.AgentID,
		"status":    t.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"description": t.Description,
			"priority":    t.Priority,
			"result":      t.Result,
			"error":       t.Error,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = o.client.Publish(natsbus.TopicEventsTask(t.ID), data)
}
