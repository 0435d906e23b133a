package orchestrator

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// IPCCommand is the request envelope crewctl sends over the bus.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (o *Orchestrator) handleIPC(msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid IPC command", "error", err)
		o.respondIPC(msg, map[string]any{"error": "invalid command"})
		return
	}

	slog.Info("IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case "register_agent":
		o.ipcRegisterAgent(msg, cmd.Payload)
	case "unregister_agent":
		o.ipcAgentAction(msg, cmd.Payload, o.UnregisterAgent)
	case "pause_agent":
		o.ipcAgentAction(msg, cmd.Payload, o.PauseAgent)
	case "resume_agent":
		o.ipcAgentAction(msg, cmd.Payload, o.ResumeAgent)
	case "submit_task":
		o.ipcSubmitTask(msg, cmd.Payload)
	case "task_status":
		o.ipcTaskStatus(msg, cmd.Payload)
	case "agent_status":
		o.ipcAgentStatus(msg, cmd.Payload)
	case "list_tasks":
		o.ipcListTasks(msg, cmd.Payload)
	case "list_agents":
		o.respondIPC(msg, map[string]any{"ok": true, "agents": o.ListAgents()})
	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		o.respondIPC(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (o *Orchestrator) respondIPC(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

func (o *Orchestrator) ipcRegisterAgent(msg *nats.Msg, payload json.RawMessage) {
	var spec AgentSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		o.respondIPC(msg, map[string]any{"error": "invalid payload"})
		return
	}
	a, err := o.RegisterAgent(spec)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "agent": a})
}

// ipcAgentAction covers the id-only agent commands.
func (o *Orchestrator) ipcAgentAction(msg *nats.Msg, payload json.RawMessage, action func(string) error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		o.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	if err := action(req.ID); err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true})
}

func (o *Orchestrator) ipcSubmitTask(msg *nats.Msg, payload json.RawMessage) {
	var spec TaskSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		o.respondIPC(msg, map[string]any{"error": "invalid payload"})
		return
	}
	t, err := o.SubmitTask(spec)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "task": t})
}

func (o *Orchestrator) ipcTaskStatus(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		o.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	t, err := o.GetTask(req.ID)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "task": t})
}

func (o *Orchestrator) ipcAgentStatus(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		o.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	a, err := o.GetAgent(req.ID)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "agent": a})
}

func (o *Orchestrator) ipcListTasks(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Status string `json:"status"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			o.respondIPC(msg, map[string]any{"error": "invalid payload"})
			return
		}
	}
	tasks := o.ListTasks(TaskStatus(req.Status))
	o.respondIPC(msg, map[string]any{"ok": true, "tasks": tasks})
}
