package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// crewctl drives a running gateway over NATS request-reply. It speaks the
// same envelope the orchestrator's IPC handler expects.

const ipcTopic = "host.ipc.crewd"

type ipcRequest struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ipcResponse struct {
	OK     bool    `json:"ok,omitempty"`
	Error  string  `json:"error,omitempty"`
	Agent  *agent  `json:"agent,omitempty"`
	Task   *task   `json:"task,omitempty"`
	Agents []agent `json:"agents,omitempty"`
	Tasks  []task  `json:"tasks,omitempty"`
}

type agent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CurrentTask    string `json:"current_task"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
}

type task struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Error       string `json:"error"`
}

func sendIPC(natsURL, reqType string, payload any) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ipcRequest{Type: reqType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcTopic, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// splitList turns a comma-separated flag value into a slice, nil when empty.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  crewctl register --type "..." [--id "..."] [--name "..."] [--capabilities "a,b"] [--credential "..."]`)
	fmt.Fprintln(os.Stderr, `  crewctl unregister --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl pause --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl resume --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl submit --description "..." [--id "..."] [--priority N] [--agent "..."] [--deps "a,b"] [--requirements "a,b"]`)
	fmt.Fprintln(os.Stderr, `  crewctl status --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl agent --id "..."`)
	fmt.Fprintln(os.Stderr, `  crewctl tasks [--status "..."]`)
	fmt.Fprintln(os.Stderr, "  crewctl agents")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "register":
		args := parseArgs(rest)
		if args["type"] == "" {
			fatal("--type is required")
		}
		resp, err := sendIPC(natsURL, "register_agent", map[string]any{
			"id":           args["id"],
			"type":         args["type"],
			"name":         args["name"],
			"capabilities": splitList(args["capabilities"]),
			"credential":   args["credential"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Agent registered: %s\n", resp.Agent.ID)

	case "unregister", "pause", "resume":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		reqType := map[string]string{
			"unregister": "unregister_agent",
			"pause":      "pause_agent",
			"resume":     "resume_agent",
		}[command]
		resp, err := sendIPC(natsURL, reqType, map[string]any{"id": args["id"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Println("OK")

	case "submit":
		args := parseArgs(rest)
		if args["description"] == "" {
			fatal("--description is required")
		}
		priority := 0
		if args["priority"] != "" {
			n, err := strconv.Atoi(args["priority"])
			if err != nil {
				fatal("invalid --priority: %s", args["priority"])
			}
			priority = n
		}
		resp, err := sendIPC(natsURL, "submit_task", map[string]any{
			"id":           args["id"],
			"description":  args["description"],
			"priority":     priority,
			"agent_id":     args["agent"],
			"dependencies": splitList(args["deps"]),
			"requirements": splitList(args["requirements"]),
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Task submitted: %s\n", resp.Task.ID)

	case "status":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp, err := sendIPC(natsURL, "task_status", map[string]any{"id": args["id"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		printTask(*resp.Task)

	case "agent":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp, err := sendIPC(natsURL, "agent_status", map[string]any{"id": args["id"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		printAgent(*resp.Agent)

	case "tasks":
		args := parseArgs(rest)
		resp, err := sendIPC(natsURL, "list_tasks", map[string]any{"status": args["status"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Tasks) == 0 {
			fmt.Println("No tasks found.")
		} else {
			for _, t := range resp.Tasks {
				printTask(t)
			}
		}

	case "agents":
		resp, err := sendIPC(natsURL, "list_agents", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Agents) == 0 {
			fmt.Println("No agents registered.")
		} else {
			for _, a := range resp.Agents {
				printAgent(a)
			}
		}

	default:
		fatal("unknown command: %s", command)
	}
}

func printTask(t task) {
	line := fmt.Sprintf("  %s  %-10s p%d  %s", t.ID, t.Status, t.Priority, t.Description)
	if t.AgentID != "" {
		line += fmt.Sprintf("  [agent %s]", t.AgentID)
	}
	fmt.Println(line)
	if t.Result != "" {
		fmt.Printf("    result: %s\n", t.Result)
	}
	if t.Error != "" {
		fmt.Printf("    error: %s\n", t.Error)
	}
}

func printAgent(a agent) {
	line := fmt.Sprintf("  %s  %-8s %s", a.ID, a.Status, a.Type)
	if a.Name != "" {
		line += "  " + a.Name
	}
	line += fmt.Sprintf("  (completed %d, failed %d)", a.TasksCompleted, a.TasksFailed)
	if a.CurrentTask != "" {
		line += fmt.Sprintf("  [task %s]", a.CurrentTask)
	}
	fmt.Println(line)
}
