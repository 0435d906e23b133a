package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is the persisted snapshot of a registered agent.
type Agent struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Name           string     `json:"name"`
	Capabilities   []string   `json:"capabilities,omitempty"`
	Status         string     `json:"status"`
	CurrentTask    string     `json:"current_task,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActive     *time.Time `json:"last_active,omitempty"`
}

func (s *Store) SaveAgent(a *Agent) error {
	caps, _ := json.Marshal(a.Capabilities)
	_, err := s.db.Exec(`
		INSERT INTO agents (id, type, name, capabilities, status, current_task, tasks_completed, tasks_failed, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			capabilities = excluded.capabilities,
			status = excluded.status,
			current_task = excluded.current_task,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			last_active = excluded.last_active`,
		a.ID, a.Type, a.Name, string(caps), a.Status, a.CurrentTask,
		a.TasksCompleted, a.TasksFailed, a.LastActive)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*Agent, error) {
	a := &Agent{}
	var caps, currentTask sql.NullString
	err := scanner.Scan(&a.ID, &a.Type, &a.Name, &caps, &a.Status, &currentTask,
		&a.TasksCompleted, &a.TasksFailed, &a.CreatedAt, &a.LastActive)
	if err != nil {
		return nil, err
	}
	if caps.Valid && caps.String != "" {
		_ = json.Unmarshal([]byte(caps.String), &a.Capabilities)
	}
	a.CurrentTask = currentTask.String
	return a, nil
}

const agentColumns = `id, type, name, capabilities, status, current_task, tasks_completed, tasks_failed, created_at, last_active`

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgent(id string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	return err
}
