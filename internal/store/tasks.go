package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Task is the persisted snapshot of an orchestrated task.
type Task struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id,omitempty"`
	Description  string     `json:"description"`
	Priority     int        `json:"priority"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Requirements []string   `json:"requirements,omitempty"`
	Status       string     `json:"status"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) SaveTask(t *Task) error {
	deps, _ := json.Marshal(t.Dependencies)
	reqs, _ := json.Marshal(t.Requirements)
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, agent_id, description, priority, dependencies, requirements, status, result, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		t.ID, t.AgentID, t.Description, t.Priority, string(deps), string(reqs),
		t.Status, t.Result, t.Error, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func scanStoredTask(scanner interface {
	Scan(dest ...any) error
}) (*Task, error) {
	t := &Task{}
	var agentID, deps, reqs, result, taskErr sql.NullString
	err := scanner.Scan(&t.ID, &agentID, &t.Description, &t.Priority, &deps, &reqs,
		&t.Status, &result, &taskErr, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.AgentID = agentID.String
	t.Result = result.String
	t.Error = taskErr.String
	if deps.Valid && deps.String != "" {
		_ = json.Unmarshal([]byte(deps.String), &t.Dependencies)
	}
	if reqs.Valid && reqs.String != "" {
		_ = json.Unmarshal([]byte(reqs.String), &t.Requirements)
	}
	return t, nil
}

const taskColumns = `id, agent_id, description, priority, dependencies, requirements, status, result, error, created_at, started_at, completed_at`

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanStoredTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(status string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`
	args := []any{}
	if status != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at`
		args = append(args, status)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanStoredTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}
