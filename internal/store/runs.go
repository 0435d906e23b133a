package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CollabRun is the persisted record of one collaboration protocol invocation.
type CollabRun struct {
	ID          string          `json:"id"`
	Protocol    string          `json:"protocol"`
	Task        string          `json:"task"`
	Agents      json.RawMessage `json:"agents"`
	Status      string          `json:"status"`
	Output      string          `json:"output,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, protocol, task, agents, status, output, outputs, metadata, duration_ms, started_at, completed_at`

func (s *Store) SaveCollabRun(r *CollabRun) error {
	_, err := s.db.Exec(`
		INSERT INTO collab_runs (id, protocol, task, agents, status, output, outputs, metadata, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			outputs = excluded.outputs,
			metadata = excluded.metadata,
			duration_ms = excluded.duration_ms,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Protocol, r.Task, r.Agents, r.Status, r.Output, r.Outputs, r.Metadata, r.DurationMs)
	if err != nil {
		return fmt.Errorf("save collab run: %w", err)
	}
	return nil
}

func scanCollabRun(scanner interface {
	Scan(dest ...any) error
}) (*CollabRun, error) {
	r := &CollabRun{}
	var output sql.NullString
	var outputs, metadata *string
	err := scanner.Scan(&r.ID, &r.Protocol, &r.Task, &r.Agents, &r.Status,
		&output, &outputs, &metadata, &r.DurationMs, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Output = output.String
	if outputs != nil {
		r.Outputs = json.RawMessage(*outputs)
	}
	if metadata != nil {
		r.Metadata = json.RawMessage(*metadata)
	}
	return r, nil
}

func (s *Store) GetCollabRun(id string) (*CollabRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM collab_runs WHERE id = ?`, id)
	r, err := scanCollabRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collab run: %w", err)
	}
	return r, nil
}

func (s *Store) ListCollabRuns(protocol string) ([]CollabRun, error) {
	query := `SELECT ` + runColumns + ` FROM collab_runs ORDER BY started_at DESC`
	args := []any{}
	if protocol != "" {
		query = `SELECT ` + runColumns + ` FROM collab_runs WHERE protocol = ? ORDER BY started_at DESC`
		args = append(args, protocol)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list collab runs: %w", err)
	}
	defer rows.Close()

	var runs []CollabRun
	for rows.Next() {
		r, err := scanCollabRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collab run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteCollabRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM collab_runs WHERE id = ?`, id)
	return err
}
