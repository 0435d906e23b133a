package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Secret holds one encrypted backend credential per agent. Value and Nonce
// come from the vault; the store never sees plaintext.
type Secret struct {
	AgentID   string    `json:"agent_id"`
	Value     []byte    `json:"-"`
	Nonce     []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveSecret(sec *Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (agent_id, value, nonce)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			value = excluded.value,
			nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP`,
		sec.AgentID, sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(agentID string) (*Secret, error) {
	sec := &Secret{}
	err := s.db.QueryRow(`
		SELECT agent_id, value, nonce, created_at, updated_at
		FROM secrets WHERE agent_id = ?`, agentID).
		Scan(&sec.AgentID, &sec.Value, &sec.Nonce, &sec.CreatedAt, &sec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

func (s *Store) DeleteSecret(agentID string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE agent_id = ?`, agentID)
	return err
}
