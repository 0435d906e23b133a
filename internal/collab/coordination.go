package collab

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pliakos/crewd/internal/natsbus"
)

// Coordination is how swarm participants share progress. Two strategies
// implement it: an append-only shared log every agent can read (blackboard)
// and point-to-point mailboxes (message passing). Swarm logic is
// strategy-agnostic and only calls through this interface.
type Coordination interface {
	// Post appends one note. To is empty for broadcast-style strategies.
	Post(note Note)
	// Notes returns an ordered snapshot of everything posted so far.
	Notes() []Note
	Strategy() string
}

// Note is one coordination entry: an agent claiming, completing or failing a
// subtask.
type Note struct {
	Seq     int       `json:"seq"`
	AgentID string    `json:"agent_id"`
	To      string    `json:"to,omitempty"`
	Subtask string    `json:"subtask"`
	Kind    string    `json:"kind"` // claimed, completed, failed
	Content string    `json:"content,omitempty"`
	At      time.Time `json:"at"`
}

const (
	CoordinationBlackboard     = "blackboard"
	CoordinationMessagePassing = "message_passing"
)

// newCoordination builds the coordinator for a run. An unrecognized strategy
// falls back to the blackboard.
func newCoordination(strategy, runID string, rt *Runtime) Coordination {
	if strategy == CoordinationMessagePassing {
		return &mailbox{runID: runID, rt: rt}
	}
	return &blackboard{}
}

// blackboard is the in-memory append-only shared log.
type blackboard struct {
	mu    sync.Mutex
	notes []Note
}

func (b *blackboard) Post(note Note) {
	b.mu.Lock()
	defer b.mu.Unlock()
	note.Seq = len(b.notes)
	note.At = time.Now().UTC()
	b.notes = append(b.notes, note)
}

func (b *blackboard) Notes() []Note {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Note(nil), b.notes...)
}

func (b *blackboard) Strategy() string { return CoordinationBlackboard }

// mailbox delivers notes point-to-point over the bus, one subject per
// recipient, while keeping a local ordered copy so convergence accounting
// works the same as on the blackboard. Without a bus client it degrades to a
// local-only mailbox.
type mailbox struct {
	runID string
	rt    *Runtime

	mu    sync.Mutex
	notes []Note
}

func (m *mailbox) Post(note Note) {
	m.mu.Lock()
	note.Seq = len(m.notes)
	note.At = time.Now().UTC()
	m.notes = append(m.notes, note)
	m.mu.Unlock()

	if m.rt.Client == nil || note.To == "" {
		return
	}
	data, err := json.Marshal(note)
	if err != nil {
		return
	}
	_ = m.rt.Client.Publish(natsbus.TopicCollabMail(m.runID, note.To), data)
}

func (m *mailbox) Notes() []Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Note(nil), m.notes...)
}

func (m *mailbox) Strategy() string { return CoordinationMessagePassing }
