// Package loadbalance selects one agent from a candidate pool using a
// scoring strategy over externally reported load snapshots. It never infers
// load itself; whoever dispatches work is responsible for calling
// UpdateAgentLoad.
package loadbalance

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

type Strategy string

const (
	// RoundRobin rotates through the candidate pool. The cursor is keyed by
	// the pool's identity (hash of the sorted candidate ids), so unrelated
	// candidate sets rotate independently.
	RoundRobin Strategy = "round_robin"

	// LeastLoaded minimizes active tasks over capacity.
	LeastLoaded Strategy = "least_loaded"

	// Weighted minimizes a fixed composite of utilization, cpu/mem pressure
	// and success rate.
	Weighted Strategy = "weighted"

	// CapabilityBased currently delegates to LeastLoaded. Filtering by the
	// supplied requirements is an extension point, not yet implemented;
	// callers that need capability filtering do it before selection.
	CapabilityBased Strategy = "capability_based"
)

// Load is a per-agent snapshot refreshed by an external reporter.
// Utilization fields are in [0,1].
type Load struct {
	ActiveTasks     int           `json:"active_tasks"`
	Capacity        int           `json:"capacity"`
	CPU             float64       `json:"cpu"`
	Memory          float64       `json:"memory"`
	SuccessRate     float64       `json:"success_rate"`
	AvgTaskDuration time.Duration `json:"avg_task_duration"`
}

// utilization treats zero capacity as fully loaded.
func (l Load) utilization() float64 {
	if l.Capacity <= 0 {
		return 1.0
	}
	return float64(l.ActiveTasks) / float64(l.Capacity)
}

type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	loads    map[string]Load
	cursors  map[uint64]int
}

func New(strategy Strategy) *Balancer {
	return &Balancer{
		strategy: strategy,
		loads:    make(map[string]Load),
		cursors:  make(map[uint64]int),
	}
}

func (b *Balancer) Strategy() Strategy {
	return b.strategy
}

// UpdateAgentLoad replaces the snapshot for one agent.
func (b *Balancer) UpdateAgentLoad(agentID string, l Load) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads[agentID] = l
}

// RemoveAgent forgets an agent's snapshot.
func (b *Balancer) RemoveAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.loads, agentID)
}

// GetAgentLoad returns the current snapshot, if any.
func (b *Balancer) GetAgentLoad(agentID string) (Load, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.loads[agentID]
	return l, ok
}

// Select picks one agent from candidates, or "" when candidates is empty.
// Scored strategies skip agents with no recorded snapshot; when no candidate
// has one, the first candidate is returned verbatim as a fallback rather
// than a scoring decision.
func (b *Balancer) Select(candidates []string, requirements []string) string {
	if len(candidates) == 0 {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.strategy {
	case RoundRobin:
		return b.selectRoundRobin(candidates)
	case Weighted:
		return b.selectScored(candidates, func(l Load) float64 {
			return 0.4*l.utilization() + 0.3*((l.CPU+l.Memory)/2) - 0.3*l.SuccessRate
		})
	case LeastLoaded, CapabilityBased:
		return b.selectScored(candidates, Load.utilization)
	default:
		return b.selectScored(candidates, Load.utilization)
	}
}

func (b *Balancer) selectRoundRobin(candidates []string) string {
	key := poolKey(candidates)
	idx := b.cursors[key] % len(candidates)
	b.cursors[key]++
	return candidates[idx]
}

// selectScored minimizes score over candidates with snapshots; ties keep the
// earliest candidate in input order.
func (b *Balancer) selectScored(candidates []string, score func(Load) float64) string {
	best := ""
	bestScore := 0.0
	for _, id := range candidates {
		l, ok := b.loads[id]
		if !ok {
			continue
		}
		s := score(l)
		if best == "" || s < bestScore {
			best = id
			bestScore = s
		}
	}
	if best == "" {
		// No candidate has a snapshot.
		return candidates[0]
	}
	return best
}

// poolKey hashes the sorted candidate ids so the same pool gets the same
// rotation cursor regardless of input order.
func poolKey(candidates []string) uint64 {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
