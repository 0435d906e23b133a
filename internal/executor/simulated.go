package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HandlerFunc produces an agent's output for one input.
type HandlerFunc func(ctx context.Context, agentID string, in Input) (string, error)

// Simulated is an in-process backend. A bare gateway runs on it, and tests
// script agent behavior through per-agent handlers.
type Simulated struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc
	delay    time.Duration
}

func NewSimulated() *Simulated {
	return &Simulated{
		handlers: make(map[string]HandlerFunc),
		fallback: func(_ context.Context, agentID string, in Input) (string, error) {
			return fmt.Sprintf("[%s] %s", agentID, in.Description), nil
		},
	}
}

// Handle scripts the behavior of one agent. Later calls replace earlier ones.
func (s *Simulated) Handle(agentID string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[agentID] = fn
}

// SetDefault replaces the fallback behavior for agents without a handler.
func (s *Simulated) SetDefault(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
}

// SetDelay makes every execution take at least d, for exercising timeouts.
func (s *Simulated) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Simulated) Execute(ctx context.Context, agentID string, in Input) (string, error) {
	s.mu.RLock()
	fn, ok := s.handlers[agentID]
	if !ok {
		fn = s.fallback
	}
	delay := s.delay
	s.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &Error{AgentID: agentID, Timeout: true, Err: ctx.Err()}
		}
	}

	out, err := fn(ctx, agentID, in)
	if err != nil {
		return "", &Error{AgentID: agentID, Err: err}
	}
	return out, nil
}
