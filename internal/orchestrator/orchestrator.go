// Package orchestrator owns the agent and task registries and runs the
// dependency-aware worker pool that dispatches tasks to execution backends.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/pliakos/crewd/internal/config"
	"github.com/pliakos/crewd/internal/executor"
	"github.com/pliakos/crewd/internal/loadbalance"
	"github.com/pliakos/crewd/internal/natsbus"
	"github.com/pliakos/crewd/internal/store"
	"github.com/pliakos/crewd/internal/vault"
)

type Orchestrator struct {
	exec   executor.Executor
	store  *store.Store
	client *natsbus.Client
	lb     *loadbalance.Balancer
	vault  *vault.Vault
	cfg    config.OrchestratorConfig

	mu      sync.Mutex
	agents  map[string]*Agent
	tasks   map[string]*Task
	pending *pendingQueue
	nextSeq uint64

	// wake nudges sleeping workers after a submission or a completion
	// that may have unblocked dependents.
	wake chan struct{}

	wg     sync.WaitGroup
	ipcSub *nats.Subscription
}

// New builds an orchestrator. store, client and vault may be nil; persistence,
// events and credential storage degrade to no-ops.
func New(exec executor.Executor, s *store.Store, client *natsbus.Client, lb *loadbalance.Balancer, v *vault.Vault, cfg config.OrchestratorConfig) *Orchestrator {
	if lb == nil {
		lb = loadbalance.New(loadbalance.LeastLoaded)
	}
	return &Orchestrator{
		exec:    exec,
		store:   s,
		client:  client,
		lb:      lb,
		vault:   v,
		cfg:     cfg,
		agents:  make(map[string]*Agent),
		tasks:   make(map[string]*Task),
		pending: newPendingQueue(),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker pool and, when a bus client is present, the IPC
// handler. It returns immediately; workers stop when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	slog.Info("orchestrator started", "workers", workers)

	if o.client != nil {
		sub, err := o.client.Subscribe(natsbus.TopicIPC, func(msg *nats.Msg) {
			o.handleIPC(msg)
		})
		if err != nil {
			slog.Error("ipc subscribe failed", "error", err)
		} else {
			o.ipcSub = sub
		}
	}
}

// Wait blocks until every worker has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	if o.ipcSub != nil {
		_ = o.ipcSub.Unsubscribe()
	}
}

// RegisterAgent adds an idle agent to the pool. An empty spec id gets a
// generated one. The credential, if any, is encrypted and persisted but only
// ever handed out in plaintext to the execution backend.
func (o *Orchestrator) RegisterAgent(spec AgentSpec) (*Agent, error) {
	if spec.Type == "" {
		return nil, fmt.Errorf("agent type is required: %w", ErrValidation)
	}

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.agents[id]; ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrDuplicateID)
	}

	now := time.Now().UTC()
	a := &Agent{
		ID:           id,
		Type:         spec.Type,
		Name:         spec.Name,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Status:       AgentIdle,
		CreatedAt:    now,
		LastActive:   now,
		credential:   spec.Credential,
	}
	o.agents[id] = a

	o.reportLoadLocked(a)
	o.persistAgentLocked(a)
	o.saveCredential(id, spec.Credential)
	o.publishAgentEvent(a, "agent_registered")
	slog.Info("agent registered", "agent", id, "type", a.Type)

	snapshot := *a
	return &snapshot, nil
}

// UnregisterAgent removes an agent. A task the agent was running, and any
// pending task pinned to it, fails with "agent unregistered" rather than
// silently vanishing.
func (o *Orchestrator) UnregisterAgent(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}

	if a.CurrentTask != "" {
		if t, ok := o.tasks[a.CurrentTask]; ok && t.Status == TaskRunning {
			o.failTaskLocked(t, "agent unregistered")
		}
	}
	for _, t := range o.tasks {
		if t.Status == TaskIdle && t.AgentID == id {
			o.pending.remove(t.ID)
			o.failTaskLocked(t, "agent unregistered")
		}
	}

	delete(o.agents, id)
	o.lb.RemoveAgent(id)
	if o.store != nil {
		_ = o.store.DeleteAgent(id)
		_ = o.store.DeleteSecret(id)
	}
	o.publishAgentEvent(a, "agent_unregistered")
	slog.Info("agent unregistered", "agent", id)
	return nil
}

// PauseAgent takes an idle agent out of scheduling. Pausing a busy agent is
// rejected; there is no preemption.
func (o *Orchestrator) PauseAgent(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if a.Status != AgentIdle {
		return fmt.Errorf("agent %s is %s, not idle: %w", id, a.Status, ErrValidation)
	}
	a.Status = AgentPaused
	o.persistAgentLocked(a)
	o.publishAgentEvent(a, "agent_paused")
	return nil
}

// ResumeAgent returns a paused agent to the idle pool.
func (o *Orchestrator) ResumeAgent(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if a.Status != AgentPaused {
		return fmt.Errorf("agent %s is %s, not paused: %w", id, a.Status, ErrValidation)
	}
	a.Status = AgentIdle
	o.persistAgentLocked(a)
	o.publishAgentEvent(a, "agent_resumed")
	o.signal()
	return nil
}

// SubmitTask queues a task. Dependencies are ids of other tasks; the task is
// dispatched only after every one of them completes. An unknown dependency id
// keeps the task queued forever rather than guessing.
func (o *Orchestrator) SubmitTask(spec TaskSpec) (*Task, error) {
	if spec.Description == "" {
		return nil, fmt.Errorf("task description is required: %w", ErrValidation)
	}

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.tasks[id]; ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrDuplicateID)
	}

	o.nextSeq++
	t := &Task{
		ID:           id,
		AgentID:      spec.AgentID,
		Description:  spec.Description,
		Priority:     spec.Priority,
		Dependencies: append([]string(nil), spec.Dependencies...),
		Requirements: append([]string(nil), spec.Requirements...),
		Metadata:     spec.Metadata,
		Status:       TaskIdle,
		CreatedAt:    time.Now().UTC(),
		seq:          o.nextSeq,
	}
	o.tasks[id] = t
	o.pending.push(t)

	o.persistTaskLocked(t)
	o.publishTaskEvent(t, "task_submitted")
	slog.Info("task submitted", "task", id, "priority", t.Priority, "deps", len(t.Dependencies))
	o.signal()

	snapshot := *t
	return &snapshot, nil
}

// GetAgent returns a snapshot of one agent.
func (o *Orchestrator) GetAgent(id string) (*Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	snapshot := *a
	return &snapshot, nil
}

// GetTask returns a snapshot of one task.
func (o *Orchestrator) GetTask(id string) (*Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	snapshot := *t
	return &snapshot, nil
}

// ListAgents returns snapshots of every agent in registration order.
func (o *Orchestrator) ListAgents() []Agent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Agent, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListTasks returns snapshots of tasks in submission order, optionally
// filtered by status ("" means all).
func (o *Orchestrator) ListTasks(status TaskStatus) []Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// QueueDepth reports how many tasks are waiting for dispatch.
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending.Len()
}

func (o *Orchestrator) worker(ctx context.Context, n int) {
	defer o.wg.Done()

	backoff := o.cfg.PollBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		task, agent := o.dispatchOnce()
		if task != nil {
			o.run(ctx, task, agent)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(backoff)

		select {
		case <-ctx.Done():
			slog.Debug("worker stopping", "worker", n)
			return
		case <-o.wake:
		case <-timer.C:
		}
	}
}

// dispatchOnce pops the highest-priority ready task that has an available
// agent and binds the two. The pop, the dependency check and the agent bind
// happen under one lock so two workers can never claim the same task or the
// same agent. Skipped tasks are re-queued afterwards.
func (o *Orchestrator) dispatchOnce() (*Task, *Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var stash []*Task
	defer func() {
		for _, t := range stash {
			o.pending.push(t)
		}
	}()

	for {
		t := o.pending.pop()
		if t == nil {
			return nil, nil
		}

		if !o.readyLocked(t) {
			stash = append(stash, t)
			continue
		}

		a := o.pickAgentLocked(t)
		if a == nil {
			stash = append(stash, t)
			continue
		}

		now := time.Now().UTC()
		t.Status = TaskRunning
		t.AgentID = a.ID
		t.StartedAt = &now
		a.Status = AgentRunning
		a.CurrentTask = t.ID
		a.LastActive = now

		o.reportLoadLocked(a)
		o.persistTaskLocked(t)
		o.persistAgentLocked(a)
		o.publishTaskEvent(t, "task_started")
		slog.Info("task dispatched", "task", t.ID, "agent", a.ID)

		snapshot := *t
		agent := *a
		return &snapshot, &agent
	}
}

// readyLocked reports whether every dependency names a known, completed task.
func (o *Orchestrator) readyLocked(t *Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := o.tasks[dep]
		if !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// pickAgentLocked resolves the agent for a task: the pinned one when the task
// names an agent id, otherwise the balancer's pick among idle agents whose
// capabilities cover the task's requirements.
func (o *Orchestrator) pickAgentLocked(t *Task) *Agent {
	if t.AgentID != "" {
		a, ok := o.agents[t.AgentID]
		if !ok || a.Status != AgentIdle {
			return nil
		}
		return a
	}

	var candidates []string
	for id, a := range o.agents {
		if a.Status != AgentIdle {
			continue
		}
		if !covers(a.Capabilities, t.Requirements) {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	picked := o.lb.Select(candidates, t.Requirements)
	if picked == "" {
		return nil
	}
	return o.agents[picked]
}

func covers(capabilities, requirements []string) bool {
	for _, req := range requirements {
		found := false
		for _, c := range capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// run executes a dispatched task outside the lock. A panicking backend fails
// the task but never kills the worker.
func (o *Orchestrator) run(ctx context.Context, t *Task, a *Agent) {
	start := time.Now()

	var output string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("execution panic: %v", r)
				slog.Error("executor panicked", "task", t.ID, "agent", a.ID, "panic", r)
			}
		}()
		output, err = o.exec.Execute(ctx, a.ID, executor.Input{
			TaskID:       t.ID,
			Description:  t.Description,
			Requirements: t.Requirements,
			Metadata:     executionMetadata(t, a),
		})
	}()

	o.complete(t.ID, a.ID, output, err, time.Since(start))
}

// executionMetadata merges the task metadata with the agent's credential for
// the backend call. The task's own metadata map is never mutated.
func executionMetadata(t *Task, a *Agent) map[string]string {
	if a.credential == "" {
		return t.Metadata
	}
	meta := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		meta[k] = v
	}
	meta["credential"] = a.credential
	return meta
}

// complete records the outcome of an execution and returns the agent to the
// idle pool. The task may already be failed if its agent unregistered
// mid-flight; in that case the recorded failure wins.
func (o *Orchestrator) complete(taskID, agentID, output string, execErr error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()

	t, ok := o.tasks[taskID]
	if ok && t.Status == TaskRunning {
		if execErr != nil {
			t.Status = TaskError
			t.Error = execErr.Error()
		} else {
			t.Status = TaskCompleted
			t.Result = output
		}
		t.CompletedAt = &now
		o.persistTaskLocked(t)
		if execErr != nil {
			o.publishTaskEvent(t, "task_failed")
			slog.Warn("task failed", "task", taskID, "agent", agentID, "error", execErr)
		} else {
			o.publishTaskEvent(t, "task_completed")
			slog.Info("task completed", "task", taskID, "agent", agentID, "elapsed", elapsed)
		}
	}

	a, ok := o.agents[agentID]
	if ok && a.CurrentTask == taskID {
		a.Status = AgentIdle
		a.CurrentTask = ""
		a.LastActive = now
		a.totalBusy += elapsed
		if execErr != nil {
			a.TasksFailed++
		} else {
			a.TasksCompleted++
		}
		o.reportLoadLocked(a)
		o.persistAgentLocked(a)
	}

	// A completion may unblock dependents; also frees an agent.
	o.signal()
}

// failTaskLocked fails a task administratively (no execution outcome).
func (o *Orchestrator) failTaskLocked(t *Task, reason string) {
	now := time.Now().UTC()
	t.Status = TaskError
	t.Error = reason
	t.CompletedAt = &now
	o.persistTaskLocked(t)
	o.publishTaskEvent(t, "task_failed")
}

// reportLoadLocked refreshes the balancer snapshot for one agent. Each agent
// runs at most one task, so capacity is fixed at 1.
func (o *Orchestrator) reportLoadLocked(a *Agent) {
	active := 0
	if a.Status == AgentRunning {
		active = 1
	}
	total := a.TasksCompleted + a.TasksFailed
	success := 1.0
	var avg time.Duration
	if total > 0 {
		success = float64(a.TasksCompleted) / float64(total)
		avg = a.totalBusy / time.Duration(total)
	}
	o.lb.UpdateAgentLoad(a.ID, loadbalance.Load{
		ActiveTasks:     active,
		Capacity:        1,
		SuccessRate:     success,
		AvgTaskDuration: avg,
	})
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) persistAgentLocked(a *Agent) {
	if o.store == nil {
		return
	}
	last := a.LastActive
	_ = o.store.SaveAgent(&store.Agent{
		ID:             a.ID,
		Type:           a.Type,
		Name:           a.Name,
		Capabilities:   a.Capabilities,
		Status:         string(a.Status),
		CurrentTask:    a.CurrentTask,
		TasksCompleted: a.TasksCompleted,
		TasksFailed:    a.TasksFailed,
		LastActive:     &last,
	})
}

func (o *Orchestrator) persistTaskLocked(t *Task) {
	if o.store == nil {
		return
	}
	_ = o.store.SaveTask(&store.Task{
		ID:           t.ID,
		AgentID:      t.AgentID,
		Description:  t.Description,
		Priority:     t.Priority,
		Dependencies: t.Dependencies,
		Requirements: t.Requirements,
		Status:       string(t.Status),
		Result:       t.Result,
		Error:        t.Error,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	})
}

func (o *Orchestrator) saveCredential(agentID, credential string) {
	if credential == "" || o.vault == nil || o.store == nil {
		return
	}
	value, nonce, err := o.vault.Encrypt([]byte(credential))
	if err != nil {
		slog.Error("credential encrypt failed", "agent", agentID, "error", err)
		return
	}
	_ = o.store.SaveSecret(&store.Secret{AgentID: agentID, Value: value, Nonce: nonce})
}
