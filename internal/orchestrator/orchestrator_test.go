package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pliakos/crewd/internal/config"
	"github.com/pliakos/crewd/internal/executor"
	"github.com/pliakos/crewd/internal/loadbalance"
)

func newTestOrchestrator(sim *executor.Simulated, workers int) *Orchestrator {
	return New(sim, nil, nil, loadbalance.New(loadbalance.LeastLoaded), nil, config.OrchestratorConfig{
		Workers:     workers,
		PollBackoff: 5 * time.Millisecond,
	})
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegisterAgentDefaultsAndDuplicates(t *testing.T) {
	o := newTestOrchestrator(executor.NewSimulated(), 1)

	a, err := o.RegisterAgent(AgentSpec{Type: "worker"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" {
		t.Error("expected generated id")
	}
	if a.Status != AgentIdle {
		t.Errorf("expected idle, got %s", a.Status)
	}

	if _, err := o.RegisterAgent(AgentSpec{ID: a.ID, Type: "worker"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := o.RegisterAgent(AgentSpec{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing type, got %v", err)
	}
}

func TestPauseResumeRequiresState(t *testing.T) {
	o := newTestOrchestrator(executor.NewSimulated(), 1)
	a, _ := o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})

	if err := o.ResumeAgent(a.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("resuming an idle agent must fail validation, got %v", err)
	}
	if err := o.PauseAgent(a.ID); err != nil {
		t.Fatal(err)
	}
	if err := o.PauseAgent(a.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("pausing a paused agent must fail validation, got %v", err)
	}
	if err := o.ResumeAgent(a.ID); err != nil {
		t.Fatal(err)
	}
	if err := o.PauseAgent("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	o := newTestOrchestrator(executor.NewSimulated(), 1)

	if _, err := o.SubmitTask(TaskSpec{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty description, got %v", err)
	}
	if _, err := o.SubmitTask(TaskSpec{ID: "t1", Description: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.SubmitTask(TaskSpec{ID: "t1", Description: "y"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestDispatchAndComplete(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)

	task, err := o.SubmitTask(TaskSpec{ID: "t1", Description: "do the thing"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskIdle {
		t.Errorf("expected submitted task idle, got %s", task.Status)
	}

	waitFor(t, func() bool {
		got, _ := o.GetTask("t1")
		return got != nil && got.Status == TaskCompleted
	})

	got, _ := o.GetTask("t1")
	if got.Result != "[a1] do the thing" {
		t.Errorf("unexpected result %q", got.Result)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}

	// Invariant: once the task is done the agent is idle with no current task.
	waitFor(t, func() bool {
		a, _ := o.GetAgent("a1")
		return a.Status == AgentIdle && a.CurrentTask == ""
	})
	a, _ := o.GetAgent("a1")
	if a.TasksCompleted != 1 || a.TasksFailed != 0 {
		t.Errorf("unexpected counters completed=%d failed=%d", a.TasksCompleted, a.TasksFailed)
	}
}

func TestExecutionFailureRecorded(t *testing.T) {
	sim := executor.NewSimulated()
	sim.Handle("a1", func(_ context.Context, _ string, _ executor.Input) (string, error) {
		return "", errors.New("backend exploded")
	})
	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "boom"})

	waitFor(t, func() bool {
		got, _ := o.GetTask("t1")
		return got != nil && got.Status == TaskError
	})

	got, _ := o.GetTask("t1")
	if got.Error == "" {
		t.Error("expected error message recorded on task")
	}

	// The failure lands on the task and the agent's counters; the agent
	// itself returns to the pool.
	waitFor(t, func() bool {
		a, _ := o.GetAgent("a1")
		return a.Status == AgentIdle
	})
	a, _ := o.GetAgent("a1")
	if a.TasksFailed != 1 {
		t.Errorf("expected 1 failed, got %d", a.TasksFailed)
	}
}

func TestPanickingExecutorFailsTaskNotWorker(t *testing.T) {
	sim := executor.NewSimulated()
	sim.Handle("a1", func(_ context.Context, _ string, in executor.Input) (string, error) {
		if in.TaskID == "t1" {
			panic("handler bug")
		}
		return "ok", nil
	})
	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "will panic"})
	o.SubmitTask(TaskSpec{ID: "t2", Description: "runs after"})

	// The worker must survive the panic and still run t2.
	waitFor(t, func() bool {
		t1, _ := o.GetTask("t1")
		t2, _ := o.GetTask("t2")
		return t1 != nil && t1.Status == TaskError && t2 != nil && t2.Status == TaskCompleted
	})
}

func TestDependencyOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string

	sim := executor.NewSimulated()
	sim.SetDefault(func(_ context.Context, _ string, in executor.Input) (string, error) {
		mu.Lock()
		order = append(order, in.TaskID)
		mu.Unlock()
		return "ok", nil
	})

	o := newTestOrchestrator(sim, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 4; i++ {
		o.RegisterAgent(AgentSpec{ID: fmt.Sprintf("a%d", i), Type: "worker"})
	}
	o.Start(ctx)

	// t2 depends on t1 despite a higher priority; t3 depends on both.
	o.SubmitTask(TaskSpec{ID: "t1", Description: "first", Priority: 1})
	o.SubmitTask(TaskSpec{ID: "t2", Description: "second", Priority: 9, Dependencies: []string{"t1"}})
	o.SubmitTask(TaskSpec{ID: "t3", Description: "third", Dependencies: []string{"t1", "t2"}})

	waitFor(t, func() bool {
		got, _ := o.GetTask("t3")
		return got != nil && got.Status == TaskCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["t1"] < pos["t2"] && pos["t2"] < pos["t3"]) {
		t.Errorf("dependency order violated: %v", order)
	}
}

func TestUnknownDependencyNeverDispatched(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "blocked", Dependencies: []string{"ghost"}})

	time.Sleep(50 * time.Millisecond)

	got, _ := o.GetTask("t1")
	if got.Status != TaskIdle {
		t.Errorf("task with unknown dependency must stay idle, got %s", got.Status)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected 1 queued task, got %d", o.QueueDepth())
	}
}

func TestBlockedHeadDoesNotStarveQueue(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)

	// The high-priority head can never run; the lower one must still run.
	o.SubmitTask(TaskSpec{ID: "stuck", Description: "stuck", Priority: 9, Dependencies: []string{"ghost"}})
	o.SubmitTask(TaskSpec{ID: "runnable", Description: "runs", Priority: 1})

	waitFor(t, func() bool {
		got, _ := o.GetTask("runnable")
		return got != nil && got.Status == TaskCompleted
	})
}

func TestPinnedAgent(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.RegisterAgent(AgentSpec{ID: "a2", Type: "worker"})
	o.Start(ctx)

	o.SubmitTask(TaskSpec{ID: "t1", Description: "pinned", AgentID: "a2"})

	waitFor(t, func() bool {
		got, _ := o.GetTask("t1")
		return got != nil && got.Status == TaskCompleted
	})
	got, _ := o.GetTask("t1")
	if got.AgentID != "a2" {
		t.Errorf("expected execution on a2, got %s", got.AgentID)
	}
}

func TestCapabilityFiltering(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "plain", Type: "worker"})
	o.RegisterAgent(AgentSpec{ID: "golang", Type: "worker", Capabilities: []string{"go", "review"}})
	o.Start(ctx)

	o.SubmitTask(TaskSpec{ID: "t1", Description: "needs go", Requirements: []string{"go"}})

	waitFor(t, func() bool {
		got, _ := o.GetTask("t1")
		return got != nil && got.Status == TaskCompleted
	})
	got, _ := o.GetTask("t1")
	if got.AgentID != "golang" {
		t.Errorf("expected capable agent, got %s", got.AgentID)
	}
}

func TestPausedAgentNotScheduled(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.PauseAgent("a1")
	o.Start(ctx)

	o.SubmitTask(TaskSpec{ID: "t1", Description: "waits"})
	time.Sleep(50 * time.Millisecond)

	got, _ := o.GetTask("t1")
	if got.Status != TaskIdle {
		t.Fatalf("paused agent must not pick up work, got %s", got.Status)
	}

	o.ResumeAgent("a1")
	waitFor(t, func() bool {
		got, _ := o.GetTask("t1")
		return got.Status == TaskCompleted
	})
}

func TestUnregisterRunningAgentFailsTask(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	sim := executor.NewSimulated()
	sim.Handle("a1", func(ctx context.Context, _ string, _ executor.Input) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "late", nil
	})

	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.Start(ctx)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "long"})

	<-started
	if err := o.UnregisterAgent("a1"); err != nil {
		t.Fatal(err)
	}

	got, _ := o.GetTask("t1")
	if got.Status != TaskError || got.Error != "agent unregistered" {
		t.Fatalf("expected administrative failure, got %s %q", got.Status, got.Error)
	}
	if _, err := o.GetAgent("a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected agent gone, got %v", err)
	}

	// The late completion must not resurrect the failed task.
	close(release)
	time.Sleep(30 * time.Millisecond)
	got, _ = o.GetTask("t1")
	if got.Status != TaskError || got.Error != "agent unregistered" {
		t.Errorf("late completion overwrote failure: %s %q", got.Status, got.Error)
	}
}

func TestUnregisterFailsPendingPinnedTasks(t *testing.T) {
	sim := executor.NewSimulated()
	o := newTestOrchestrator(sim, 1)

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker"})
	o.SubmitTask(TaskSpec{ID: "t1", Description: "pinned", AgentID: "a1"})

	// Workers never started, so the task is still pending.
	if err := o.UnregisterAgent("a1"); err != nil {
		t.Fatal(err)
	}
	got, _ := o.GetTask("t1")
	if got.Status != TaskError || got.Error != "agent unregistered" {
		t.Errorf("expected pinned pending task failed, got %s %q", got.Status, got.Error)
	}
	if o.QueueDepth() != 0 {
		t.Errorf("expected empty queue, got %d", o.QueueDepth())
	}
}

func TestListTasksFilter(t *testing.T) {
	o := newTestOrchestrator(executor.NewSimulated(), 1)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "a"})
	o.SubmitTask(TaskSpec{ID: "t2", Description: "b"})

	all := o.ListTasks("")
	if len(all) != 2 || all[0].ID != "t1" || all[1].ID != "t2" {
		t.Errorf("unexpected list %v", all)
	}
	if got := o.ListTasks(TaskCompleted); len(got) != 0 {
		t.Errorf("expected no completed tasks, got %d", len(got))
	}
}

func TestCredentialReachesBackend(t *testing.T) {
	var got string
	var mu sync.Mutex

	sim := executor.NewSimulated()
	sim.Handle("a1", func(_ context.Context, _ string, in executor.Input) (string, error) {
		mu.Lock()
		got = in.Metadata["credential"]
		mu.Unlock()
		return "ok", nil
	})

	o := newTestOrchestrator(sim, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.RegisterAgent(AgentSpec{ID: "a1", Type: "worker", Credential: "tok-123"})
	o.Start(ctx)
	o.SubmitTask(TaskSpec{ID: "t1", Description: "secret work"})

	waitFor(t, func() bool {
		task, _ := o.GetTask("t1")
		return task != nil && task.Status == TaskCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	if got != "tok-123" {
		t.Errorf("expected credential handed to backend, got %q", got)
	}
}
