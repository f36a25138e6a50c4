package agent

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anserhq/anser/graph"
)

// frontier orders one wave's ready tasks for dispatch: higher priority first,
// ties broken by ascending task ID so dispatch order is deterministic.
type frontier []*Task

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].Priority != f[j].Priority {
		return f[i].Priority > f[j].Priority
	}
	return f[i].ID < f[j].ID
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x interface{}) { *f = append(*f, x.(*Task)) }

func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// Scheduler executes task DAGs in dependency waves. It never panics or
// returns an error through its boundary; every failure is represented in the
// outcome's result map.
type Scheduler struct {
	registry      *Registry
	logger        *slog.Logger
	metrics       *Metrics
	maxConcurrent int // 0 = unbounded
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithConcurrency caps how many tasks of one wave run at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.maxConcurrent = n }
}

// WithLogger sets the scheduler's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler builds a scheduler dispatching through the given registry.
func NewScheduler(registry *Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is everything one scheduler run produced. Results maps task ID to
// the final attempt's result; interim failed attempts of a task that later
// succeeded are replaced.
type Outcome struct {
	Results          map[string]graph.NodeResult
	Board            *Blackboard
	Waves            int
	Stalled          bool // cycle, failed dependencies, or pathological input
	DeadlineExceeded bool
}

// Success reports whether every task completed.
func (o *Outcome) Success() bool {
	if o.Stalled || o.DeadlineExceeded {
		return false
	}
	for _, r := range o.Results {
		if !r.Success {
			return false
		}
	}
	return true
}

type waveOutcome struct {
	task *Task
	res  graph.NodeResult
}

// Run executes the DAG until every task completes, no task can make
// progress, or ctx expires. Failed tasks with retries left re-enter the ready
// set on the next wave; exhausted tasks stay failed and starve their
// dependents, which are reported blocked.
func (s *Scheduler) Run(ctx context.Context, tasks []*Task) *Outcome {
	board := NewBlackboard()
	out := &Outcome{
		Results: make(map[string]graph.NodeResult, len(tasks)),
		Board:   board,
	}

	pending := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = StatusIdle
		}
		pending[t.ID] = t
	}
	completed := make(map[string]bool, len(tasks))

	for len(pending) > 0 {
		if ctx.Err() != nil {
			out.DeadlineExceeded = true
			break
		}

		wave := make(frontier, 0, len(pending))
		for _, t := range pending {
			if t.ready(completed) {
				wave = append(wave, t)
			}
		}
		if len(wave) == 0 {
			for _, t := range pending {
				if t.Status != StatusFailed {
					t.setStatus(StatusBlocked)
				}
			}
			s.logger.Warn("scheduler stalled: deadlock, cycle, or failed dependencies",
				"pending", len(pending), "completed", len(completed))
			s.metrics.countStall()
			out.Stalled = true
			break
		}

		out.Waves++
		s.metrics.countWave()
		s.logger.Debug("dispatching wave", "wave", out.Waves, "tasks", len(wave))

		heap.Init(&wave)
		outcomes := make(chan waveOutcome, len(wave))
		g := new(errgroup.Group)
		if s.maxConcurrent > 0 {
			g.SetLimit(s.maxConcurrent)
		}
		for wave.Len() > 0 {
			t := heap.Pop(&wave).(*Task)
			t.setStatus(StatusWorking)
			g.Go(func() error {
				res := s.runTask(ctx, t, board)
				outcomes <- waveOutcome{task: t, res: res}
				return nil
			})
		}
		g.Wait() // wave barrier
		close(outcomes)

		expired := ctx.Err() != nil
		for wo := range outcomes {
			t, res := wo.task, wo.res
			result := res
			t.Result = &result
			out.Results[t.ID] = res

			switch {
			case res.Success:
				t.setStatus(StatusCompleted)
				completed[t.ID] = true
				board.set(t.ID, res.Data)
				delete(pending, t.ID)
				s.metrics.countTask(t.Agent, "success", res.ExecutionTime)
			case expired:
				t.setStatus(StatusFailed)
				s.metrics.countTask(t.Agent, "canceled", res.ExecutionTime)
			case res.Recoverable && t.RetryCount < t.MaxRetries:
				t.RetryCount++
				t.setStatus(StatusWaiting)
				s.metrics.countRetry(t.Agent)
				s.metrics.countTask(t.Agent, "retry", res.ExecutionTime)
				s.logger.Info("task will retry", "task", t.ID, "attempt", t.RetryCount+1, "error", res.Error)
			default:
				t.setStatus(StatusFailed)
				s.metrics.countTask(t.Agent, "failure", res.ExecutionTime)
				s.logger.Warn("task failed", "task", t.ID, "kind", t.Agent, "error", res.Error)
			}
		}
		if expired {
			out.DeadlineExceeded = true
			break
		}
	}
	return out
}

// runTask executes one attempt. Panics become failed results.
func (s *Scheduler) runTask(ctx context.Context, t *Task, board *Blackboard) (res graph.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent panic recovered", "task", t.ID, "kind", t.Agent, "panic", r)
			res = graph.Failed(fmt.Sprintf("internal error in agent %s: %v", t.Agent, r), true)
		}
	}()

	if err := ctx.Err(); err != nil {
		return graph.Failed("canceled: "+err.Error(), false)
	}
	fn, ok := s.registry.Lookup(t.Agent)
	if !ok {
		return graph.Failed(fmt.Sprintf("no agent registered for kind %q", t.Agent), false)
	}

	taskCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	res = fn(taskCtx, t, board)
	if res.ExecutionTime == 0 {
		res.ExecutionTime = time.Since(start).Seconds()
	}
	return res
}
