// Package tasks runs processing and indexing jobs in the background. Each
// submission gets a task id clients can poll, failed runs are retried with a
// fixed backoff, and tasks of the same project execute one at a time so
// concurrent submissions cannot interleave writes.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/54b3r/ragd-go/internal/llm"
	"github.com/54b3r/ragd-go/internal/vectordb"
)

// Retry defaults, applied when Config fields are zero.
const (
	// DefaultMaxRetries is how many times a failed task is retried after
	// the initial attempt.
	DefaultMaxRetries = 3

	// DefaultRetryInterval is the fixed wait between attempts.
	DefaultRetryInterval = 60 * time.Second
)

// State is the lifecycle state of a task.
type State string

const (
	// StatePending means the task is queued but has not started.
	StatePending State = "PENDING"
	// StateRunning means an attempt is in flight.
	StateRunning State = "RUNNING"
	// StateSuccess means the task completed.
	StateSuccess State = "SUCCESS"
	// StateFailure means the task failed all its attempts.
	StateFailure State = "FAILURE"
)

// Task is the pollable status of a submitted job.
type Task struct {
	// ID is the task identifier returned to the client.
	ID string `json:"id"`
	// Name labels what the task does, e.g. "process" or "index".
	Name string `json:"name"`
	// ProjectID is the external project the task belongs to.
	ProjectID int64 `json:"project_id"`
	// State is the current lifecycle state.
	State State `json:"state"`
	// Attempts counts runs so far, including the one in flight.
	Attempts int `json:"attempts"`
	// Error is the final error text of a failed task.
	Error string `json:"error,omitempty"`
	// Result is the payload of a successful task.
	Result any `json:"result,omitempty"`
	// SubmittedAt is when the task was accepted.
	SubmittedAt time.Time `json:"submitted_at"`
	// FinishedAt is when the task reached a terminal state.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Func is the work a task performs. The returned payload is exposed as the
// task result on success.
type Func func(ctx context.Context) (any, error)

// Config tunes a Runner.
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	// (default: 3).
	MaxRetries int

	// RetryInterval is the fixed wait between attempts (default: 60s).
	RetryInterval time.Duration

	// Logger is the structured logger. Nil selects slog.Default.
	Logger *slog.Logger
}

// Runner executes tasks in the background with retry and per-project
// serialization. Task statuses are kept in memory for the lifetime of the
// process.
type Runner struct {
	maxRetries    int
	retryInterval time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*Task
	projects map[int64]*sync.Mutex

	wg sync.WaitGroup
}

// NewRunner returns a Runner with the given config.
func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		maxRetries:    maxRetries,
		retryInterval: interval,
		log:           log,
		tasks:         map[string]*Task{},
		projects:      map[int64]*sync.Mutex{},
	}
}

// Submit queues fn and returns the task id immediately. The task runs in its
// own goroutine, serialized against other tasks of the same project.
func (r *Runner) Submit(ctx context.Context, name string, projectID int64, fn Func) string {
	task := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		ProjectID:   projectID,
		State:       StatePending,
		SubmittedAt: time.Now(),
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	lock, ok := r.projects[projectID]
	if !ok {
		lock = &sync.Mutex{}
		r.projects[projectID] = lock
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		r.run(ctx, task, fn)
	}()

	return task.ID
}

// isConfigErr reports whether err is a configuration problem that no amount
// of retrying can fix.
func isConfigErr(err error) bool {
	return errors.Is(err, llm.ErrModelNotConfigured) ||
		errors.Is(err, vectordb.ErrMismatchedBatch)
}

// run drives a single task through its attempts.
func (r *Runner) run(ctx context.Context, task *Task, fn Func) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), uint64(r.maxRetries)),
		ctx,
	)

	var result any
	err := backoff.Retry(func() error {
		r.mu.Lock()
		task.State = StateRunning
		task.Attempts++
		attempt := task.Attempts
		r.mu.Unlock()

		out, err := fn(ctx)
		if err != nil {
			r.log.Warn("tasks: attempt failed",
				slog.String("task_id", task.ID),
				slog.String("name", task.Name),
				slog.Int64("project_id", task.ProjectID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			// Configuration problems fail the same way on every attempt;
			// retrying them only delays the FAILURE status.
			if isConfigErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}, policy)

	r.mu.Lock()
	defer r.mu.Unlock()
	task.FinishedAt = time.Now()
	if err != nil {
		task.State = StateFailure
		task.Error = err.Error()
		return
	}
	task.State = StateSuccess
	task.Result = result
}

// Get returns a snapshot of the task with the given id.
func (r *Runner) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Wait blocks until all submitted tasks have finished. Used on shutdown and
// in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}
