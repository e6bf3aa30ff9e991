package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/ragd-go/internal/llm"
)

func testRunner() *Runner {
	return NewRunner(&Config{RetryInterval: time.Millisecond})
}

func TestSubmitReturnsImmediatelyAndSucceeds(t *testing.T) {
	t.Parallel()
	r := testRunner()

	id := r.Submit(context.Background(), "process", 1, func(context.Context) (any, error) {
		return map[string]int{"chunks": 7}, nil
	})
	if id == "" {
		t.Fatal("Submit returned an empty id")
	}
	r.Wait()

	task, ok := r.Get(id)
	if !ok {
		t.Fatal("task not found after completion")
	}
	if task.State != StateSuccess {
		t.Errorf("State = %q, want %q (error: %s)", task.State, StateSuccess, task.Error)
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}
	if task.Result == nil {
		t.Error("Result not recorded")
	}
	if task.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	r := testRunner()

	var mu sync.Mutex
	calls := 0
	id := r.Submit(context.Background(), "index", 1, func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	r.Wait()

	task, _ := r.Get(id)
	if task.State != StateSuccess {
		t.Errorf("State = %q, want success after retries", task.State)
	}
	if task.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", task.Attempts)
	}
}

func TestFailureAfterExhaustedRetries(t *testing.T) {
	t.Parallel()
	r := testRunner()

	var mu sync.Mutex
	calls := 0
	id := r.Submit(context.Background(), "index", 1, func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, errors.New("permanent damage")
	})
	r.Wait()

	task, _ := r.Get(id)
	if task.State != StateFailure {
		t.Errorf("State = %q, want %q", task.State, StateFailure)
	}
	// One initial attempt plus the configured retries.
	if task.Attempts != DefaultMaxRetries+1 {
		t.Errorf("Attempts = %d, want %d", task.Attempts, DefaultMaxRetries+1)
	}
	if task.Error == "" {
		t.Error("Error not recorded")
	}
}

func TestConfigurationErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	r := testRunner()

	var mu sync.Mutex
	calls := 0
	id := r.Submit(context.Background(), "index", 1, func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, fmt.Errorf("pipeline: answer: %w", llm.ErrModelNotConfigured)
	})
	r.Wait()

	task, _ := r.Get(id)
	if task.State != StateFailure {
		t.Errorf("State = %q, want %q", task.State, StateFailure)
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (configuration errors are fatal)", task.Attempts)
	}
	if !strings.Contains(task.Error, llm.ErrModelNotConfigured.Error()) {
		t.Errorf("Error = %q, want the configuration error preserved", task.Error)
	}
}

func TestSameProjectTasksDoNotOverlap(t *testing.T) {
	t.Parallel()
	r := testRunner()

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	work := func(context.Context) (any, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}

	for i := 0; i < 4; i++ {
		r.Submit(context.Background(), "process", 42, work)
	}
	r.Wait()

	if maxRunning != 1 {
		t.Errorf("max concurrent tasks for one project = %d, want 1", maxRunning)
	}
}

func TestDifferentProjectsRunConcurrently(t *testing.T) {
	t.Parallel()
	r := testRunner()

	start := make(chan struct{})
	var mu sync.Mutex
	running := 0
	maxRunning := 0

	work := func(context.Context) (any, error) {
		<-start
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}

	r.Submit(context.Background(), "process", 1, work)
	r.Submit(context.Background(), "process", 2, work)
	close(start)
	r.Wait()

	if maxRunning != 2 {
		t.Errorf("max concurrent tasks across projects = %d, want 2", maxRunning)
	}
}

func TestGetUnknownTask(t *testing.T) {
	t.Parallel()
	r := testRunner()

	if _, ok := r.Get("no-such-id"); ok {
		t.Error("Get returned an unknown task")
	}
}
