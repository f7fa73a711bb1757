package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/idxquant/idxpulse/internal/domain"
)

// TaskStatus is the lifecycle state of one ingestion task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one entry in the ingestion task table. Progress is monotonic in
// [0,100]; the worker that owns a task is its only writer, while the
// monitoring surface reads snapshots concurrently.
type Task struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Kind      domain.MediaKind `json:"kind"`
	Status    TaskStatus       `json:"status"`
	Progress  int              `json:"progress"`
	Detail    string           `json:"detail"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Arena is the indexed table of ingestion task records.
type Arena struct {
	mu          sync.RWMutex
	tasks       map[string]*Task
	order       []string
	completions []time.Time
}

// NewArena creates an empty task arena.
func NewArena() *Arena {
	return &Arena{tasks: make(map[string]*Task)}
}

// Create registers a new pending task and returns its id.
func (a *Arena) Create(source string, kind domain.MediaKind) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	a.tasks[id] = &Task{
		ID:        id,
		Source:    source,
		Kind:      kind,
		Status:    TaskPending,
		Detail:    "waiting for worker",
		UpdatedAt: time.Now().UTC(),
	}
	a.order = append(a.order, id)
	return id
}

// Start moves a task to processing and counts the attempt.
func (a *Arena) Start(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return
	}
	task.Status = TaskProcessing
	task.Attempts++
	task.UpdatedAt = time.Now().UTC()
}

// SetProgress advances a task's progress. Regressions are ignored so that
// pollers never observe progress moving backwards.
func (a *Arena) SetProgress(id string, progress int, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return
	}
	if progress > task.Progress && progress <= 100 {
		task.Progress = progress
	}
	if detail != "" {
		task.Detail = detail
	}
	task.UpdatedAt = time.Now().UTC()
}

// Complete marks a task finished at full progress.
func (a *Arena) Complete(id, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return
	}
	task.Status = TaskCompleted
	task.Progress = 100
	task.Detail = detail
	task.UpdatedAt = time.Now().UTC()
	a.completions = append(a.completions, time.Now())
}

// Retrying parks a task back in pending for another attempt.
func (a *Arena) Retrying(id, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return
	}
	task.Status = TaskPending
	task.LastError = reason
	task.Detail = "retry scheduled"
	task.UpdatedAt = time.Now().UTC()
}

// Fail marks a task permanently failed; it surfaces on the operator queue.
func (a *Arena) Fail(id, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[id]
	if !ok {
		return
	}
	task.Status = TaskFailed
	task.LastError = reason
	task.Detail = "failed"
	task.UpdatedAt = time.Now().UTC()
}

// Get returns a copy of one task.
func (a *Arena) Get(id string) (Task, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	task, ok := a.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Snapshot returns copies of all tasks in creation order.
func (a *Arena) Snapshot() []Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Task, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.tasks[id])
	}
	return out
}

// CountByStatus returns the number of tasks in each state.
func (a *Arena) CountByStatus() map[TaskStatus]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	counts := make(map[TaskStatus]int, 4)
	for _, task := range a.tasks {
		counts[task.Status]++
	}
	return counts
}

// Throughput returns completed items per minute over the trailing five
// minutes.
func (a *Arena) Throughput() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	kept := a.completions[:0]
	for _, t := range a.completions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.completions = kept
	return float64(len(kept)) / 5.0
}
