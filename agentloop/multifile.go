package agentloop

import (
	"errors"
	"sync"

	"github.com/martinemde/codeloop/workspace"
)

var (
	// ErrTaskActive is returned when a plan is started while another is in flight.
	ErrTaskActive = errors.New("a multi-file task is already active")
	// ErrNoActiveTask is returned when a plan step arrives with no plan in flight.
	ErrNoActiveTask = errors.New("no multi-file task is active")
)

// Task is an in-flight multi-file plan. The file list is fixed at start
// (plus any off-plan files the model applies later); completion is tracked
// per entry so completed and remaining always partition it.
type Task struct {
	description string
	files       []workspace.Key
	done        []bool
	order       []int
}

// newTask starts a plan whose first file has just been applied. A first
// file missing from the plan is appended to it.
func newTask(description string, plan []string, first workspace.Key) *Task {
	t := &Task{description: description}
	seen := make(map[workspace.Key]bool, len(plan))
	for _, k := range workspace.KeysOf(plan) {
		if k.IsZero() || seen[k] {
			continue
		}
		seen[k] = true
		t.files = append(t.files, k)
		t.done = append(t.done, false)
	}
	t.complete(first)
	return t
}

// complete marks key done, appending it when it was not in the plan.
func (t *Task) complete(key workspace.Key) {
	for i, k := range t.files {
		if k == key {
			if !t.done[i] {
				t.done[i] = true
				t.order = append(t.order, i)
			}
			return
		}
	}
	t.files = append(t.files, key)
	t.done = append(t.done, true)
	t.order = append(t.order, len(t.files)-1)
}

// Snapshot returns a copy of the task's state.
func (t *Task) Snapshot() TaskSnapshot {
	s := TaskSnapshot{
		Active:      true,
		Description: t.description,
		AllFiles:    workspace.Strings(t.files),
		Completed:   make([]string, 0, len(t.order)),
		Remaining:   []string{},
	}
	for _, i := range t.order {
		s.Completed = append(s.Completed, t.files[i].String())
	}
	for i, k := range t.files {
		if !t.done[i] {
			s.Remaining = append(s.Remaining, k.String())
		}
	}
	return s
}

// TaskSnapshot is an immutable view of a conversation's multi-file state.
// The zero value is Idle.
type TaskSnapshot struct {
	Active      bool     `json:"active"`
	Description string   `json:"description,omitempty"`
	AllFiles    []string `json:"all_files,omitempty"`
	Completed   []string `json:"completed,omitempty"`
	Remaining   []string `json:"remaining,omitempty"`
}

// taskTable holds the multi-file state of every conversation.
type taskTable struct {
	tasks map[string]*Task
	mu    sync.Mutex
}

func newTaskTable() *taskTable {
	return &taskTable{tasks: make(map[string]*Task)}
}

func (tt *taskTable) active(convID string) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.tasks[convID] != nil
}

func (tt *taskTable) snapshot(convID string) TaskSnapshot {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if t := tt.tasks[convID]; t != nil {
		return t.Snapshot()
	}
	return TaskSnapshot{}
}

// start moves convID from Idle to Active.
func (tt *taskTable) start(convID, description string, plan []string, first workspace.Key) (TaskSnapshot, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.tasks[convID] != nil {
		return TaskSnapshot{}, ErrTaskActive
	}
	t := newTask(description, plan, first)
	tt.tasks[convID] = t
	return t.Snapshot(), nil
}

// advance marks key completed on the active task.
func (tt *taskTable) advance(convID string, key workspace.Key) (TaskSnapshot, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t := tt.tasks[convID]
	if t == nil {
		return TaskSnapshot{}, ErrNoActiveTask
	}
	t.complete(key)
	return t.Snapshot(), nil
}

// clear returns convID to Idle.
func (tt *taskTable) clear(convID string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	delete(tt.tasks, convID)
}
