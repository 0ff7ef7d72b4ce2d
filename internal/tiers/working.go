package tiers

import "sync"

// Working is task-scoped scratch memory: arbitrary key-value state for a task
// in flight, dropped when the task completes or the process exits.
type Working struct {
	mu    sync.RWMutex
	tasks map[string]map[string]any
}

// NewWorking returns an empty working-memory tier.
func NewWorking() *Working {
	return &Working{tasks: make(map[string]map[string]any)}
}

// Set stores value under key for the task.
func (w *Working) Set(taskID, key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[taskID]
	if !ok {
		task = make(map[string]any)
		w.tasks[taskID] = task
	}
	task[key] = value
}

// Get returns the value for key in the task's scratch space.
func (w *Working) Get(taskID, key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	task, ok := w.tasks[taskID]
	if !ok {
		return nil, false
	}
	v, ok := task[key]
	return v, ok
}

// Snapshot returns a copy of the task's entire scratch space.
func (w *Working) Snapshot(taskID string) map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	task, ok := w.tasks[taskID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(task))
	for k, v := range task {
		out[k] = v
	}
	return out
}

// Clear drops the task's scratch space.
func (w *Working) Clear(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tasks, taskID)
}
