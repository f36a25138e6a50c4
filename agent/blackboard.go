package agent

import "sync"

// Blackboard is the shared memory between agents in one scheduler run. Agents
// read the outputs of their completed dependencies from it; only the
// scheduler writes, and only between waves, so readers inside a wave always
// see a consistent snapshot.
type Blackboard struct {
	mu      sync.RWMutex
	entries map[string]map[string]interface{}
}

// NewBlackboard returns an empty board.
func NewBlackboard() *Blackboard {
	return &Blackboard{entries: make(map[string]map[string]interface{})}
}

// Get returns the recorded output of a completed task.
func (b *Blackboard) Get(taskID string) (map[string]interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.entries[taskID]
	return data, ok
}

// Text returns the "text" field of a completed task's output, or "".
func (b *Blackboard) Text(taskID string) string {
	data, ok := b.Get(taskID)
	if !ok {
		return ""
	}
	s, _ := data["text"].(string)
	return s
}

// Len reports how many task outputs the board holds.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// set records one task's output. Called by the scheduler after a wave
// barrier, never concurrently with agent reads of the same wave.
func (b *Blackboard) set(taskID string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[taskID] = data
}
