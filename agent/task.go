// Package agent runs multi-agent task DAGs: a registry maps agent roles to
// functions, a scheduler executes tasks in dependency waves with retries and
// a shared blackboard, and the built-in agents call the model manager with
// role prompts.
package agent

import (
	"time"

	"github.com/anserhq/anser/graph"
)

// Kind identifies an agent role. Dispatch is a tagged lookup in the Registry,
// so new roles are added by registering a function, not by subclassing.
type Kind string

const (
	KindResearch     Kind = "research"
	KindAnalysis     Kind = "analysis"
	KindSynthesis    Kind = "synthesis"
	KindFactCheck    Kind = "fact-check"
	KindCode         Kind = "code"
	KindCreative     Kind = "creative"
	KindPlanning     Kind = "planning"
	KindCoordination Kind = "coordination"
)

// Status of one task in the DAG.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusWaiting   Status = "waiting" // failed, will retry next wave
	StatusBlocked   Status = "blocked" // dependencies can never complete
)

// Task is one unit in a multi-agent DAG. A task is ready when all its
// dependencies have completed and its own status is idle or waiting.
type Task struct {
	ID           string                 `json:"task_id"`
	Agent        Kind                   `json:"agent_kind"`
	TaskKind     string                 `json:"task_kind"`
	Description  string                 `json:"description"`
	Input        map[string]interface{} `json:"input,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Priority     int                    `json:"priority"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	MaxRetries   int                    `json:"max_retries"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Status       Status                 `json:"status"`
	Result       *graph.NodeResult      `json:"result,omitempty"`
}

// NewTask builds an idle task with two retries allowed.
func NewTask(id string, agent Kind, taskKind, description string) *Task {
	now := time.Now()
	return &Task{
		ID:          id,
		Agent:       agent,
		TaskKind:    taskKind,
		Description: description,
		Input:       make(map[string]interface{}),
		MaxRetries:  2,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusIdle,
	}
}

// After declares dependencies and returns the task for chaining.
func (t *Task) After(deps ...string) *Task {
	t.Dependencies = append(t.Dependencies, deps...)
	return t
}

func (t *Task) setStatus(s Status) {
	t.Status = s
	t.UpdatedAt = time.Now()
}

// ready reports whether the task may be dispatched given the completed set.
func (t *Task) ready(completed map[string]bool) bool {
	if t.Status != StatusIdle && t.Status != StatusWaiting {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
