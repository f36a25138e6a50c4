package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NodeKind distinguishes the structural role of a node inside a graph.
type NodeKind string

// Node kinds.
const (
	KindStart        NodeKind = "start"
	KindProcessing   NodeKind = "processing"
	KindDecision     NodeKind = "decision"
	KindEnd          NodeKind = "end"
	KindErrorHandler NodeKind = "error-handler"
)

// NodeResult is a node's contribution to the run state.
//
// A node reports failure by returning Success=false with Error set; it never
// panics through the engine boundary (the runtime wrapper converts panics
// into failed results). ExecutionTime and Cost hold actual measurements; the
// wrapper fills ExecutionTime from the wall clock when the node leaves it
// zero.
type NodeResult struct {
	Success       bool                   `json:"success"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Confidence    float64                `json:"confidence"`
	ExecutionTime float64                `json:"execution_time"`
	Cost          float64                `json:"cost"`
	ModelUsed     string                 `json:"model_used,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Recoverable   bool                   `json:"recoverable,omitempty"`
}

// Succeeded builds a successful NodeResult carrying data.
func Succeeded(data map[string]interface{}) NodeResult {
	return NodeResult{Success: true, Data: data}
}

// Failed builds a failed NodeResult. Recoverable failures route through the
// graph's error handler; fatal ones terminate the run.
func Failed(message string, recoverable bool) NodeResult {
	return NodeResult{Success: false, Error: message, Recoverable: recoverable}
}

// Node is one unit of work in a graph.
//
// Execute may call out to collaborators (model manager, providers, cache) but
// must respect ctx and must report failure in-band through the returned
// NodeResult rather than panicking. Nodes do not retry themselves; retries
// belong to the agent scheduler or to explicit error-handler edges.
type Node interface {
	Name() string
	Kind() NodeKind
	Execute(ctx context.Context, state *State) NodeResult
}

// funcNode adapts a plain function into a Node.
type funcNode struct {
	name string
	kind NodeKind
	fn   func(ctx context.Context, state *State) NodeResult
}

// NewNode wraps fn as a Node with the given name and kind.
func NewNode(name string, kind NodeKind, fn func(ctx context.Context, state *State) NodeResult) Node {
	return &funcNode{name: name, kind: kind, fn: fn}
}

func (n *funcNode) Name() string   { return n.name }
func (n *funcNode) Kind() NodeKind { return n.kind }

func (n *funcNode) Execute(ctx context.Context, state *State) NodeResult {
	return n.fn(ctx, state)
}

// NodeStats is a read-only snapshot of one node's lifetime counters.
type NodeStats struct {
	Invocations uint64
	Successes   uint64
	AvgExecTime float64 // rolling mean, seconds
}

// nodeRuntime instruments a Node with panic recovery, wall-clock measurement,
// and per-node counters. The counters are a side effect of execution and are
// read-only to the rest of the system.
type nodeRuntime struct {
	node   Node
	logger *slog.Logger

	mu          sync.Mutex
	invocations uint64
	successes   uint64
	avgExecTime float64
}

func newNodeRuntime(node Node, logger *slog.Logger) *nodeRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &nodeRuntime{node: node, logger: logger}
}

// execute runs the wrapped node, backfills the measured execution time, and
// updates the counter block.
func (r *nodeRuntime) execute(ctx context.Context, state *State) NodeResult {
	start := time.Now()
	result := r.run(ctx, state)
	if result.ExecutionTime == 0 {
		result.ExecutionTime = time.Since(start).Seconds()
	}
	r.observe(result)
	return result
}

// run invokes the node and converts a panic into a failed result.
func (r *nodeRuntime) run(ctx context.Context, state *State) (result NodeResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("node panicked",
				"node", r.node.Name(),
				"request_id", state.RequestID,
				"panic", fmt.Sprintf("%v", p),
			)
			result = NodeResult{
				Success:     false,
				Error:       fmt.Sprintf("internal error in node %s: %v", r.node.Name(), p),
				Recoverable: true,
			}
		}
	}()
	return r.node.Execute(ctx, state)
}

func (r *nodeRuntime) observe(result NodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations++
	if result.Success {
		r.successes++
	}
	// Rolling mean over all invocations.
	n := float64(r.invocations)
	r.avgExecTime += (result.ExecutionTime - r.avgExecTime) / n
}

func (r *nodeRuntime) stats() NodeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return NodeStats{
		Invocations: r.invocations,
		Successes:   r.successes,
		AvgExecTime: r.avgExecTime,
	}
}
