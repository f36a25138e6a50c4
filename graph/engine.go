// Package graph provides a directed-graph execution engine for AI request
// orchestration. A graph is built from named nodes joined by static and
// conditional edges, compiled once, and then run any number of times over
// per-request State values.
//
// The engine enforces the run-safety envelope around every execution: a
// path-length circuit breaker bounds runaway routing, deadline expiry
// terminates the run with whatever response exists so far, and recoverable
// node failures route to the graph's error handler instead of aborting.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anserhq/anser/graph/emit"
)

// GraphStats is a snapshot of one engine's lifetime execution counters. A run
// counts as a success when it reaches an end node with no fatal error and a
// non-empty final response.
type GraphStats struct {
	Executions   uint64
	Successes    uint64
	TotalRunTime float64
	AvgRunTime   float64
}

// Run terminal statuses, used for metrics and events.
const (
	statusCompleted      = "completed"
	statusNodeFailure    = "node_failure"
	statusRoutingFailure = "routing_failure"
	statusCircuitBreaker = "circuit_breaker"
	statusDeadline       = "deadline"
)

// Engine executes a compiled node graph. Build methods (AddNode, AddEdge,
// AddConditionalEdge, Compile) are not safe for concurrent use; once compiled
// the engine is immutable and Run may be called from any number of
// goroutines.
type Engine struct {
	name string
	cfg  engineConfig

	nodes        map[string]*nodeRuntime
	edges        map[string]string
	branches     map[string]*ConditionalEdge
	startNode    string
	errorHandler string
	compiled     bool

	mu    sync.Mutex
	stats GraphStats
}

// New creates an empty engine for the named graph.
func New(name string, opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		name:     name,
		cfg:      cfg,
		nodes:    make(map[string]*nodeRuntime),
		edges:    make(map[string]string),
		branches: make(map[string]*ConditionalEdge),
	}
}

// Name returns the graph name.
func (e *Engine) Name() string { return e.name }

// AddNode registers a node. Node names must be unique; a graph holds exactly
// one start node and at most one error handler.
func (e *Engine) AddNode(n Node) error {
	if e.compiled {
		return newEngineError(CodeValidation, "graph %q is already compiled", e.name)
	}
	if n == nil || n.Name() == "" {
		return newEngineError(CodeValidation, "node must have a name")
	}
	if _, dup := e.nodes[n.Name()]; dup {
		return newEngineError(CodeValidation, "duplicate node %q", n.Name())
	}
	switch n.Kind() {
	case KindStart:
		if e.startNode != "" {
			return newEngineError(CodeValidation, "graph %q already has start node %q", e.name, e.startNode)
		}
		e.startNode = n.Name()
	case KindErrorHandler:
		if e.errorHandler != "" {
			return newEngineError(CodeValidation, "graph %q already has error handler %q", e.name, e.errorHandler)
		}
		e.errorHandler = n.Name()
	}
	e.nodes[n.Name()] = newNodeRuntime(n, e.cfg.logger)
	return nil
}

// AddEdge registers an unconditional transition. A node carries at most one
// outgoing transition, either static or conditional.
func (e *Engine) AddEdge(from, to string) error {
	if e.compiled {
		return newEngineError(CodeValidation, "graph %q is already compiled", e.name)
	}
	if from == "" || to == "" {
		return newEngineError(CodeValidation, "edge endpoints must be named")
	}
	if _, dup := e.edges[from]; dup {
		return newEngineError(CodeValidation, "node %q already has an outgoing edge", from)
	}
	if _, dup := e.branches[from]; dup {
		return newEngineError(CodeValidation, "node %q already has a conditional edge", from)
	}
	e.edges[from] = to
	return nil
}

// AddConditionalEdge registers a branching transition. At run time the
// predicate picks a label and the run continues at branches[label]; a label
// missing from the table routes the run to the error handler.
func (e *Engine) AddConditionalEdge(from string, when Predicate, branches map[string]string) error {
	if e.compiled {
		return newEngineError(CodeValidation, "graph %q is already compiled", e.name)
	}
	if from == "" {
		return newEngineError(CodeValidation, "conditional edge needs a source node")
	}
	if when == nil {
		return newEngineError(CodeValidation, "conditional edge from %q needs a predicate", from)
	}
	if len(branches) == 0 {
		return newEngineError(CodeValidation, "conditional edge from %q needs at least one branch", from)
	}
	if _, dup := e.edges[from]; dup {
		return newEngineError(CodeValidation, "node %q already has an outgoing edge", from)
	}
	if _, dup := e.branches[from]; dup {
		return newEngineError(CodeValidation, "node %q already has a conditional edge", from)
	}
	copied := make(map[string]string, len(branches))
	for label, to := range branches {
		copied[label] = to
	}
	e.branches[from] = &ConditionalEdge{From: from, When: when, Branches: copied}
	return nil
}

// Compile validates the graph structure and freezes it for execution.
// Validation requires exactly one start node, at least one end node reachable
// from it, an outgoing transition on every non-end node, no dangling edge
// endpoints, and no cycle that bypasses the error handler.
func (e *Engine) Compile() error {
	if e.compiled {
		return nil
	}
	if err := e.validate(); err != nil {
		return err
	}
	e.compiled = true
	return nil
}

func (e *Engine) validate() error {
	if len(e.nodes) == 0 {
		return newEngineError(CodeValidation, "graph %q has no nodes", e.name)
	}
	if e.startNode == "" {
		return newEngineError(CodeValidation, "graph %q has no start node", e.name)
	}

	endNodes := make(map[string]bool)
	for _, name := range e.sortedNodeNames() {
		if e.nodes[name].node.Kind() == KindEnd {
			endNodes[name] = true
		}
	}
	if len(endNodes) == 0 {
		return newEngineError(CodeValidation, "graph %q has no end node", e.name)
	}

	adj, err := e.adjacency()
	if err != nil {
		return err
	}

	for _, name := range e.sortedNodeNames() {
		isEnd := endNodes[name]
		out := adj[name]
		if isEnd && len(out) > 0 {
			return newEngineError(CodeValidation, "end node %q must not have outgoing edges", name)
		}
		if !isEnd && len(out) == 0 {
			return newEngineError(CodeValidation, "node %q has no outgoing edge", name)
		}
	}

	reached := e.reachableFrom(e.startNode, adj)
	endReached := false
	for name := range endNodes {
		if reached[name] {
			endReached = true
			break
		}
	}
	if !endReached {
		return newEngineError(CodeValidation, "graph %q has no end node reachable from %q", e.name, e.startNode)
	}
	for _, name := range e.sortedNodeNames() {
		// The error handler is entered by failure routing, not by an
		// explicit inbound edge, so it is exempt from reachability.
		if !reached[name] && name != e.errorHandler {
			return newEngineError(CodeValidation, "node %q is unreachable from start", name)
		}
	}

	return e.checkCycles(adj)
}

func (e *Engine) adjacency() (map[string][]string, error) {
	adj := make(map[string][]string, len(e.nodes))
	for from, to := range e.edges {
		if _, ok := e.nodes[from]; !ok {
			return nil, newEngineError(CodeValidation, "edge from unknown node %q", from)
		}
		if _, ok := e.nodes[to]; !ok {
			return nil, newEngineError(CodeValidation, "edge from %q to unknown node %q", from, to)
		}
		adj[from] = append(adj[from], to)
	}
	for from, ce := range e.branches {
		if _, ok := e.nodes[from]; !ok {
			return nil, newEngineError(CodeValidation, "conditional edge from unknown node %q", from)
		}
		labels := make([]string, 0, len(ce.Branches))
		for label := range ce.Branches {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			to := ce.Branches[label]
			if _, ok := e.nodes[to]; !ok {
				return nil, newEngineError(CodeValidation, "branch %q from %q targets unknown node %q", label, from, to)
			}
			adj[from] = append(adj[from], to)
		}
	}
	return adj, nil
}

func (e *Engine) reachableFrom(start string, adj map[string][]string) map[string]bool {
	reached := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reached
}

// checkCycles rejects any cycle that does not pass through the error handler.
// Handler-mediated loops are the one sanctioned form of retry routing; the
// path-length circuit breaker bounds them at run time.
func (e *Engine) checkCycles(adj map[string][]string) error {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(e.nodes))
	var stack []string

	var visit func(string) error
	visit = func(u string) error {
		colors[u] = gray
		stack = append(stack, u)
		for _, v := range adj[u] {
			switch colors[v] {
			case white:
				if err := visit(v); err != nil {
					return err
				}
			case gray:
				cycle := cycleSegment(stack, v)
				if !e.containsErrorHandler(cycle) {
					return newEngineError(CodeValidation,
						"cycle without error handler: %s", strings.Join(append(cycle, v), " -> "))
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[u] = black
		return nil
	}

	for _, name := range e.sortedNodeNames() {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func cycleSegment(stack []string, from string) []string {
	for i, name := range stack {
		if name == from {
			seg := make([]string, len(stack)-i)
			copy(seg, stack[i:])
			return seg
		}
	}
	return stack
}

func (e *Engine) containsErrorHandler(names []string) bool {
	for _, name := range names {
		if e.nodes[name].node.Kind() == KindErrorHandler {
			return true
		}
	}
	return false
}

func (e *Engine) sortedNodeNames() []string {
	names := make([]string, 0, len(e.nodes))
	for name := range e.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the graph over state. The returned *State is always non-nil
// and carries the full trace (path, node results, errors) regardless of
// outcome; the error reports how the run terminated when it did not reach an
// end node.
//
// When state.MaxExecutionTime is positive the run races a deadline of that
// many seconds; expiry synthesizes a fatal error on the node in flight and
// returns the state with whatever final response it holds. A run visiting
// more than the configured path cap trips the circuit breaker. Recoverable
// node failures and unmatched branch labels route to the error handler when
// the graph has one.
func (e *Engine) Run(ctx context.Context, state *State) (*State, error) {
	if state == nil {
		return nil, newEngineError(CodeValidation, "nil state")
	}
	if !e.compiled {
		return state, newEngineError(CodeValidation, "graph %q is not compiled", e.name)
	}

	start := time.Now()
	runCtx := ctx
	cancel := func() {}
	if state.MaxExecutionTime > 0 {
		timeout := time.Duration(state.MaxExecutionTime * float64(time.Second))
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	e.cfg.metrics.runStarted(e.name)
	e.cfg.emitter.Emit(emit.Event{
		RequestID: state.RequestID,
		Step:      0,
		NodeID:    e.startNode,
		Msg:       "run started",
		Meta:      map[string]interface{}{"graph": e.name},
	})

	current := e.startNode
	step := 0
	for {
		if runCtx.Err() != nil {
			return e.expireDeadline(state, start, current)
		}
		if len(state.Path) >= e.cfg.maxPathLength {
			state.AppendError(current,
				fmt.Sprintf("circuit breaker tripped: path length reached %d", e.cfg.maxPathLength), false)
			e.cfg.metrics.countBreakerTrip(e.name)
			e.finishRun(state, start, statusCircuitBreaker)
			return state, newEngineError(CodeCircuitBreaker,
				"graph %q exceeded %d nodes", e.name, e.cfg.maxPathLength)
		}

		rt, ok := e.nodes[current]
		if !ok {
			e.finishRun(state, start, statusRoutingFailure)
			return state, newEngineError(CodeInternal, "routed to unknown node %q", current)
		}

		step++
		state.AppendPath(current)
		result := rt.execute(runCtx, state)
		state.RecordResult(current, result)
		state.AddCost(current, result.Cost)
		state.AddTime(current, result.ExecutionTime)
		if result.Confidence > 0 {
			state.SetConfidence(current, result.Confidence)
		}
		if result.ModelUsed != "" {
			state.RecordModel(result.ModelUsed)
		}
		e.cfg.metrics.observeNode(e.name, current, result.ExecutionTime)
		e.emitStep(state, step, current, result)

		if !result.Success {
			msg := result.Error
			if msg == "" {
				msg = "node failed"
			}
			state.AppendError(current, msg, result.Recoverable)
			if runCtx.Err() != nil {
				return e.expireDeadline(state, start, current)
			}
			if result.Recoverable && e.errorHandler != "" && current != e.errorHandler {
				current = e.errorHandler
				continue
			}
			e.finishRun(state, start, statusNodeFailure)
			return state, newEngineError(CodeNodeFailure, "node %q failed: %s", current, msg)
		}

		if rt.node.Kind() == KindEnd {
			e.finishRun(state, start, statusCompleted)
			return state, nil
		}

		next, routeErr := e.nextNode(current, state)
		if routeErr != nil {
			recoverable := routeErr.Code == CodeRouting &&
				e.errorHandler != "" && current != e.errorHandler
			state.AppendError(current, routeErr.Message, recoverable)
			if recoverable {
				current = e.errorHandler
				continue
			}
			e.finishRun(state, start, statusRoutingFailure)
			return state, routeErr
		}
		current = next
	}
}

func (e *Engine) nextNode(current string, state *State) (string, *EngineError) {
	if to, ok := e.edges[current]; ok {
		return to, nil
	}
	if ce, ok := e.branches[current]; ok {
		label := ce.When(state)
		if to, ok := ce.Branches[label]; ok {
			return to, nil
		}
		return "", newEngineError(CodeRouting, "no branch for label %q from node %q", label, current)
	}
	return "", newEngineError(CodeInternal, "node %q has no outgoing edge", current)
}

func (e *Engine) expireDeadline(state *State, start time.Time, node string) (*State, error) {
	elapsed := time.Since(start).Seconds()
	state.AppendError(node, fmt.Sprintf("deadline exceeded after %.2fs", elapsed), false)
	e.cfg.metrics.countDeadline(e.name)
	e.finishRun(state, start, statusDeadline)
	return state, newEngineError(CodeDeadline,
		"graph %q exceeded its deadline after %.2fs", e.name, elapsed)
}

func (e *Engine) emitStep(state *State, step int, node string, result NodeResult) {
	meta := map[string]interface{}{
		"success":          result.Success,
		"duration_seconds": result.ExecutionTime,
	}
	if result.Cost > 0 {
		meta["cost"] = result.Cost
	}
	if result.ModelUsed != "" {
		meta["model"] = result.ModelUsed
	}
	if result.Error != "" {
		meta["error"] = result.Error
	}
	e.cfg.emitter.Emit(emit.Event{
		RequestID: state.RequestID,
		Step:      step,
		NodeID:    node,
		Msg:       "node executed",
		Meta:      meta,
	})
}

func (e *Engine) finishRun(state *State, start time.Time, status string) {
	elapsed := time.Since(start).Seconds()
	state.ResponseMetadata["elapsed_seconds"] = elapsed

	success := status == statusCompleted && !state.HasFatalError() && state.FinalResponse != ""
	e.mu.Lock()
	e.stats.Executions++
	if success {
		e.stats.Successes++
	}
	e.stats.TotalRunTime += elapsed
	e.stats.AvgRunTime = e.stats.TotalRunTime / float64(e.stats.Executions)
	e.mu.Unlock()

	e.cfg.metrics.countRun(e.name, status)
	e.cfg.metrics.runFinished(e.name)
	e.cfg.emitter.Emit(emit.Event{
		RequestID: state.RequestID,
		Step:      len(state.Path),
		NodeID:    "",
		Msg:       "run finished",
		Meta: map[string]interface{}{
			"graph":           e.name,
			"status":          status,
			"elapsed_seconds": elapsed,
		},
	})
}

// Stats returns a snapshot of the engine's lifetime counters.
func (e *Engine) Stats() GraphStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// NodeStats returns the lifetime counters for one node.
func (e *Engine) NodeStats(name string) (NodeStats, bool) {
	rt, ok := e.nodes[name]
	if !ok {
		return NodeStats{}, false
	}
	return rt.stats(), true
}
