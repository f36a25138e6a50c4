package graph

// Predicate inspects the state and returns a branch label. The engine looks
// the label up in the conditional edge's branch table; a label with no entry
// routes the run to the graph's error handler.
type Predicate func(state *State) string

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge fans out from one node to several successors. When selects
// a label; Branches maps each label to a destination node.
type ConditionalEdge struct {
	From     string
	When     Predicate
	Branches map[string]string
}
