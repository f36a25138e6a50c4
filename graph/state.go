package graph

import (
	"sort"
	"time"
)

// budgetEpsilon absorbs floating point drift when comparing accumulated cost
// against the request budget.
const budgetEpsilon = 1e-9

// Quality is the requested answer quality tier. Higher tiers unlock larger
// models and more expensive routing strategies.
type Quality string

// Quality tiers, cheapest first.
const (
	QualityMinimal  Quality = "minimal"
	QualityBalanced Quality = "balanced"
	QualityHigh     Quality = "high"
	QualityPremium  Quality = "premium"
)

// Intent is the classified purpose of a query. Empty until the
// intent-classifier node has run.
type Intent string

// Recognized intents.
const (
	IntentUnknown      Intent = ""
	IntentConversation Intent = "conversation"
	IntentQuestion     Intent = "question"
	IntentCode         Intent = "code"
	IntentAnalysis     Intent = "analysis"
	IntentRequest      Intent = "request"
	IntentCreative     Intent = "creative"
)

// Turn is one utterance in a conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Fault is an error or warning recorded against a node during a run.
type Fault struct {
	Node        string `json:"node"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// State is the record threaded through one graph run.
//
// It is created by the caller before a run, mutated exclusively by the node
// currently executing (the engine serializes node execution, so no locking is
// needed), read by downstream nodes, and finally serialized by the caller.
// It must not be shared across concurrent runs.
type State struct {
	// Identity.
	RequestID     string
	CorrelationID string
	SessionID     string
	UserID        string

	// Input.
	Query          string
	ProcessedQuery string
	History        []Turn

	// Classification.
	Intent     Intent
	Complexity float64

	// Constraints.
	InitialBudget    float64
	BudgetRemaining  float64
	MaxExecutionTime float64 // seconds, measured from run start
	Quality          Quality

	// Accounting, keyed by node name.
	CostsIncurred  map[string]float64
	ExecutionTimes map[string]float64
	Confidences    map[string]float64
	ModelsUsed     map[string]bool

	// Execution trace.
	Path         []string
	Results      map[string]NodeResult
	Intermediate map[string]interface{}
	Errors       []Fault
	Warnings     []Fault

	// Output.
	FinalResponse    string
	ResponseMetadata map[string]interface{}

	// StartedAt anchors the run deadline.
	StartedAt time.Time
}

// StateParams collects the caller-supplied inputs for a new State.
type StateParams struct {
	RequestID     string
	CorrelationID string
	SessionID     string
	UserID        string
	Query         string
	History       []Turn
	Budget        float64
	MaxTime       float64
	Quality       Quality
}

// NewState builds a run-ready State. Budget and quality default to a free run
// at balanced quality when unset.
func NewState(p StateParams) *State {
	quality := p.Quality
	if quality == "" {
		quality = QualityBalanced
	}
	return &State{
		RequestID:        p.RequestID,
		CorrelationID:    p.CorrelationID,
		SessionID:        p.SessionID,
		UserID:           p.UserID,
		Query:            p.Query,
		History:          p.History,
		InitialBudget:    p.Budget,
		BudgetRemaining:  p.Budget,
		MaxExecutionTime: p.MaxTime,
		Quality:          quality,
		CostsIncurred:    make(map[string]float64),
		ExecutionTimes:   make(map[string]float64),
		Confidences:      make(map[string]float64),
		ModelsUsed:       make(map[string]bool),
		Results:          make(map[string]NodeResult),
		Intermediate:     make(map[string]interface{}),
		ResponseMetadata: make(map[string]interface{}),
		StartedAt:        time.Now(),
	}
}

// AddCost charges amount against node and decrements the remaining budget.
// Callers gate expensive work with WithinBudget first; the remaining budget
// is floored at zero so bookkeeping drift can never drive it negative.
func (s *State) AddCost(node string, amount float64) {
	if amount <= 0 {
		return
	}
	s.CostsIncurred[node] += amount
	s.BudgetRemaining -= amount
	if s.BudgetRemaining < 0 {
		s.BudgetRemaining = 0
	}
}

// AddTime accumulates wall-clock seconds spent in node.
func (s *State) AddTime(node string, seconds float64) {
	if seconds <= 0 {
		return
	}
	s.ExecutionTimes[node] += seconds
}

// SetConfidence records the confidence a node reported for its own output,
// clamped to [0, 1].
func (s *State) SetConfidence(node string, score float64) {
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	s.Confidences[node] = score
}

// RecordResult stores a node's result. A prior result is replaced only when
// it failed and the new one succeeded, so a retry can supersede a failure but
// nothing can overwrite a success.
func (s *State) RecordResult(node string, result NodeResult) {
	prior, exists := s.Results[node]
	if exists && !(!prior.Success && result.Success) {
		return
	}
	s.Results[node] = result
}

// AppendError records a failure against node.
func (s *State) AppendError(node, message string, recoverable bool) {
	s.Errors = append(s.Errors, Fault{Node: node, Message: message, Recoverable: recoverable})
}

// AppendWarning records a non-fatal observation against node.
func (s *State) AppendWarning(node, message string) {
	s.Warnings = append(s.Warnings, Fault{Node: node, Message: message, Recoverable: true})
}

// AppendPath appends node to the execution path. The path is append-only;
// the engine uses its length for circuit breaking.
func (s *State) AppendPath(node string) {
	s.Path = append(s.Path, node)
}

// RecordModel adds a model name to the set of models used by this run.
func (s *State) RecordModel(name string) {
	if name == "" {
		return
	}
	s.ModelsUsed[name] = true
}

// SetIntermediate stores a value for inter-node handoff under the producing
// node's name.
func (s *State) SetIntermediate(node string, value interface{}) {
	s.Intermediate[node] = value
}

// TotalCost sums every charge recorded so far.
func (s *State) TotalCost() float64 {
	total := 0.0
	for _, c := range s.CostsIncurred {
		total += c
	}
	return total
}

// AvgConfidence is the arithmetic mean of all recorded confidences, or zero
// when none have been recorded.
func (s *State) AvgConfidence() float64 {
	if len(s.Confidences) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range s.Confidences {
		sum += c
	}
	return sum / float64(len(s.Confidences))
}

// WithinBudget reports whether extra additional cost still fits inside the
// initial budget, within a small epsilon.
func (s *State) WithinBudget(extra float64) bool {
	return s.TotalCost()+extra <= s.InitialBudget+budgetEpsilon
}

// ModelList returns the names of the models used by this run, sorted for
// deterministic serialization.
func (s *State) ModelList() []string {
	names := make([]string, 0, len(s.ModelsUsed))
	for name := range s.ModelsUsed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasFatalError reports whether any recorded error was unrecoverable.
func (s *State) HasFatalError() bool {
	for _, f := range s.Errors {
		if !f.Recoverable {
			return true
		}
	}
	return false
}
