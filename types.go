package anser

import (
	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/provider"
)

// Status classifies a finished operation for the caller.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // some nodes failed but a response exists
	StatusError   Status = "error"
)

// Operation error codes. They classify in-band failures for callers and are
// coarser than engine codes: one code per failure kind a client can act on.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeBudget           = "BUDGET_EXCEEDED"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeBackendTransport = "BACKEND_TRANSPORT"
	CodeProviderFailure  = "PROVIDER_FAILURE"
	CodeDeadline         = "DEADLINE_EXCEEDED"
	CodeInternal         = "INTERNAL"
)

// Failure is the structured error carried in-band by every result. No Go
// error crosses the operation boundary; callers branch on Code and show
// Message to the user.
type Failure struct {
	Code          string   `json:"error_code"`
	Message       string   `json:"user_message"`
	Suggestions   []string `json:"suggestions,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// ResponseFlags tune the shape of a chat response.
type ResponseFlags struct {
	IncludeSources bool `json:"include_sources,omitempty"`
	DeveloperHints bool `json:"developer_hints,omitempty"`
}

// ChatRequest is one conversational turn. History carries the prior turns;
// the current query is appended by the orchestrator after the run.
type ChatRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Query     string        `json:"query"`
	History   []graph.Turn  `json:"conversation_history,omitempty"`
	Quality   graph.Quality `json:"quality,omitempty"`
	MaxCost   float64       `json:"max_cost,omitempty"`
	MaxTime   float64       `json:"max_time,omitempty"` // seconds
	Style     string        `json:"style,omitempty"`    // concise, detailed
	Flags     ResponseFlags `json:"response_flags,omitempty"`
}

// Citation ties a claim in a response back to a source document.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Metadata is the accounting block attached to chat results.
type Metadata struct {
	Cost       float64       `json:"cost"`
	Seconds    float64       `json:"time_seconds"`
	ModelsUsed []string      `json:"models_used"`
	Confidence float64       `json:"confidence"`
	Cached     bool          `json:"cached"`
	Errors     []Failure     `json:"errors,omitempty"`
	Warnings   []graph.Fault `json:"warnings,omitempty"`
}

// ChatResult is the materialized outcome of one chat turn.
type ChatResult struct {
	Response       string                 `json:"response"`
	SessionID      string                 `json:"session_id"`
	History        []graph.Turn           `json:"conversation_history_updated"`
	Sources        []string               `json:"sources,omitempty"`
	Citations      []Citation             `json:"citations,omitempty"`
	Metadata       Metadata               `json:"metadata"`
	DeveloperHints map[string]interface{} `json:"developer_hints,omitempty"`
	Status         Status                 `json:"status"`
	Failure        *Failure               `json:"error,omitempty"`
}

// SearchRequest asks for an answer grounded in external search results.
type SearchRequest struct {
	Query      string        `json:"query"`
	MaxResults int           `json:"max_results,omitempty"`
	SearchKind string        `json:"search_kind,omitempty"` // web, news, academic
	Quality    graph.Quality `json:"quality,omitempty"`
	Budget     float64       `json:"budget,omitempty"`
	Filters    []string      `json:"filters,omitempty"` // keep results mentioning any of these
	Domains    []string      `json:"domains,omitempty"` // restrict results to these hosts
}

// SearchMetadata extends the common accounting block with the routing
// decision and the providers actually called.
type SearchMetadata struct {
	Metadata
	ProvidersUsed []string `json:"providers_used"`
	Rationale     string   `json:"routing_rationale,omitempty"`
}

// SearchResult is the materialized outcome of one search request.
type SearchResult struct {
	Query            string            `json:"query"`
	Results          []provider.Result `json:"results"`
	Summary          string            `json:"summary"`
	TotalResults     int               `json:"total_results"`
	SearchTime       float64           `json:"search_time"`
	SourcesConsulted []string          `json:"sources_consulted"`
	Metadata         SearchMetadata    `json:"metadata"`
	Status           Status            `json:"status"`
	Failure          *Failure          `json:"error,omitempty"`
}

// Research methodologies. Each one shapes the task DAG differently.
const (
	MethodSystematic   = "systematic"
	MethodExploratory  = "exploratory"
	MethodComparative  = "comparative"
	MethodMetaAnalysis = "meta-analysis"
)

// ResearchRequest asks for a multi-agent investigation of a question.
type ResearchRequest struct {
	Question    string   `json:"research_question"`
	Methodology string   `json:"methodology,omitempty"` // defaults to systematic
	DepthLevel  int      `json:"depth_level,omitempty"` // 1..5, defaults to 2
	CostBudget  float64  `json:"cost_budget,omitempty"`
	TimeBudget  float64  `json:"time_budget,omitempty"` // seconds
	Sources     []string `json:"sources,omitempty"`     // seed URLs or citations for the agents
}

// TaskResult is the per-task view inside a research result.
type TaskResult struct {
	TaskID     string  `json:"task_id"`
	Agent      string  `json:"agent_kind"`
	Success    bool    `json:"success"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
	Seconds    float64 `json:"seconds"`
	Model      string  `json:"model,omitempty"`
	Error      string  `json:"error,omitempty"`
	Retries    int     `json:"retries"`
}

// ResearchMetadata is the accounting block attached to research results.
type ResearchMetadata struct {
	ExecutionTime float64  `json:"execution_time"`
	AgentsUsed    []string `json:"agents_used"`
	TaskCount     int      `json:"task_count"`
	Waves         int      `json:"waves"`
	Cost          float64  `json:"cost"`
	Cached        bool     `json:"cached"`
}

// ResearchResult is the materialized outcome of one research workflow.
type ResearchResult struct {
	WorkflowID      string           `json:"workflow_id"`
	Success         bool             `json:"success"`
	ResearchResults string           `json:"research_results"`
	DetailedResults []TaskResult     `json:"detailed_results"`
	ConfidenceScore float64          `json:"confidence_score"`
	Errors          []Failure        `json:"errors,omitempty"`
	Metadata        ResearchMetadata `json:"metadata"`
}
