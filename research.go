package anser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anserhq/anser/agent"
	"github.com/anserhq/anser/cache"
)

const (
	defaultResearchDepth = 2
	researchCacheTTL     = time.Hour
)

// planResearch builds the task DAG for a research request. Depth controls the
// research fan-out; methodology controls the stages around it:
//
//	systematic    plan → research×N → analysis → synthesis
//	exploratory   research×N → analysis → synthesis
//	comparative   plan → research×N (N≥2) → analysis → fact-check → synthesis
//	meta-analysis plan → research×N → analysis ∥ fact-check → synthesis
func planResearch(req ResearchRequest) []*agent.Task {
	method := req.Methodology
	if method == "" {
		method = MethodSystematic
	}
	depth := req.DepthLevel
	if depth == 0 {
		depth = defaultResearchDepth
	}
	fanout := depth
	if method == MethodComparative && fanout < 2 {
		fanout = 2
	}

	var tasks []*agent.Task
	var researchDeps []string

	if method != MethodExploratory {
		plan := agent.NewTask("plan", agent.KindPlanning, "research-planning",
			fmt.Sprintf("Break this research question into %d sub-questions and outline how to investigate each: %s",
				fanout, req.Question))
		plan.Input["methodology"] = method
		plan.Input["depth_level"] = depth
		tasks = append(tasks, plan)
		researchDeps = []string{"plan"}
	}

	researchIDs := make([]string, 0, fanout)
	for i := 1; i <= fanout; i++ {
		id := fmt.Sprintf("research-%d", i)
		desc := fmt.Sprintf("Investigate aspect %d of %d of the research question: %s",
			i, fanout, req.Question)
		if method == MethodComparative && fanout == 2 {
			side := "first"
			if i == 2 {
				side = "second"
			}
			desc = fmt.Sprintf("Research the %s subject of the comparison in depth: %s",
				side, req.Question)
		}
		t := agent.NewTask(id, agent.KindResearch, "research", desc).After(researchDeps...)
		if len(req.Sources) > 0 {
			t.Input["sources"] = sourcesFor(req.Sources, i-1, fanout)
		}
		tasks = append(tasks, t)
		researchIDs = append(researchIDs, id)
	}

	analysis := agent.NewTask("analysis", agent.KindAnalysis, "analysis",
		fmt.Sprintf("Analyze the research findings for patterns, agreements, and contradictions. Research question: %s",
			req.Question)).After(researchIDs...)
	tasks = append(tasks, analysis)

	synthesisDeps := []string{"analysis"}
	switch method {
	case MethodComparative:
		fc := agent.NewTask("fact-check", agent.KindFactCheck, "verification",
			fmt.Sprintf("Verify the comparative claims in the analysis; flag anything unsupported. Research question: %s",
				req.Question)).After("analysis")
		tasks = append(tasks, fc)
		synthesisDeps = []string{"fact-check"}
	case MethodMetaAnalysis:
		fc := agent.NewTask("fact-check", agent.KindFactCheck, "verification",
			fmt.Sprintf("Cross-check the findings of each research thread against the others; flag inconsistencies. Research question: %s",
				req.Question)).After(researchIDs...)
		tasks = append(tasks, fc)
		synthesisDeps = []string{"analysis", "fact-check"}
	}

	synth := agent.NewTask("synthesis", agent.KindSynthesis, "synthesis",
		fmt.Sprintf("Write the final research summary answering: %s", req.Question)).After(synthesisDeps...)
	tasks = append(tasks, synth)
	return tasks
}

// sourcesFor deals seed sources round-robin across the research tasks so no
// two tasks chase the same URL.
func sourcesFor(sources []string, idx, fanout int) []string {
	var out []string
	for i, s := range sources {
		if i%fanout == idx {
			out = append(out, s)
		}
	}
	return out
}

// runResearch is the envelope-wrapped body of RunResearch. The request's
// time budget becomes a context deadline around the scheduler so partial
// results survive; the outer envelope only fires if this layer wedges.
func (o *Orchestrator) runResearch(ctx context.Context, correlationID, workflowID string, req ResearchRequest) (ResearchResult, error) {
	key := cache.ResearchKey(req.Question)
	if raw, ok := o.services.Cache.Get(key); ok {
		var cached ResearchResult
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			cached.WorkflowID = workflowID
			cached.Metadata.Cached = true
			return cached, nil
		}
		o.logger.Warn("discarding undecodable research cache entry", "key", key)
	}

	tasks := planResearch(req)

	runCtx := ctx
	if req.TimeBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, secondsToDuration(req.TimeBudget))
		defer cancel()
	}

	start := time.Now()
	out := o.sched.Run(runCtx, tasks)
	elapsed := time.Since(start).Seconds()

	res := assembleResearchResult(workflowID, correlationID, req, tasks, out, elapsed)

	if res.Success {
		if payload, err := json.Marshal(res); err == nil {
			o.services.Cache.Set(key, string(payload), researchCacheTTL)
		}
	}
	return res, nil
}

func assembleResearchResult(workflowID, correlationID string, req ResearchRequest, tasks []*agent.Task, out *agent.Outcome, elapsed float64) ResearchResult {
	res := ResearchResult{
		WorkflowID:      workflowID,
		Success:         out.Success(),
		DetailedResults: make([]TaskResult, 0, len(tasks)),
		Metadata: ResearchMetadata{
			ExecutionTime: elapsed,
			TaskCount:     len(tasks),
			Waves:         out.Waves,
			AgentsUsed:    make([]string, 0, 5),
		},
	}

	seenAgent := make(map[string]bool)
	totalCost := 0.0
	confSum, confN := 0.0, 0
	for _, t := range tasks {
		tr := TaskResult{TaskID: t.ID, Agent: string(t.Agent), Retries: t.RetryCount}
		r, ran := out.Results[t.ID]
		if !ran {
			tr.Error = "task did not run"
			res.DetailedResults = append(res.DetailedResults, tr)
			continue
		}
		if !seenAgent[string(t.Agent)] {
			seenAgent[string(t.Agent)] = true
			res.Metadata.AgentsUsed = append(res.Metadata.AgentsUsed, string(t.Agent))
		}

		tr.Success = r.Success
		tr.Confidence = r.Confidence
		tr.Cost = r.Cost
		tr.Seconds = r.ExecutionTime
		tr.Model = r.ModelUsed
		tr.Error = r.Error
		tr.Text = out.Board.Text(t.ID)
		res.DetailedResults = append(res.DetailedResults, tr)

		totalCost += r.Cost
		if r.Success {
			confSum += r.Confidence
			confN++
		} else {
			res.Errors = append(res.Errors, Failure{
				Code:          classifyTaskError(r.Error),
				Message:       r.Error,
				CorrelationID: correlationID,
			})
		}
	}

	if out.DeadlineExceeded {
		res.Errors = append([]Failure{{
			Code:          CodeDeadline,
			Message:       fmt.Sprintf("research deadline exceeded after %.2fs", elapsed),
			Suggestions:   []string{"raise time_budget", "lower depth_level"},
			CorrelationID: correlationID,
		}}, res.Errors...)
	}
	if out.Stalled {
		res.Errors = append(res.Errors, Failure{
			Code:          CodeInternal,
			Message:       "task graph stalled: unresolved dependencies",
			CorrelationID: correlationID,
		})
	}

	res.ResearchResults = researchNarrative(tasks, out)
	if confN > 0 {
		res.ConfidenceScore = confSum / float64(confN)
	}
	res.Metadata.Cost = totalCost
	if req.CostBudget > 0 && totalCost > req.CostBudget {
		res.Errors = append(res.Errors, Failure{
			Code:          CodeBudget,
			Message:       fmt.Sprintf("research cost %.4f exceeded budget %.4f", totalCost, req.CostBudget),
			Suggestions:   []string{"raise cost_budget", "lower depth_level"},
			CorrelationID: correlationID,
		})
	}
	return res
}

// researchNarrative picks the most refined text available: synthesis, then
// analysis, then the raw research threads.
func researchNarrative(tasks []*agent.Task, out *agent.Outcome) string {
	if t := out.Board.Text("synthesis"); t != "" {
		return t
	}
	if t := out.Board.Text("analysis"); t != "" {
		return t
	}
	var parts []string
	for _, t := range tasks {
		if t.Agent != agent.KindResearch {
			continue
		}
		if text := out.Board.Text(t.ID); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// classifyTaskError maps an agent failure message onto the operation error
// taxonomy. Agent results carry flattened message strings, so this goes by
// the markers the model layer puts in them.
func classifyTaskError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "cancel"):
		return CodeDeadline
	case strings.Contains(lower, "load model") || strings.Contains(lower, "not found"):
		return CodeModelUnavailable
	case strings.Contains(lower, "ollama") || strings.Contains(lower, "connection"):
		return CodeBackendTransport
	default:
		return CodeInternal
	}
}
