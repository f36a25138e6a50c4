package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/model"
)

// Generator is the slice of the model manager the built-in agents need.
type Generator interface {
	Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error)
}

// role describes how one built-in agent talks to the model manager.
type role struct {
	system   string
	taskType string
	quality  graph.Quality
}

var roles = map[Kind]role{
	KindPlanning: {
		system:   "You are a planning agent. Break the objective into concrete, ordered steps and state any assumptions.",
		taskType: "analysis",
		quality:  graph.QualityHigh,
	},
	KindResearch: {
		system:   "You are a research agent. Gather the key facts for the question and be explicit about uncertainty.",
		taskType: "question",
		quality:  graph.QualityBalanced,
	},
	KindAnalysis: {
		system:   "You are an analysis agent. Examine the collected material, identify patterns, and draw supported conclusions.",
		taskType: "analysis",
		quality:  graph.QualityHigh,
	},
	KindSynthesis: {
		system:   "You are a synthesis agent. Combine the inputs into one coherent, well-structured answer.",
		taskType: "analysis",
		quality:  graph.QualityHigh,
	},
	KindFactCheck: {
		system:   "You are a fact-checking agent. Verify the claims against the supplied material and flag anything unsupported.",
		taskType: "question",
		quality:  graph.QualityBalanced,
	},
	KindCode: {
		system:   "You are a coding agent. Produce working, idiomatic code with a short explanation.",
		taskType: "code",
		quality:  graph.QualityHigh,
	},
	KindCreative: {
		system:   "You are a creative agent. Write engaging, original prose for the brief.",
		taskType: "creative",
		quality:  graph.QualityBalanced,
	},
	KindCoordination: {
		system:   "You are a coordination agent. Reconcile the inputs and decide what happens next.",
		taskType: "request",
		quality:  graph.QualityBalanced,
	},
}

// RegisterBuiltins wires the standard agent roles over gen.
func RegisterBuiltins(r *Registry, gen Generator) error {
	for kind, ro := range roles {
		if err := r.Register(kind, modelAgent(gen, ro)); err != nil {
			return err
		}
	}
	return nil
}

// modelAgent is the generic model-backed agent for one role. Generation
// failures are recoverable so the scheduler retries them.
func modelAgent(gen Generator, ro role) Func {
	return func(ctx context.Context, t *Task, board *Blackboard) graph.NodeResult {
		out, err := gen.Generate(ctx, model.GenerateInput{
			TaskType: ro.taskType,
			Quality:  ro.quality,
			Prompt:   buildPrompt(t, board),
			System:   ro.system,
		})
		if err != nil {
			return graph.Failed(fmt.Sprintf("%s agent: %v", t.Agent, err), true)
		}

		res := graph.Succeeded(map[string]interface{}{
			"text":      out.Text,
			"task_kind": t.TaskKind,
		})
		res.Cost = out.Cost
		res.Confidence = out.Confidence
		res.ExecutionTime = out.Seconds
		res.ModelUsed = out.Model
		return res
	}
}

// buildPrompt renders the task description, its input bag, and the outputs of
// its completed dependencies into one prompt. Keys and dependencies are
// sorted so the prompt is stable across runs.
func buildPrompt(t *Task, board *Blackboard) string {
	var b strings.Builder
	b.WriteString(t.Description)

	if len(t.Input) > 0 {
		keys := make([]string, 0, len(t.Input))
		for k := range t.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nInputs:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, t.Input[k])
		}
	}

	deps := append([]string(nil), t.Dependencies...)
	sort.Strings(deps)
	for _, dep := range deps {
		if text := board.Text(dep); text != "" {
			fmt.Fprintf(&b, "\n\nResult of %s:\n%s", dep, text)
		}
	}
	return b.String()
}
