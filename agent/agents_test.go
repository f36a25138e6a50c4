package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anserhq/anser/model"
)

// fakeGen records generation requests and replies with a canned output.
type fakeGen struct {
	inputs []model.GenerateInput
	out    *model.GenerateOutput
	err    error
}

func (f *fakeGen) Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, &fakeGen{}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	kinds := r.Kinds()
	if len(kinds) != len(roles) {
		t.Fatalf("registered kinds = %d, want %d", len(kinds), len(roles))
	}
	for _, k := range []Kind{KindResearch, KindSynthesis, KindFactCheck, KindCoordination} {
		if _, ok := r.Lookup(k); !ok {
			t.Errorf("kind %s missing", k)
		}
	}
}

func TestModelAgent(t *testing.T) {
	t.Run("maps the generation onto the result", func(t *testing.T) {
		gen := &fakeGen{out: &model.GenerateOutput{
			Model:      "llama2:13b",
			Text:       "the findings",
			Cost:       0.002,
			Confidence: 0.82,
			Seconds:    1.4,
		}}
		r := NewRegistry()
		if err := RegisterBuiltins(r, gen); err != nil {
			t.Fatalf("RegisterBuiltins: %v", err)
		}
		fn, _ := r.Lookup(KindResearch)

		task := NewTask("r1", KindResearch, "research", "dig into goroutine scheduling")
		res := fn(context.Background(), task, NewBlackboard())

		if !res.Success {
			t.Fatalf("result = %+v", res)
		}
		if res.Data["text"] != "the findings" {
			t.Errorf("text = %v", res.Data["text"])
		}
		if res.Cost != 0.002 || res.Confidence != 0.82 || res.ModelUsed != "llama2:13b" {
			t.Errorf("accounting = cost %v confidence %v model %q", res.Cost, res.Confidence, res.ModelUsed)
		}
		if res.ExecutionTime != 1.4 {
			t.Errorf("ExecutionTime = %v, want the generation time", res.ExecutionTime)
		}

		in := gen.inputs[0]
		if in.TaskType != "question" {
			t.Errorf("TaskType = %q, want question for research", in.TaskType)
		}
		if !strings.Contains(in.System, "research agent") {
			t.Errorf("System = %q, want the research role prompt", in.System)
		}
		if !strings.Contains(in.Prompt, "dig into goroutine scheduling") {
			t.Errorf("Prompt = %q, missing the task description", in.Prompt)
		}
	})

	t.Run("generation errors are recoverable failures", func(t *testing.T) {
		gen := &fakeGen{err: errors.New("backend unreachable")}
		r := NewRegistry()
		if err := RegisterBuiltins(r, gen); err != nil {
			t.Fatalf("RegisterBuiltins: %v", err)
		}
		fn, _ := r.Lookup(KindSynthesis)

		res := fn(context.Background(), NewTask("s", KindSynthesis, "synthesis", "combine"), NewBlackboard())
		if res.Success || !res.Recoverable {
			t.Fatalf("result = %+v, want a recoverable failure", res)
		}
		if !strings.Contains(res.Error, "synthesis agent") || !strings.Contains(res.Error, "backend unreachable") {
			t.Errorf("Error = %q", res.Error)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	task := NewTask("synth", KindSynthesis, "synthesis", "Combine the findings.")
	task.Input["audience"] = "engineers"
	task.Input["length"] = 200
	task.After("r2", "r1")

	board := NewBlackboard()
	board.set("r1", map[string]interface{}{"text": "first finding"})
	board.set("r2", map[string]interface{}{"text": "second finding"})

	prompt := buildPrompt(task, board)

	if !strings.HasPrefix(prompt, "Combine the findings.") {
		t.Errorf("prompt does not start with the description: %q", prompt)
	}
	// Input keys render sorted.
	audIdx := strings.Index(prompt, "- audience: engineers")
	lenIdx := strings.Index(prompt, "- length: 200")
	if audIdx < 0 || lenIdx < 0 || audIdx > lenIdx {
		t.Errorf("inputs missing or unsorted:\n%s", prompt)
	}
	// Dependency outputs render sorted by ID.
	r1Idx := strings.Index(prompt, "Result of r1:\nfirst finding")
	r2Idx := strings.Index(prompt, "Result of r2:\nsecond finding")
	if r1Idx < 0 || r2Idx < 0 || r1Idx > r2Idx {
		t.Errorf("dependency outputs missing or unsorted:\n%s", prompt)
	}

	t.Run("missing dependency output is omitted", func(t *testing.T) {
		lone := NewTask("a", KindAnalysis, "analysis", "analyze").After("ghost")
		p := buildPrompt(lone, NewBlackboard())
		if strings.Contains(p, "ghost") {
			t.Errorf("prompt mentions an absent dependency: %q", p)
		}
	})
}
