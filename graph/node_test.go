package graph_test

import (
	"context"
	"testing"

	"github.com/anserhq/anser/graph"
)

func TestNewNode(t *testing.T) {
	n := graph.NewNode("classify", graph.KindProcessing, func(_ context.Context, s *graph.State) graph.NodeResult {
		return graph.Succeeded(map[string]interface{}{"intent": string(graph.IntentQuestion)})
	})

	if n.Name() != "classify" {
		t.Errorf("Name = %q, want classify", n.Name())
	}
	if n.Kind() != graph.KindProcessing {
		t.Errorf("Kind = %q, want %q", n.Kind(), graph.KindProcessing)
	}

	res := n.Execute(context.Background(), graph.NewState(graph.StateParams{}))
	if !res.Success {
		t.Fatal("Execute returned failure")
	}
	if res.Data["intent"] != "question" {
		t.Errorf("Data[intent] = %v, want question", res.Data["intent"])
	}
}

func TestResultHelpers(t *testing.T) {
	ok := graph.Succeeded(nil)
	if !ok.Success || ok.Error != "" {
		t.Errorf("Succeeded() = %+v, want success with no error", ok)
	}

	soft := graph.Failed("cache miss", true)
	if soft.Success || !soft.Recoverable || soft.Error != "cache miss" {
		t.Errorf("Failed(recoverable) = %+v", soft)
	}

	hard := graph.Failed("budget exhausted", false)
	if hard.Recoverable {
		t.Error("fatal failure marked recoverable")
	}
}
