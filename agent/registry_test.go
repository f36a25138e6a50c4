package agent

import (
	"context"
	"testing"

	"github.com/anserhq/anser/graph"
)

func TestRegistry(t *testing.T) {
	noop := func(ctx context.Context, task *Task, board *Blackboard) graph.NodeResult {
		return graph.Succeeded(nil)
	}

	t.Run("register and lookup", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(KindResearch, noop); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if _, ok := r.Lookup(KindResearch); !ok {
			t.Error("Lookup failed for a registered kind")
		}
		if _, ok := r.Lookup(KindCode); ok {
			t.Error("Lookup succeeded for an unregistered kind")
		}
	})

	t.Run("duplicate registration is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(KindResearch, noop); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := r.Register(KindResearch, noop); err == nil {
			t.Error("second Register succeeded, want an error")
		}
	})

	t.Run("nil function is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(KindResearch, nil); err == nil {
			t.Error("Register accepted a nil function")
		}
	})

	t.Run("replace overrides", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(KindResearch, noop); err != nil {
			t.Fatalf("Register: %v", err)
		}
		marker := func(ctx context.Context, task *Task, board *Blackboard) graph.NodeResult {
			return graph.Failed("replaced", false)
		}
		r.Replace(KindResearch, marker)
		fn, _ := r.Lookup(KindResearch)
		if res := fn(context.Background(), NewTask("x", KindResearch, "", ""), NewBlackboard()); res.Error != "replaced" {
			t.Errorf("lookup returned the old function: %+v", res)
		}
	})

	t.Run("kinds are sorted", func(t *testing.T) {
		r := NewRegistry()
		for _, k := range []Kind{KindSynthesis, KindAnalysis, KindCode} {
			if err := r.Register(k, noop); err != nil {
				t.Fatalf("Register(%s): %v", k, err)
			}
		}
		kinds := r.Kinds()
		want := []Kind{KindAnalysis, KindCode, KindSynthesis}
		for i := range want {
			if kinds[i] != want[i] {
				t.Fatalf("Kinds() = %v, want %v", kinds, want)
			}
		}
	})
}
