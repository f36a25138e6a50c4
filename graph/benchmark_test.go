package graph_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/anserhq/anser/graph"
)

// benchEngine wires start -> mids... -> end and compiles, failing the
// benchmark on any builder error.
func benchEngine(b *testing.B, mids ...graph.Node) *graph.Engine {
	b.Helper()
	e := graph.New("bench", graph.WithMaxPathLength(len(mids)+10))
	nodes := append([]graph.Node{startNode()}, mids...)
	nodes = append(nodes, endNode())
	for _, n := range nodes {
		if err := e.AddNode(n); err != nil {
			b.Fatalf("AddNode(%s): %v", n.Name(), err)
		}
	}
	for i := 0; i < len(nodes)-1; i++ {
		if err := e.AddEdge(nodes[i].Name(), nodes[i+1].Name()); err != nil {
			b.Fatalf("AddEdge: %v", err)
		}
	}
	if err := e.Compile(); err != nil {
		b.Fatalf("Compile: %v", err)
	}
	return e
}

func noopNode(name string) graph.Node {
	return graph.NewNode(name, graph.KindProcessing, func(_ context.Context, _ *graph.State) graph.NodeResult {
		return graph.Succeeded(nil)
	})
}

// BenchmarkRunShortPath measures per-run overhead on the smallest useful
// graph: start, one processing node, end.
func BenchmarkRunShortPath(b *testing.B) {
	e := benchEngine(b, noopNode("work"))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := graph.NewState(graph.StateParams{RequestID: fmt.Sprintf("bench-%d", i), Query: "q", Budget: 1})
		if _, err := e.Run(ctx, s); err != nil {
			b.Fatalf("Run: %v", err)
		}
	}
}

// BenchmarkRunLongPath measures per-step overhead on a ten node chain, which
// is about the depth of the deepest production graph.
func BenchmarkRunLongPath(b *testing.B) {
	mids := make([]graph.Node, 10)
	for i := range mids {
		mids[i] = noopNode(fmt.Sprintf("step%d", i))
	}
	e := benchEngine(b, mids...)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := graph.NewState(graph.StateParams{RequestID: fmt.Sprintf("bench-%d", i), Query: "q", Budget: 1})
		if _, err := e.Run(ctx, s); err != nil {
			b.Fatalf("Run: %v", err)
		}
	}
}

// BenchmarkRunConditionalRouting measures the decision edge path, which adds
// a predicate call and branch lookup per hop.
func BenchmarkRunConditionalRouting(b *testing.B) {
	e := graph.New("bench-routing")
	decide := graph.NewNode("decide", graph.KindDecision, func(_ context.Context, _ *graph.State) graph.NodeResult {
		return graph.Succeeded(nil)
	})
	for _, n := range []graph.Node{startNode(), decide, noopNode("left"), noopNode("right"), endNode()} {
		if err := e.AddNode(n); err != nil {
			b.Fatalf("AddNode: %v", err)
		}
	}
	if err := e.AddEdge("start", "decide"); err != nil {
		b.Fatalf("AddEdge: %v", err)
	}
	err := e.AddConditionalEdge("decide", func(s *graph.State) string {
		if len(s.Query)%2 == 0 {
			return "even"
		}
		return "odd"
	}, map[string]string{"even": "left", "odd": "right"})
	if err != nil {
		b.Fatalf("AddConditionalEdge: %v", err)
	}
	for _, from := range []string{"left", "right"} {
		if err := e.AddEdge(from, "end"); err != nil {
			b.Fatalf("AddEdge: %v", err)
		}
	}
	if err := e.Compile(); err != nil {
		b.Fatalf("Compile: %v", err)
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := graph.NewState(graph.StateParams{RequestID: fmt.Sprintf("bench-%d", i), Query: "qq", Budget: 1})
		if _, err := e.Run(ctx, s); err != nil {
			b.Fatalf("Run: %v", err)
		}
	}
}

// BenchmarkStateAccounting isolates the cost of the per-node accounting
// writes a realistic node performs.
func BenchmarkStateAccounting(b *testing.B) {
	s := graph.NewState(graph.StateParams{RequestID: "bench", Query: "q", Budget: 100})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.AddCost("respond", 0.0001)
		s.SetConfidence("respond", 0.9)
		s.RecordModel("llama2:7b-chat")
		s.SetIntermediate("k", i)
	}
}
