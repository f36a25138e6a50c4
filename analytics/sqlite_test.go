package analytics

import (
	"context"
	"testing"
	"time"
)

func newTestSQLiteSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		sink := newTestSQLiteSink(t)

		want := Event{
			ID:         "ev-1",
			Operation:  "chat",
			SessionID:  "sess-9",
			QueryHash:  "deadbeef",
			Quality:    "balanced",
			Cost:       0.025,
			Seconds:    1.75,
			Models:     []string{"llama2:7b-chat", "phi:2.7b"},
			Confidence: 0.85,
			Status:     "success",
			Cached:     true,
			CreatedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		}
		if err := sink.Write(ctx, want); err != nil {
			t.Fatalf("Write: %v", err)
		}

		events, err := sink.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		got := events[0]
		if got.ID != want.ID || got.Operation != want.Operation || got.SessionID != want.SessionID {
			t.Errorf("identity fields = %+v", got)
		}
		if got.Cost != want.Cost || got.Seconds != want.Seconds || got.Confidence != want.Confidence {
			t.Errorf("numeric fields = %+v", got)
		}
		if len(got.Models) != 2 || got.Models[0] != "llama2:7b-chat" {
			t.Errorf("Models = %v", got.Models)
		}
		if !got.Cached {
			t.Error("Cached flag lost")
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
	})

	t.Run("redelivery upserts", func(t *testing.T) {
		sink := newTestSQLiteSink(t)

		ev := Event{ID: "ev-dup", Operation: "search", QueryHash: "h", Status: "partial", CreatedAt: time.Now().UTC()}
		if err := sink.Write(ctx, ev); err != nil {
			t.Fatalf("first Write: %v", err)
		}
		ev.Status = "success"
		ev.Cost = 0.5
		if err := sink.Write(ctx, ev); err != nil {
			t.Fatalf("second Write: %v", err)
		}

		events, err := sink.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Status != "success" || events[0].Cost != 0.5 {
			t.Errorf("upsert did not apply: %+v", events[0])
		}
	})

	t.Run("recent orders newest first and honors limit", func(t *testing.T) {
		sink := newTestSQLiteSink(t)

		base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
		for i, id := range []string{"old", "mid", "new"} {
			ev := Event{ID: id, Operation: "chat", QueryHash: "h", Status: "success", CreatedAt: base.Add(time.Duration(i) * time.Second)}
			if err := sink.Write(ctx, ev); err != nil {
				t.Fatalf("Write %s: %v", id, err)
			}
		}

		events, err := sink.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		if events[0].ID != "new" || events[1].ID != "mid" {
			t.Errorf("order = [%s, %s], want [new, mid]", events[0].ID, events[1].ID)
		}
	})

	t.Run("closed sink rejects operations", func(t *testing.T) {
		sink := newTestSQLiteSink(t)
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := sink.Write(ctx, Event{ID: "x", CreatedAt: time.Now()}); err == nil {
			t.Error("expected write to closed sink to fail")
		}
		if _, err := sink.Recent(ctx, 1); err == nil {
			t.Error("expected read from closed sink to fail")
		}
		if err := sink.Close(); err != nil {
			t.Errorf("double close: %v", err)
		}
	})

	t.Run("drains from a recorder", func(t *testing.T) {
		sink := newTestSQLiteSink(t)
		r := NewRecorder(sink)
		for i := 0; i < 5; i++ {
			r.Record(Event{Operation: "research", QueryHash: "h", Status: "success"})
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			events, err := sink.Recent(ctx, 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(events) == 5 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("only %d events drained", len(events))
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}
