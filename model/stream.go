package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anserhq/anser/model/ollama"
)

// Stream is a generation stream with model bookkeeping attached. Statistics
// for the chosen model update once, when the final chunk arrives or the
// stream fails; a stream abandoned before its final chunk records nothing.
type Stream struct {
	Model string

	inner  *ollama.Stream
	mgr    *Manager
	cancel context.CancelFunc
	start  time.Time

	once  sync.Once
	final ollama.Chunk
	text  bool
}

// GenerateStream selects a model if needed, warms it, and opens a streaming
// completion under the manager's call timeout.
func (m *Manager) GenerateStream(ctx context.Context, in GenerateInput) (*Stream, error) {
	name := in.Model
	if name == "" {
		name = m.Select(in.TaskType, in.Quality)
	}
	if err := m.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	start := time.Now()
	inner, err := m.client.GenerateStream(callCtx, ollama.GenerateRequest{
		Model:   name,
		Prompt:  in.Prompt,
		System:  in.System,
		Options: generateOptions(in),
	})
	if err != nil {
		cancel()
		m.observe(name, time.Since(start).Seconds(), false, 0)
		m.metrics.countGeneration(name, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("stream with %s: %w", name, err)
	}
	return &Stream{Model: name, inner: inner, mgr: m, cancel: cancel, start: start}, nil
}

// Recv returns the next chunk from the backend.
func (s *Stream) Recv() (ollama.Chunk, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		s.finish(false, ollama.Chunk{})
		return chunk, err
	}
	if chunk.Text != "" {
		s.text = true
	}
	if chunk.Done {
		s.finish(true, chunk)
	}
	return chunk, nil
}

// Close releases the stream. Safe to call at any point, including after the
// final chunk.
func (s *Stream) Close() error {
	s.cancel()
	return s.inner.Close()
}

// Usage reports the stream's accounting. Valid once the final chunk has been
// received; before that it returns zeros.
func (s *Stream) Usage() (cost float64, promptTokens, outputTokens int) {
	if !s.final.Done {
		return 0, 0, 0
	}
	return s.mgr.pricing.CostFor(s.Model, s.final.PromptEvalCount, s.final.EvalCount),
		s.final.PromptEvalCount, s.final.EvalCount
}

func (s *Stream) finish(success bool, final ollama.Chunk) {
	s.once.Do(func() {
		seconds := time.Since(s.start).Seconds()
		if final.TotalSeconds > 0 {
			seconds = final.TotalSeconds
		}
		s.final = final

		confidence := 0.0
		if success {
			text := ""
			if s.text {
				text = "nonempty"
			}
			confidence = confidenceFor(TierFor(s.Model), text, final.EvalCount)
		}
		s.mgr.observe(s.Model, seconds, success, confidence)
		outcome := "error"
		if success {
			outcome = "success"
		}
		s.mgr.metrics.countGeneration(s.Model, outcome, seconds)
	})
}
