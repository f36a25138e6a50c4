package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GenerateRequest describes one completion call.
type GenerateRequest struct {
	Model   string
	Prompt  string
	System  string
	Options map[string]interface{} // backend options such as temperature, num_predict
}

type generatePayload struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"` // nanoseconds
	LoadDuration    int64  `json:"load_duration"`
	EvalDuration    int64  `json:"eval_duration"`
	Error           string `json:"error,omitempty"`
}

// GenerateResult is a completed generation. Durations are in seconds.
type GenerateResult struct {
	Text            string
	PromptEvalCount int
	EvalCount       int
	TotalSeconds    float64
	LoadSeconds     float64
	EvalSeconds     float64
}

func nsToSeconds(ns int64) float64 {
	return float64(ns) / float64(time.Second)
}

// Generate runs a unary completion and blocks until the backend finishes.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	payload, err := json.Marshal(generatePayload{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode generate request: %w", err)
	}

	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode generate response: %w", err)
	}
	if out.Error != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	return &GenerateResult{
		Text:            out.Response,
		PromptEvalCount: out.PromptEvalCount,
		EvalCount:       out.EvalCount,
		TotalSeconds:    nsToSeconds(out.TotalDuration),
		LoadSeconds:     nsToSeconds(out.LoadDuration),
		EvalSeconds:     nsToSeconds(out.EvalDuration),
	}, nil
}

// Chunk is one streamed fragment of a generation. The chunk with Done set is
// the last one and carries the token counts and total duration for the whole
// call; earlier chunks carry text only.
type Chunk struct {
	Text            string
	Done            bool
	PromptEvalCount int
	EvalCount       int
	TotalSeconds    float64
}

// Stream delivers generation fragments as the backend produces them. Close
// releases the connection; it is safe to call after Recv has returned io.EOF.
type Stream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

// Recv returns the next chunk. Once the Done chunk has been delivered,
// further calls return io.EOF.
func (s *Stream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	var raw generateResponse
	if err := s.dec.Decode(&raw); err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("ollama: decode stream chunk: %w", err)
	}
	if raw.Error != "" {
		s.done = true
		return Chunk{}, &APIError{Message: raw.Error}
	}
	if raw.Done {
		s.done = true
	}
	return Chunk{
		Text:            raw.Response,
		Done:            raw.Done,
		PromptEvalCount: raw.PromptEvalCount,
		EvalCount:       raw.EvalCount,
		TotalSeconds:    nsToSeconds(raw.TotalDuration),
	}, nil
}

// Close releases the stream's connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// GenerateStream starts a streaming completion. The caller must drain the
// stream until Recv returns a Done chunk or an error, then Close it.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	payload, err := json.Marshal(generatePayload{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  true,
		Options: req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode generate request: %w", err)
	}

	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &Stream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}
