package llm

import (
	"context"
	"sync"

	"cortexos/internal/errs"
)

// Scripted is a deterministic in-process provider. It replays a queue of
// canned responses and records every request it sees. Used by tests and by
// the "mock" provider setting for offline dry runs.
type Scripted struct {
	mu        sync.Mutex
	responses []ScriptStep
	requests  []Request
	calls     int

	// Reply is consulted when the queue is exhausted. When nil, exhausted
	// queues return a plain "done" response.
	Reply func(req Request) (*Response, error)
}

// ScriptStep is one canned reply. Err takes precedence over Response.
type ScriptStep struct {
	Response *Response
	Err      error
}

// NewScripted creates a scripted provider with the given reply queue.
func NewScripted(steps []ScriptStep) *Scripted {
	return &Scripted{responses: steps}
}

// Enqueue appends a canned response to the reply queue.
func (s *Scripted) Enqueue(resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptStep{Response: resp})
}

// EnqueueErr appends a canned failure to the reply queue.
func (s *Scripted) EnqueueErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptStep{Err: err})
}

// EnqueueText appends a plain text response with token usage derived from
// the text length.
func (s *Scripted) EnqueueText(text string) {
	s.Enqueue(&Response{
		Content:      text,
		Usage:        Usage{InputTokens: 100, OutputTokens: EstimateTokens(text)},
		FinishReason: FinishStop,
		Model:        "mock",
	})
}

func (s *Scripted) Name() string      { return "mock" }
func (s *Scripted) IsAvailable() bool { return true }

// Calls returns how many Complete calls were made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every request seen, in call order.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Complete pops the next scripted step, or falls back to Reply.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancel, err, "mock call cancelled")
	}

	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	var step *ScriptStep
	if len(s.responses) > 0 {
		step = &s.responses[0]
		s.responses = s.responses[1:]
	}
	reply := s.Reply
	s.mu.Unlock()

	if step != nil {
		if step.Err != nil {
			return nil, step.Err
		}
		return step.Response, nil
	}
	if reply != nil {
		return reply(req)
	}
	return &Response{
		Content:      "done",
		Usage:        Usage{InputTokens: 10, OutputTokens: 1},
		FinishReason: FinishStop,
		Model:        "mock",
	}, nil
}

// Stream replays the next scripted response as a short chunk sequence.
func (s *Scripted) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := s.Complete(ctx, req)
	out := make(chan Chunk, 4)
	go func() {
		defer close(out)
		if err != nil {
			out <- Chunk{Err: err}
			return
		}
		// Split content roughly in half to exercise multi-chunk consumers.
		text := resp.Content
		if len(text) > 1 {
			mid := len(text) / 2
			out <- Chunk{Content: text[:mid]}
			out <- Chunk{Content: text[mid:]}
		} else if text != "" {
			out <- Chunk{Content: text}
		}
		usage := resp.Usage
		out <- Chunk{Done: true, Usage: &usage}
	}()
	return out, nil
}
