package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cortexos/internal/logging"
)

// Type enumerates the stream event types exposed to external consumers.
type Type string

const (
	TypePipelineStart    Type = "pipeline:start"
	TypePipelineComplete Type = "pipeline:complete"
	TypePipelineError    Type = "pipeline:error"
	TypeStageEnter       Type = "stage:enter"
	TypeStageProgress    Type = "stage:progress"
	TypeStageExit        Type = "stage:exit"
	TypeAgentChunk       Type = "agent:chunk"
	TypeAgentToolCall    Type = "agent:tool_call"
	TypeAgentThinking    Type = "agent:thinking"
	TypeGateStart        Type = "quality:gate_start"
	TypeGateResult       Type = "quality:gate_result"
	TypeMemoryRecall     Type = "memory:recall_result"
	TypeCostUpdate       Type = "cost:update"
	TypeHeartbeat        Type = "heartbeat"
)

// StreamEvent is one sequenced event on a stream.
type StreamEvent struct {
	Type      Type      `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// StreamController turns emitted events into an ordered sequence with both
// push (subscribe) and pull (Next) interfaces. Sequence numbers are monotonic
// from 0; events are never dropped, reordered or duplicated. When a pull
// consumer is waiting, a new event is handed to it directly; otherwise it is
// buffered.
type StreamController struct {
	mu      sync.Mutex
	seq     uint64
	buffer  []StreamEvent
	waiters []chan StreamEvent
	subs    map[int]func(StreamEvent)
	nextSub int
	closed  bool
}

// NewStreamController creates an open stream controller.
func NewStreamController() *StreamController {
	return &StreamController{subs: make(map[int]func(StreamEvent))}
}

// Emit appends an event to the stream. Emitting on a closed controller is
// silently dropped.
func (s *StreamController) Emit(typ Type, stage string, data any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ev := StreamEvent{
		Type:      typ,
		Stage:     stage,
		Data:      data,
		Timestamp: time.Now(),
		Sequence:  s.seq,
	}
	s.seq++

	// Hand directly to the oldest waiting pull consumer, if any.
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w <- ev
	} else {
		s.buffer = append(s.buffer, ev)
	}

	fns := make([]func(StreamEvent), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sortInts(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.StreamWarn("stream subscriber panicked: %v", r)
				}
			}()
			fn(ev)
		}()
	}
}

// Subscribe registers a push callback and returns an unsubscribe handle.
func (s *StreamController) Subscribe(fn func(StreamEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// ErrStreamClosed is returned by Next once the stream is closed and drained.
var ErrStreamClosed = fmt.Errorf("stream closed")

// Next returns the next event in sequence order, blocking until one is
// available, ctx is done, or the stream is closed and drained.
func (s *StreamController) Next(ctx context.Context) (StreamEvent, error) {
	s.mu.Lock()
	if len(s.buffer) > 0 {
		ev := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.mu.Unlock()
		return ev, nil
	}
	if s.closed {
		s.mu.Unlock()
		return StreamEvent{}, ErrStreamClosed
	}
	w := make(chan StreamEvent, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case ev, ok := <-w:
		if !ok {
			return StreamEvent{}, ErrStreamClosed
		}
		return ev, nil
	case <-ctx.Done():
		s.removeWaiter(w)
		return StreamEvent{}, ctx.Err()
	}
}

func (s *StreamController) removeWaiter(w chan StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cand := range s.waiters {
		if cand == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	// The waiter may have been satisfied concurrently; drain so the event is
	// not lost out of order.
	select {
	case ev := <-w:
		s.buffer = append([]StreamEvent{ev}, s.buffer...)
	default:
	}
}

// Close terminates the stream. Buffered events remain pullable; waiting pull
// consumers are released. Close on an already-closed controller is a no-op.
func (s *StreamController) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

// Closed reports whether the stream has been closed.
func (s *StreamController) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FormatSSE renders an event in Server-Sent Events wire form:
// event:<type>\nid:<seq>\ndata:<json>\n\n.
func FormatSSE(ev StreamEvent) string {
	payload := map[string]any{
		"stage":     ev.Stage,
		"data":      ev.Data,
		"timestamp": ev.Timestamp.UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", ev.Type, ev.Sequence, data)
}
