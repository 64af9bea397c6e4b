package events

import (
	"sync"
	"time"
)

// busToStream maps engine-internal bus event names to stream event types.
// Engine code publishes under the internal names; external consumers only
// ever see the fixed stream vocabulary.
var busToStream = map[string]Type{
	"engine.pipeline.start":    TypePipelineStart,
	"engine.pipeline.complete": TypePipelineComplete,
	"engine.pipeline.error":    TypePipelineError,
	"engine.stage.enter":       TypeStageEnter,
	"engine.stage.progress":    TypeStageProgress,
	"engine.stage.exit":        TypeStageExit,
	"agent.chunk":              TypeAgentChunk,
	"agent.tool_call":          TypeAgentToolCall,
	"agent.thinking":           TypeAgentThinking,
	"quality.gate.start":       TypeGateStart,
	"quality.gate.result":      TypeGateResult,
	"memory.recall.result":     TypeMemoryRecall,
	"cost.update":              TypeCostUpdate,
}

// StagePayload is the conventional bus payload for stage and pipeline events.
type StagePayload struct {
	Stage string `json:"stage,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Bridge relays bus events onto a stream controller and emits heartbeats
// while the stream is open.
type Bridge struct {
	mu     sync.Mutex
	unsubs []func()
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewBridge wires bus into stream. heartbeat <= 0 disables the heartbeat
// timer. Call Stop to tear down the subscriptions and the timer.
func NewBridge(bus *Bus, stream *StreamController, heartbeat time.Duration) *Bridge {
	b := &Bridge{stop: make(chan struct{}), done: make(chan struct{})}

	for name, typ := range busToStream {
		typ := typ
		unsub := bus.Subscribe(name, func(payload any) {
			stage := ""
			data := payload
			if sp, ok := payload.(StagePayload); ok {
				stage = sp.Stage
				data = sp.Data
			}
			stream.Emit(typ, stage, data)
		})
		b.unsubs = append(b.unsubs, unsub)
	}

	if heartbeat > 0 {
		b.ticker = time.NewTicker(heartbeat)
		go func() {
			defer close(b.done)
			for {
				select {
				case <-b.stop:
					return
				case t := <-b.ticker.C:
					if stream.Closed() {
						return
					}
					stream.Emit(TypeHeartbeat, "", map[string]any{"at": t.UnixMilli()})
				}
			}
		}()
	} else {
		close(b.done)
	}

	return b
}

// Stop removes the bus subscriptions and stops the heartbeat timer.
// Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.unsubs {
		u()
	}
	b.unsubs = nil
	if b.ticker != nil {
		b.ticker.Stop()
		select {
		case <-b.stop:
		default:
			close(b.stop)
		}
		<-b.done
		b.ticker = nil
	}
}
