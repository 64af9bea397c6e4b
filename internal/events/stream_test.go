package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStreamSequenceOrder(t *testing.T) {
	s := NewStreamController()
	const n = 200

	for i := 0; i < n; i++ {
		s.Emit(TypeStageProgress, "execute", i)
	}
	s.Close()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		ev, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), ev.Sequence)
		assert.Equal(t, i, ev.Data)
	}
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamPullWhileEmitting(t *testing.T) {
	s := NewStreamController()
	const n = 100

	done := make(chan []uint64)
	go func() {
		var seqs []uint64
		ctx := context.Background()
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				break
			}
			seqs = append(seqs, ev.Sequence)
		}
		done <- seqs
	}()

	for i := 0; i < n; i++ {
		s.Emit(TypeAgentChunk, "", fmt.Sprintf("chunk-%d", i))
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	s.Close()

	seqs := <-done
	require.Len(t, seqs, n, "no gaps, no duplicates")
	for i, seq := range seqs {
		assert.Equal(t, uint64(i), seq)
	}
}

func TestStreamPushSubscribersSeeAllInOrder(t *testing.T) {
	s := NewStreamController()
	var mu sync.Mutex
	var got []uint64
	unsub := s.Subscribe(func(ev StreamEvent) {
		mu.Lock()
		got = append(got, ev.Sequence)
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		s.Emit(TypeCostUpdate, "", i)
	}
	unsub()
	s.Emit(TypeCostUpdate, "", 50) // Not delivered after unsubscribe

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, seq := range got {
		assert.Equal(t, uint64(i), seq)
	}
	s.Close()
}

func TestStreamCloseIdempotentAndEmitAfterCloseDropped(t *testing.T) {
	s := NewStreamController()
	s.Emit(TypeHeartbeat, "", nil)
	s.Close()
	s.Close() // No-op
	s.Emit(TypeHeartbeat, "", nil)

	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ev.Sequence)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamNextRespectsContext(t *testing.T) {
	s := NewStreamController()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFormatSSE(t *testing.T) {
	s := NewStreamController()
	s.Emit(TypeGateResult, "verify", map[string]any{"gate": "lint", "passed": true})
	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	s.Close()

	wire := FormatSSE(ev)
	assert.True(t, strings.HasPrefix(wire, "event: quality:gate_result\nid: 0\ndata: "))
	assert.True(t, strings.HasSuffix(wire, "\n\n"))
	assert.Contains(t, wire, `"lint"`)
}

func TestBusDeliveryOrderAndPanicIsolation(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe("task.done", func(p any) { got = append(got, "a:"+p.(string)) })
	bus.Subscribe("task.done", func(p any) { panic("boom") })
	bus.Subscribe("task.done", func(p any) { got = append(got, "c:"+p.(string)) })

	bus.Publish("task.done", "t1")
	bus.Publish("task.done", "t2")

	assert.Equal(t, []string{"a:t1", "c:t1", "a:t2", "c:t2"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsub := bus.Subscribe("x", func(any) { count++ })
	bus.Publish("x", nil)
	unsub()
	unsub() // Idempotent
	bus.Publish("x", nil)
	assert.Equal(t, 1, count)
}

func TestBridgeMapsAndHeartbeats(t *testing.T) {
	bus := NewBus()
	stream := NewStreamController()
	bridge := NewBridge(bus, stream, 10*time.Millisecond)

	bus.Publish("engine.pipeline.start", StagePayload{Data: "req"})
	bus.Publish("quality.gate.result", StagePayload{Stage: "verify", Data: "lint"})

	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypePipelineStart, ev.Type)

	ev, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeGateResult, ev.Type)
	assert.Equal(t, "verify", ev.Stage)

	// Heartbeat arrives while the stream stays open.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, ev.Type)

	bridge.Stop()
	stream.Close()
}
