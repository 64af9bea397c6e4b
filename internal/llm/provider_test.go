package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexos/internal/config"
	"cortexos/internal/errs"
)

func TestClassifyTransientMarkers(t *testing.T) {
	transient := []error{
		errors.New("429 Too Many Requests"),
		errors.New("googleapi: Error 503: service unavailable"),
		errors.New("RESOURCE_EXHAUSTED: quota exceeded"),
		errors.New("read tcp: connection reset by peer"),
		context.DeadlineExceeded,
	}
	for _, raw := range transient {
		err := Classify("gemini", raw)
		assert.True(t, errs.IsTransient(err), "%v should be transient", raw)
	}

	permanent := []error{
		errors.New("400 invalid request"),
		errors.New("401 unauthorized"),
		errors.New("model not found"),
	}
	for _, raw := range permanent {
		err := Classify("gemini", raw)
		assert.True(t, errs.IsKind(err, errs.KindProvider))
		assert.False(t, errs.IsTransient(err), "%v should be permanent", raw)
	}
}

func TestClassifyNilAndAlreadyClassified(t *testing.T) {
	assert.NoError(t, Classify("gemini", nil))

	orig := &errs.Error{Kind: errs.KindProvider, Subkind: errs.SubTransient, Msg: "x"}
	assert.Same(t, error(orig), Classify("gemini", orig))
}

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Backoff(0))
	assert.Equal(t, 500*time.Millisecond, Backoff(1))
	assert.Equal(t, time.Second, Backoff(2))
}

func TestScriptedReplaysQueueThenFallback(t *testing.T) {
	p := NewScripted(nil)
	p.EnqueueText("first")
	p.EnqueueErr(errors.New("boom"))

	resp, err := p.Complete(context.Background(), Request{Model: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	_, err = p.Complete(context.Background(), Request{Model: "mock"})
	require.Error(t, err)

	// Queue exhausted, default reply.
	resp, err = p.Complete(context.Background(), Request{Model: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 3, p.Calls())
	assert.Len(t, p.Requests(), 3)
}

func TestScriptedStreamConcatenatesToFullContent(t *testing.T) {
	p := NewScripted(nil)
	p.EnqueueText("hello world")

	ch, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)

	var got string
	var usage *Usage
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		got += chunk.Content
		if chunk.Done {
			usage = chunk.Usage
		}
	}
	assert.Equal(t, "hello world", got)
	require.NotNil(t, usage)
	assert.Equal(t, 100, usage.InputTokens)
}

func TestSchemaToGenAIConversion(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "file path"},
			"count": map[string]any{"type": "integer"},
			"mode":  map[string]any{"type": "string", "enum": []any{"read", "write"}},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"path"},
	}

	out := schemaToGenAI(schema)
	require.NotNil(t, out)
	assert.Len(t, out.Properties, 4)
	assert.Equal(t, []string{"path"}, out.Required)
	assert.Equal(t, "file path", out.Properties["path"].Description)
	assert.Equal(t, []string{"read", "write"}, out.Properties["mode"].Enum)
	require.NotNil(t, out.Properties["tags"].Items)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "acme"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))
}

func TestNewGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGemini(config.LLMConfig{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))
}
