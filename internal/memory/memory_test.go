package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := New("", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmbeddingDeterministic(t *testing.T) {
	a := embedText("configure webhook endpoints for the service")
	b := embedText("configure webhook endpoints for the service")
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-9)

	other := embedText("git merge strategies")
	assert.Less(t, cosine(a, other), 0.1)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := embedText("some content")
	decoded := decodeEmbedding(encodeEmbedding(vec))
	assert.Equal(t, vec, decoded)
	assert.Nil(t, decodeEmbedding([]byte{1, 2, 3}))
}

func TestStoreAndRecall(t *testing.T) {
	s := newStore(t, Config{})
	ctx := context.Background()

	stored, err := s.Store(ctx, Entry{
		Type:       TypeSemantic,
		Content:    "configure webhook endpoints for the service",
		Importance: 0.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, 1.0, stored.DecayFactor)

	_, err = s.Store(ctx, Entry{Type: TypeSemantic, Content: "git merge strategies", Importance: 0.5})
	require.NoError(t, err)

	results, err := s.Recall(ctx, "webhook endpoints", TypeSemantic, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, stored.ID, results[0].ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestRecallBumpsAccessStats(t *testing.T) {
	s := newStore(t, Config{})
	ctx := context.Background()

	stored, err := s.Store(ctx, Entry{Content: "remember the build command", Importance: 0.3})
	require.NoError(t, err)

	_, err = s.Recall(ctx, "build command", "", 1)
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.AccessCount)
	assert.True(t, got.AccessedAt.After(stored.CreatedAt.Add(-time.Second)))
}

func TestRecallFiltersByType(t *testing.T) {
	s := newStore(t, Config{})
	ctx := context.Background()

	_, err := s.Store(ctx, Entry{Type: TypeEpisodic, Content: "run summary alpha", Importance: 0.2})
	require.NoError(t, err)
	_, err = s.Store(ctx, Entry{Type: TypeSemantic, Content: "run summary beta", Importance: 0.2})
	require.NoError(t, err)

	results, err := s.Recall(ctx, "run summary", TypeEpisodic, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeEpisodic, results[0].Type)
}

func TestEvictionRespectsProtection(t *testing.T) {
	s := newStore(t, Config{MaxEntries: 3})
	ctx := context.Background()

	protected, err := s.Store(ctx, Entry{Content: "critical invariant", Importance: 0.95})
	require.NoError(t, err)
	weakest, err := s.Store(ctx, Entry{Content: "trivia one", Importance: 0.05})
	require.NoError(t, err)
	_, err = s.Store(ctx, Entry{Content: "trivia two", Importance: 0.40})
	require.NoError(t, err)

	// Fourth insert pushes the store over cap; the lowest-scoring
	// unprotected entry goes, never the protected one.
	_, err = s.Store(ctx, Entry{Content: "trivia three", Importance: 0.40})
	require.NoError(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, ok, err := s.Get(ctx, protected.ID)
	require.NoError(t, err)
	assert.True(t, ok, "protected entry must survive eviction")

	_, ok, err = s.Get(ctx, weakest.ID)
	require.NoError(t, err)
	assert.False(t, ok, "lowest-scoring entry is evicted")
}

func TestEvictionNeverRemovesProtectedEvenOverCap(t *testing.T) {
	s := newStore(t, Config{MaxEntries: 1})
	ctx := context.Background()

	_, err := s.Store(ctx, Entry{Content: "keep me", Importance: 0.95})
	require.NoError(t, err)
	_, err = s.Store(ctx, Entry{Content: "keep me too", Importance: 0.92})
	require.NoError(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "all-protected store may exceed its cap")
}

func TestGetMissing(t *testing.T) {
	s := newStore(t, Config{})
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
