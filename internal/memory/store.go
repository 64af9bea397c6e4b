// Package memory is the engine's long-lived recall store. Entries live in a
// SQLite database under .cortexos/memory/ with an embedding per entry;
// recall is cosine similarity against a deterministic local embedding, and
// an importance-weighted eviction keeps the store bounded.
package memory

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// Type partitions entries by lifetime and origin.
type Type string

const (
	TypeWorking  Type = "working"  // scratch state for the current run
	TypeSemantic Type = "semantic" // distilled facts about the project
	TypeEpisodic Type = "episodic" // summaries of past runs
)

// Entry is one memory record.
type Entry struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Content     string    `json:"content"`
	Importance  float64   `json:"importance"` // [0, 1]
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
	DecayFactor float64   `json:"decay_factor"`
	Embedding   []float32 `json:"-"`
	Similarity  float64   `json:"-"` // set by Recall
}

// Config tunes capacity and eviction.
type Config struct {
	MaxEntries         int     // default 1000
	ProtectedThreshold float64 // importance at or above this is never evicted
	ImportanceWeight   float64
	RecencyWeight      float64
	FrequencyWeight    float64
}

func (c *Config) fillDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.ProtectedThreshold == 0 {
		c.ProtectedThreshold = 0.9
	}
	if c.ImportanceWeight == 0 && c.RecencyWeight == 0 && c.FrequencyWeight == 0 {
		c.ImportanceWeight = 0.5
		c.RecencyWeight = 0.3
		c.FrequencyWeight = 0.2
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	content      TEXT NOT NULL,
	importance   REAL NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	accessed_at  TIMESTAMP NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	decay_factor REAL NOT NULL DEFAULT 1.0,
	embedding    BLOB
);
CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);
`

// Store is a SQLite-backed memory store. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	cfg Config
}

// New opens the store at <workspace>/.cortexos/memory/memory.sqlite. An
// empty workspace opens an in-memory database (tests, dry runs).
func New(workspace string, cfg Config) (*Store, error) {
	cfg.fillDefaults()

	dsn := ":memory:"
	if workspace != "" {
		dir := filepath.Join(workspace, ".cortexos", "memory")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Wrap(errs.KindMemory, err, "failed to create memory dir")
		}
		dsn = filepath.Join(dir, "memory.sqlite")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindMemory, err, "failed to open memory store")
	}
	// Single writer; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindMemory, err, "failed to apply memory schema")
	}
	logging.MemoryDebug("memory store open at %s (driver=%s)", dsn, driverName)
	return &Store{db: db, cfg: cfg}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Store inserts an entry, filling ID, timestamps and the local embedding
// when absent, and evicts if the store grew past its cap.
func (s *Store) Store(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = TypeWorking
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = now
	}
	if e.DecayFactor == 0 {
		e.DecayFactor = 1.0
	}
	if e.Embedding == nil {
		e.Embedding = embedText(e.Content)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entries
		(id, type, content, importance, created_at, accessed_at, access_count, decay_factor, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Content, e.Importance,
		e.CreatedAt, e.AccessedAt, e.AccessCount, e.DecayFactor,
		encodeEmbedding(e.Embedding))
	if err != nil {
		return Entry{}, errs.Wrap(errs.KindMemory, err, "failed to store entry")
	}

	if err := s.evictLocked(ctx); err != nil {
		logging.MemoryWarn("eviction failed: %v", err)
	}
	return e, nil
}

// Recall returns the entries most similar to the query, best first. An empty
// typ matches all types. Returned entries have their access stats bumped.
func (s *Store) Recall(ctx context.Context, query string, typ Type, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 5
	}
	queryVec := embedText(query)

	entries, err := s.loadLocked(ctx, typ)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Similarity = cosine(queryVec, entries[i].Embedding)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Similarity > entries[b].Similarity
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	now := time.Now()
	for i := range entries {
		entries[i].AccessCount++
		entries[i].AccessedAt = now
		if _, err := s.db.ExecContext(ctx,
			`UPDATE entries SET accessed_at = ?, access_count = access_count + 1 WHERE id = ?`,
			now, entries[i].ID); err != nil {
			logging.MemoryWarn("access bump failed for %s: %v", entries[i].ID, err)
		}
	}

	logging.MemoryDebug("recall %q (type=%s) returned %d entries", query, typ, len(entries))
	return entries, nil
}

// Get fetches one entry by ID without touching access stats.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, content, importance, created_at, accessed_at, access_count, decay_factor, embedding
		FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errs.Wrap(errs.KindMemory, err, "failed to load entry %s", id)
	}
	return e, true, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(ctx)
}

func (s *Store) countLocked(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// evictLocked removes the lowest-scoring entries while the store is over
// capacity. Entries at or above the protected importance threshold are never
// evicted, even if that leaves the store over its cap.
func (s *Store) evictLocked(ctx context.Context) error {
	count, err := s.countLocked(ctx)
	if err != nil || count <= s.cfg.MaxEntries {
		return err
	}

	entries, err := s.loadLocked(ctx, "")
	if err != nil {
		return err
	}

	type scored struct {
		id    string
		score float64
	}
	var victims []scored
	now := time.Now()
	for _, e := range entries {
		if e.Importance >= s.cfg.ProtectedThreshold {
			continue
		}
		victims = append(victims, scored{id: e.ID, score: s.score(e, now)})
	}
	sort.Slice(victims, func(a, b int) bool { return victims[a].score < victims[b].score })

	excess := count - s.cfg.MaxEntries
	for i := 0; i < excess && i < len(victims); i++ {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, victims[i].id); err != nil {
			return err
		}
		logging.MemoryDebug("evicted %s (score %.4f)", victims[i].id, victims[i].score)
	}
	return nil
}

// score weighs importance, recency and access frequency, scaled by decay.
func (s *Store) score(e Entry, now time.Time) float64 {
	recency := 1.0 / (1.0 + now.Sub(e.AccessedAt).Hours())
	frequency := float64(e.AccessCount) / 10.0
	if frequency > 1 {
		frequency = 1
	}
	raw := e.Importance*s.cfg.ImportanceWeight +
		recency*s.cfg.RecencyWeight +
		frequency*s.cfg.FrequencyWeight
	return raw * e.DecayFactor
}

func (s *Store) loadLocked(ctx context.Context, typ Type) ([]Entry, error) {
	q := `SELECT id, type, content, importance, created_at, accessed_at, access_count, decay_factor, embedding
		FROM entries`
	var args []any
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindMemory, err, "failed to load entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, errs.Wrap(errs.KindMemory, err, "failed to scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(scan func(...any) error) (Entry, error) {
	var e Entry
	var typ string
	var blob []byte
	err := scan(&e.ID, &typ, &e.Content, &e.Importance,
		&e.CreatedAt, &e.AccessedAt, &e.AccessCount, &e.DecayFactor, &blob)
	if err != nil {
		return Entry{}, err
	}
	e.Type = Type(typ)
	e.Embedding = decodeEmbedding(blob)
	return e, nil
}
